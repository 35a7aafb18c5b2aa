package runctx

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestNew_CreatesRunDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	at := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)

	rc, err := New(fs, "exports", at)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if rc.RunID != "20261019_083000" {
		t.Fatalf("run id = %s", rc.RunID)
	}
	want := filepath.Join("exports", "run_20261019_083000")
	if rc.OutputDir != want {
		t.Fatalf("dir = %s", rc.OutputDir)
	}
	if ok, _ := afero.DirExists(fs, want); !ok {
		t.Fatalf("directory not created")
	}
}

func TestNew_EmptyBaseDisablesExports(t *testing.T) {
	rc, err := New(afero.NewMemMapFs(), "", time.Now())
	if err != nil || rc.OutputDir != "" {
		t.Fatalf("rc=%+v err=%v", rc, err)
	}
}
