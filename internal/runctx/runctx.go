package runctx

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// Context identifies one CLI run and the directory its exports go to.
type Context struct {
	RunID        string
	StartedAtUTC time.Time
	OutputDir    string
}

// New creates <baseDir>/run_<id>. An empty baseDir disables exports and
// returns a Context without OutputDir.
func New(fs afero.Fs, baseDir string, now time.Time) (*Context, error) {
	now = now.UTC()
	rc := &Context{
		RunID:        now.Format("20060102_150405"),
		StartedAtUTC: now,
	}
	if baseDir == "" {
		return rc, nil
	}

	rc.OutputDir = filepath.Join(baseDir, fmt.Sprintf("run_%s", rc.RunID))
	if err := fs.MkdirAll(rc.OutputDir, 0o755); err != nil {
		return nil, err
	}
	return rc, nil
}
