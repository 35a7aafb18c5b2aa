package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
)

const sample = `
log_level: debug
format: json
timeout: 10s
servers:
  stun_url: stun:stun.l.google.com:19302
  turn_url: turn:turn.example.org:3478
  turn_username: alice
  turn_credential: s3cret
http:
  listen: 127.0.0.1:9000
  retention: 5m
redis:
  addr: 127.0.0.1:6379
  prefix: iceprobe
`

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/etc/probe.yaml", []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Load(fs, "/etc/probe.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.LogLevel != "debug" || f.Format != "json" {
		t.Fatalf("logging = %+v", f)
	}
	if f.Timeout != 10*time.Second || f.HTTP.Retention != 5*time.Minute {
		t.Fatalf("durations = %s %s", f.Timeout, f.HTTP.Retention)
	}
	if !f.Servers.HasTURN() || f.Servers.TurnUsername != "alice" {
		t.Fatalf("servers = %+v", f.Servers)
	}
	if f.Redis.Addr != "127.0.0.1:6379" || f.Redis.Prefix != "iceprobe" {
		t.Fatalf("redis = %+v", f.Redis)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(afero.NewMemMapFs(), "nope.yaml"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_Invalid(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "bad.yaml", []byte("timeout: [1, 2"), 0o644)
	_, err := Load(fs, "bad.yaml")
	if err == nil || !strings.Contains(err.Error(), "bad.yaml") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoad_NegativeDuration(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "neg.yaml", []byte("timeout: -1s\n"), 0o644)
	if _, err := Load(fs, "neg.yaml"); err == nil {
		t.Fatalf("expected error")
	}
}
