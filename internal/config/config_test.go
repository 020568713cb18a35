package config

import (
	"os"
	"testing"
	"time"

	"github.com/wlvh/PySymphony/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "pysymphony*.toml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
entry = "src/main.py"
root = "src"
output = "dist/bundle.py"

[audit]
enabled = true

[exclude]
dirs = [".git", "__pycache__"]
files = ["*_test.py"]

[watch]
debounce = "1s"
merges_per_second = 4.0

[history]
path = ".pysymphony/history.db"

[observability]
listen = ":9188"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Entry != "src/main.py" {
		t.Errorf("Entry = %q", cfg.Entry)
	}
	if cfg.Root != "src" {
		t.Errorf("Root = %q", cfg.Root)
	}
	if cfg.Output != "dist/bundle.py" {
		t.Errorf("Output = %q", cfg.Output)
	}
	if !cfg.Audit.Enabled {
		t.Error("Audit.Enabled = false")
	}
	if cfg.Watch.Debounce != time.Second {
		t.Errorf("Debounce = %v", cfg.Watch.Debounce)
	}
	if cfg.Watch.MergesPerSecond != 4.0 {
		t.Errorf("MergesPerSecond = %v", cfg.Watch.MergesPerSecond)
	}
	if cfg.History.Path != ".pysymphony/history.db" {
		t.Errorf("History.Path = %q", cfg.History.Path)
	}
	if cfg.Observability.Listen != ":9188" {
		t.Errorf("Observability.Listen = %q", cfg.Observability.Listen)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `entry = "app/main.py"`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Root != "app" {
		t.Errorf("expected root derived from entry, got %q", cfg.Root)
	}
	if cfg.Output != "bundle.py" {
		t.Errorf("Output = %q", cfg.Output)
	}
	if cfg.Watch.Debounce != 500*time.Millisecond {
		t.Errorf("Debounce = %v", cfg.Watch.Debounce)
	}
	if len(cfg.Exclude.Dirs) == 0 {
		t.Error("expected default exclude dirs")
	}
}

func TestLoadMissingEntry(t *testing.T) {
	_, err := Load(writeConfig(t, `output = "bundle.py"`))
	if !errors.IsCode(err, errors.CodeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load("nonexistent.toml"); !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}
	if _, err := Load(writeConfig(t, "bad = toml = format")); !errors.IsCode(err, errors.CodeValidation) {
		t.Errorf("expected validation error for malformed TOML, got %v", err)
	}
}
