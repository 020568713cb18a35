package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlvh/PySymphony/internal/config"
	"github.com/wlvh/PySymphony/internal/history"
)

func createTestProject(t *testing.T, tmpDir string) string {
	helpers := `def greet(name):
    return 'hello ' + name
`
	err := os.WriteFile(filepath.Join(tmpDir, "helpers.py"), []byte(helpers), 0644)
	require.NoError(t, err)

	main := `from helpers import greet

print(greet('world'))
`
	entry := filepath.Join(tmpDir, "main.py")
	err = os.WriteFile(entry, []byte(main), 0644)
	require.NoError(t, err)
	return entry
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := NewApp(cfg, log)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

func TestRunOnceWritesBundle(t *testing.T) {
	tmpDir := t.TempDir()
	entry := createTestProject(t, tmpDir)

	cfg := config.Default(entry)
	cfg.Output = filepath.Join(tmpDir, "bundle.py")
	cfg.Audit.Enabled = true

	app := newTestApp(t, cfg)
	result := app.RunOnce(context.Background())
	require.NoError(t, result.Err)

	assert.Equal(t, 2, result.Stats.Modules)
	require.NotNil(t, result.Report)
	assert.True(t, result.Report.Clean())

	data, err := os.ReadFile(cfg.Output)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "def greet(name):")
	assert.Contains(t, text, "print(greet('world'))")
	assert.NotContains(t, text, "from helpers import")
	assert.Equal(t, len(data), result.Bytes)
}

func TestRunOnceRecordsHistory(t *testing.T) {
	tmpDir := t.TempDir()
	entry := createTestProject(t, tmpDir)

	cfg := config.Default(entry)
	cfg.Output = filepath.Join(tmpDir, "bundle.py")
	cfg.History.Path = filepath.Join(tmpDir, "runs.db")

	app := newTestApp(t, cfg)
	result := app.RunOnce(context.Background())
	require.NoError(t, result.Err)

	store, err := history.Open(cfg.History.Path)
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.RecentRuns(entry, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, history.StatusOK, runs[0].Status)
	assert.Equal(t, result.Stats.Modules, runs[0].ModuleCount)
	assert.Equal(t, result.Bytes, runs[0].BundleBytes)
}

func TestRunOnceReportsMergeError(t *testing.T) {
	tmpDir := t.TempDir()
	entry := filepath.Join(tmpDir, "main.py")
	err := os.WriteFile(entry, []byte("from lib import *\n"), 0644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(tmpDir, "lib.py"), []byte("x = 1\n"), 0644)
	require.NoError(t, err)

	cfg := config.Default(entry)
	cfg.Output = filepath.Join(tmpDir, "bundle.py")

	app := newTestApp(t, cfg)
	result := app.RunOnce(context.Background())
	require.Error(t, result.Err)

	_, statErr := os.Stat(cfg.Output)
	assert.True(t, os.IsNotExist(statErr), "bundle must not be written on failure")
}

func TestRunOnceStdoutOutput(t *testing.T) {
	tmpDir := t.TempDir()
	entry := createTestProject(t, tmpDir)

	cfg := config.Default(entry)
	cfg.Output = "-"

	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	app := newTestApp(t, cfg)
	result := app.RunOnce(context.Background())

	w.Close()
	os.Stdout = old
	out, err := io.ReadAll(r)
	require.NoError(t, err)

	require.NoError(t, result.Err)
	assert.True(t, strings.Contains(string(out), "def greet(name):"))
}
