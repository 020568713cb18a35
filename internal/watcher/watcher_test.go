package watcher

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T, onChange func([]string)) *Watcher {
	t.Helper()
	w, err := New(Options{
		Debounce:     100 * time.Millisecond,
		RebuildsPerS: 100,
		ExcludeDirs:  []string{"__pycache__"},
		ExcludeFiles: []string{"*_scratch.py"},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), onChange)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestWatcherReportsPythonChanges(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "pysymphony-watch")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	changed := make(chan []string, 4)
	w := newTestWatcher(t, func(paths []string) { changed <- paths })
	if err := w.Watch(tmpDir); err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(tmpDir, "main.py")
	if err := os.WriteFile(target, []byte("x = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case paths := <-changed:
		found := false
		for _, p := range paths {
			if p == target {
				found = true
			}
		}
		if !found {
			t.Errorf("expected %s in changed files %v", target, paths)
		}
	case <-time.After(2 * time.Second):
		t.Error("timed out waiting for change event")
	}
}

func TestWatcherIgnoresNonPythonAndExcluded(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "pysymphony-watch")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	changed := make(chan []string, 4)
	w := newTestWatcher(t, func(paths []string) { changed <- paths })
	if err := w.Watch(tmpDir); err != nil {
		t.Fatal(err)
	}

	os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte("hi"), 0644)
	os.WriteFile(filepath.Join(tmpDir, "demo_scratch.py"), []byte("y = 2\n"), 0644)

	select {
	case paths := <-changed:
		t.Errorf("unexpected change event for %v", paths)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "pysymphony-watch")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	changed := make(chan []string, 4)
	w := newTestWatcher(t, func(paths []string) { changed <- paths })
	if err := w.Watch(tmpDir); err != nil {
		t.Fatal(err)
	}

	subdir := filepath.Join(tmpDir, "pkg")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(subdir, "calc.py")
	if err := os.WriteFile(nested, []byte("def f():\n    return 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case paths := <-changed:
			for _, p := range paths {
				if p == nested {
					return
				}
			}
		case <-timeout:
			t.Fatal("timed out waiting for event in newly created directory")
		}
	}
}

func TestWatcherSkipsExcludedDirectories(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "pysymphony-watch")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	cache := filepath.Join(tmpDir, "__pycache__")
	if err := os.MkdirAll(cache, 0755); err != nil {
		t.Fatal(err)
	}

	changed := make(chan []string, 4)
	w := newTestWatcher(t, func(paths []string) { changed <- paths })
	if err := w.Watch(tmpDir); err != nil {
		t.Fatal(err)
	}

	os.WriteFile(filepath.Join(cache, "cached.py"), []byte("z = 3\n"), 0644)

	select {
	case paths := <-changed:
		t.Errorf("unexpected change event for excluded directory: %v", paths)
	case <-time.After(400 * time.Millisecond):
	}
}
