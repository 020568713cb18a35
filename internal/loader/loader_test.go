package loader

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/wlvh/PySymphony/internal/errors"
	"github.com/wlvh/PySymphony/internal/parser"
	"github.com/wlvh/PySymphony/internal/scope"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeProject lays out files (relative path -> source) under a temp
// root and returns it.
func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root, err := os.MkdirTemp("", "pysymphony-loader-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(root) })
	for rel, src := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(src), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return root
}

func newLoader(root string) *Loader {
	return New(root, parser.New(parser.NewGrammar()), scope.NewTable(), testLogger())
}

func TestLoadModuleMemoized(t *testing.T) {
	root := writeProject(t, map[string]string{
		"util.py": "def helper():\n    return 1\n",
	})
	l := newLoader(root)
	first, err := l.LoadModule(filepath.Join(root, "util.py"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	second, err := l.LoadModule(filepath.Join(root, "util.py"))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if first != second {
		t.Error("second load should return the memoized record")
	}
	if first.QName != "util" {
		t.Errorf("qname = %q", first.QName)
	}
}

func TestRecursiveLoadThroughImports(t *testing.T) {
	root := writeProject(t, map[string]string{
		"main.py":  "from helpers import add\n\nprint(add(1, 2))\n",
		"helpers.py": "def add(a, b):\n    return a + b\n",
	})
	l := newLoader(root)
	if _, err := l.LoadModule(filepath.Join(root, "main.py")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := l.ByQName("helpers"); !ok {
		t.Error("imported module was not loaded")
	}
	if len(l.Modules()) != 2 {
		t.Errorf("modules loaded = %d", len(l.Modules()))
	}
}

func TestImportCycleTerminates(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.py": "import b\n\ndef fa():\n    return b.fb()\n",
		"b.py": "import a\n\ndef fb():\n    return a.fa()\n",
	})
	l := newLoader(root)
	if _, err := l.LoadModule(filepath.Join(root, "a.py")); err != nil {
		t.Fatalf("cyclic import load: %v", err)
	}
	if len(l.Modules()) != 2 {
		t.Errorf("modules loaded = %d", len(l.Modules()))
	}
}

func TestPackageResolution(t *testing.T) {
	root := writeProject(t, map[string]string{
		"main.py":            "import pkg\nimport pkg.sub\n",
		"pkg/__init__.py":    "version = 1\n",
		"pkg/sub/__init__.py": "name = \"sub\"\n",
	})
	l := newLoader(root)
	if _, err := l.LoadModule(filepath.Join(root, "main.py")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := l.ByQName("pkg"); !ok {
		t.Error("pkg/__init__.py should load as module pkg")
	}
	if _, ok := l.ByQName("pkg.sub"); !ok {
		t.Error("pkg/sub/__init__.py should load as module pkg.sub")
	}
}

func TestFromImportPrefersSubmodule(t *testing.T) {
	root := writeProject(t, map[string]string{
		"main.py":         "from pkg import mod\n",
		"pkg/__init__.py": "",
		"pkg/mod.py":      "x = 1\n",
	})
	l := newLoader(root)
	m, err := l.LoadModule(filepath.Join(root, "main.py"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	table := l.Table()
	id, ok := table.LookupLocal(m.Scope, "mod")
	if !ok {
		t.Fatal("alias mod not declared")
	}
	sym := table.Symbol(id)
	if sym.Import.Module != "pkg.mod" || sym.Import.Symbol != "" {
		t.Errorf("alias target = %+v, want module pkg.mod", sym.Import)
	}
}

func TestRelativeImports(t *testing.T) {
	root := writeProject(t, map[string]string{
		"pkg/__init__.py":     "",
		"pkg/inner.py":        "from . import sibling\nfrom ..top import thing\n",
		"pkg/sibling.py":      "s = 1\n",
		"top.py":              "thing = 2\n",
	})
	l := newLoader(root)
	if _, err := l.LoadModule(filepath.Join(root, "pkg", "inner.py")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := l.ByQName("pkg.sibling"); !ok {
		t.Error("level-1 relative import did not resolve")
	}
	if _, ok := l.ByQName("top"); !ok {
		t.Error("level-2 relative import did not resolve")
	}
}

func TestRelativeImportEscapingRootFatal(t *testing.T) {
	root := writeProject(t, map[string]string{
		"mod.py": "from ...outside import thing\n",
	})
	l := newLoader(root)
	_, err := l.LoadModule(filepath.Join(root, "mod.py"))
	if err == nil {
		t.Fatal("expected error for relative import escaping the root")
	}
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("code = %v", err)
	}
}

func TestFallbackSwallowsMissingModule(t *testing.T) {
	root := writeProject(t, map[string]string{
		"mod.py": "try:\n    from ...outside import thing\nexcept ImportError:\n    thing = None\n",
	})
	l := newLoader(root)
	m, err := l.LoadModule(filepath.Join(root, "mod.py"))
	if err != nil {
		t.Fatalf("fallback import should not be fatal: %v", err)
	}
	if _, ok := l.Table().LookupLocal(m.Scope, "thing"); !ok {
		t.Error("alias should still be registered for structural checks")
	}
}

func TestExternalImportStaysExternal(t *testing.T) {
	root := writeProject(t, map[string]string{
		"mod.py": "import os\nfrom collections import OrderedDict\n",
	})
	l := newLoader(root)
	m, err := l.LoadModule(filepath.Join(root, "mod.py"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	table := l.Table()
	for _, name := range []string{"os", "OrderedDict"} {
		id, ok := table.LookupLocal(m.Scope, name)
		if !ok {
			t.Fatalf("alias %q missing", name)
		}
		if !table.Symbol(id).Import.External() {
			t.Errorf("%q should be external", name)
		}
	}
	if len(l.Modules()) != 1 {
		t.Errorf("external imports must not load modules, got %d", len(l.Modules()))
	}
}

func TestWildcardImportFatal(t *testing.T) {
	root := writeProject(t, map[string]string{
		"mod.py":   "from other import *\n",
		"other.py": "x = 1\n",
	})
	l := newLoader(root)
	_, err := l.LoadModule(filepath.Join(root, "mod.py"))
	if !errors.IsCode(err, errors.CodeUnsupported) {
		t.Errorf("expected UNSUPPORTED_FEATURE, got %v", err)
	}
}

func TestModuleNameOutsidePackagePrefix(t *testing.T) {
	root := writeProject(t, map[string]string{
		"scripts/tool.py":     "x = 1\n",
		"src/pkg/__init__.py": "",
		"src/pkg/mod.py":      "y = 2\n",
	})
	l := newLoader(root)
	if got := l.ModuleName(filepath.Join(root, "scripts", "tool.py")); got != "tool" {
		t.Errorf("non-package dir should be stripped, got %q", got)
	}
	if got := l.ModuleName(filepath.Join(root, "src", "pkg", "mod.py")); got != "pkg.mod" {
		t.Errorf("package chain should start at first __init__.py, got %q", got)
	}
}
