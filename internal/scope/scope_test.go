package scope

import (
	"testing"

	"github.com/wlvh/PySymphony/internal/parser"
	"github.com/wlvh/PySymphony/internal/pyast"
)

// stubResolver resolves dotted names found in its table and treats
// everything else as external, mirroring the loader's contract
// without touching the filesystem.
type stubResolver struct {
	modules map[string]bool
}

func (r *stubResolver) ResolvePlainImport(dotted, fromFile string, fallback bool) (ImportTarget, error) {
	if r.modules[dotted] {
		return ImportTarget{Module: dotted}, nil
	}
	return ImportTarget{}, nil
}

func (r *stubResolver) ResolveFromImport(module string, level int, name, fromFile string, fallback bool) (ImportTarget, error) {
	if r.modules[module+"."+name] {
		return ImportTarget{Module: module + "." + name}, nil
	}
	if r.modules[module] {
		return ImportTarget{Module: module, Symbol: name}, nil
	}
	return ImportTarget{}, nil
}

func buildSource(t *testing.T, src string, known ...string) (*Table, *Builder, *Result) {
	t.Helper()
	mod, err := parser.New(parser.NewGrammar()).Parse([]byte(src), "mod.py")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	table := NewTable()
	resolver := &stubResolver{modules: map[string]bool{}}
	for _, m := range known {
		resolver.modules[m] = true
	}
	b := NewBuilder(table, resolver)
	res, err := b.BuildModule(mod, "mod", "/proj/mod.py", 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return table, b, res
}

func lookup(t *testing.T, table *Table, scope ScopeID, name string) *Symbol {
	t.Helper()
	id, ok := table.LookupLocal(scope, name)
	if !ok {
		t.Fatalf("symbol %q not found in scope %d", name, scope)
	}
	return table.Symbol(id)
}

func TestModuleLevelSymbols(t *testing.T) {
	table, _, res := buildSource(t, `
x = 100

def add(a, b):
    return a + b

async def poll():
    pass

class Calc:
    rate = 2

    def times(self, n):
        return n * self.rate
`)
	cases := []struct {
		name string
		kind SymbolKind
	}{
		{"x", KindModuleVariable},
		{"add", KindFunction},
		{"poll", KindAsyncFunction},
		{"Calc", KindClass},
	}
	for _, tc := range cases {
		sym := lookup(t, table, res.Scope, tc.name)
		if sym.Kind != tc.kind {
			t.Errorf("%s: kind = %v, want %v", tc.name, sym.Kind, tc.kind)
		}
		if sym.Module != "mod" {
			t.Errorf("%s: module = %q", tc.name, sym.Module)
		}
	}

	calc := lookup(t, table, res.Scope, "Calc")
	if calc.Body == NoScope {
		t.Fatal("class has no body scope")
	}
	times := lookup(t, table, calc.Body, "times")
	if times.QName != "mod.Calc.times" {
		t.Errorf("method qname = %q", times.QName)
	}
	if times.Nested {
		t.Error("method on a top-level class should not be nested")
	}
	rate := lookup(t, table, calc.Body, "rate")
	if rate.Kind != KindModuleVariable {
		t.Errorf("class attribute kind = %v", rate.Kind)
	}
}

func TestNestedDefinitionFlag(t *testing.T) {
	table, _, res := buildSource(t, `
def outer():
    def inner():
        pass
    class Hidden:
        pass
    return inner
`)
	outer := lookup(t, table, res.Scope, "outer")
	inner := lookup(t, table, outer.Body, "inner")
	if !inner.Nested {
		t.Error("inner def should be nested")
	}
	hidden := lookup(t, table, outer.Body, "Hidden")
	if !hidden.Nested {
		t.Error("class in function should be nested")
	}
	if outer.Nested {
		t.Error("top-level def should not be nested")
	}
}

func TestParametersAndLocals(t *testing.T) {
	table, _, res := buildSource(t, `
def f(a, b=1):
    c = a + b
    for i in range(c):
        c += i
    return c
`)
	f := lookup(t, table, res.Scope, "f")
	a := lookup(t, table, f.Body, "a")
	if a.Kind != KindParameter {
		t.Errorf("a kind = %v", a.Kind)
	}
	c := lookup(t, table, f.Body, "c")
	if c.Kind != KindLocalVar {
		t.Errorf("c kind = %v", c.Kind)
	}
	i := lookup(t, table, f.Body, "i")
	if i.Kind != KindLoopVar {
		t.Errorf("i kind = %v", i.Kind)
	}
}

func TestGlobalRedirectsBinding(t *testing.T) {
	table, _, res := buildSource(t, `
counter = 0

def bump():
    global counter
    counter = counter + 1
`)
	bump := lookup(t, table, res.Scope, "bump")
	if _, ok := table.LookupLocal(bump.Body, "counter"); ok {
		t.Error("global assignment must not create a local symbol")
	}
	counter := lookup(t, table, res.Scope, "counter")
	if counter.Kind != KindModuleVariable {
		t.Errorf("counter kind = %v", counter.Kind)
	}
}

func TestGlobalOnlyAssignmentHasNoDefinition(t *testing.T) {
	table, _, res := buildSource(t, `
def init(v):
    global counter
    counter = v
`)
	counter := lookup(t, table, res.Scope, "counter")
	if counter.Kind != KindModuleVariable {
		t.Errorf("counter kind = %v", counter.Kind)
	}
	if counter.Def != nil {
		t.Error("in-function assignment must not become the module-level definition")
	}
}

func TestGlobalThenModuleAssignmentAdoptsDefinition(t *testing.T) {
	table, _, res := buildSource(t, `
def reset():
    global counter
    counter = 0

counter = 1
`)
	counter := lookup(t, table, res.Scope, "counter")
	if counter.Def == nil {
		t.Fatal("module-level assignment should become the definition")
	}
	if counter.Line != 6 {
		t.Errorf("definition line = %d, want 6", counter.Line)
	}
}

func TestNonlocalRedirectsBinding(t *testing.T) {
	table, _, res := buildSource(t, `
def outer():
    n = 0
    def inner():
        nonlocal n
        n = 1
    return inner
`)
	outer := lookup(t, table, res.Scope, "outer")
	inner := lookup(t, table, outer.Body, "inner")
	if _, ok := table.LookupLocal(inner.Body, "n"); ok {
		t.Error("nonlocal assignment must not create a local symbol")
	}
	if _, ok := table.LookupLocal(outer.Body, "n"); !ok {
		t.Error("n should live in outer's scope")
	}
}

func TestComprehensionScopeIsTransient(t *testing.T) {
	table, _, res := buildSource(t, `
squares = [i * i for i in range(10)]
`)
	if _, ok := table.LookupLocal(res.Scope, "i"); ok {
		t.Error("comprehension loop var leaked into module scope")
	}
	if _, ok := table.LookupLocal(res.Scope, "squares"); !ok {
		t.Error("squares not registered")
	}
}

func TestWalrusInComprehensionBindsEnclosing(t *testing.T) {
	table, _, res := buildSource(t, `
big = [y for x in data if (y := x * 2) > 10]
`)
	y := lookup(t, table, res.Scope, "y")
	if y.Kind != KindModuleVariable {
		t.Errorf("walrus target kind = %v", y.Kind)
	}
}

func TestImportAliases(t *testing.T) {
	table, _, res := buildSource(t, `
import os
import pkg.sub as s
from pkg import helper
from pkg.other import thing as renamed
`, "pkg", "pkg.sub", "pkg.other")

	osAlias := lookup(t, table, res.Scope, "os")
	if osAlias.Kind != KindImportAlias || !osAlias.Import.External() {
		t.Errorf("os alias = %+v", osAlias.Import)
	}
	sAlias := lookup(t, table, res.Scope, "s")
	if sAlias.Import.Module != "pkg.sub" || !sAlias.PlainImport {
		t.Errorf("s alias = %+v", sAlias.Import)
	}
	helper := lookup(t, table, res.Scope, "helper")
	if helper.Import.Module != "pkg" || helper.Import.Symbol != "helper" {
		t.Errorf("helper alias = %+v", helper.Import)
	}
	renamed := lookup(t, table, res.Scope, "renamed")
	if renamed.Import.Module != "pkg.other" || renamed.Import.Symbol != "thing" {
		t.Errorf("renamed alias = %+v", renamed.Import)
	}
}

func TestPlainDottedImportBindsFirstSegment(t *testing.T) {
	table, _, res := buildSource(t, "import pkg.sub.deep\n", "pkg.sub.deep")
	sym := lookup(t, table, res.Scope, "pkg")
	if sym.Kind != KindImportAlias {
		t.Errorf("kind = %v", sym.Kind)
	}
	if sym.Import.Module != "pkg.sub.deep" {
		t.Errorf("target = %+v", sym.Import)
	}
}

func TestWildcardImportFatal(t *testing.T) {
	mod, err := parser.New(parser.NewGrammar()).Parse([]byte("from pkg import *\n"), "mod.py")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b := NewBuilder(NewTable(), &stubResolver{modules: map[string]bool{"pkg": true}})
	if _, err := b.BuildModule(mod, "mod", "/proj/mod.py", 0); err == nil {
		t.Fatal("wildcard import should be fatal")
	}
}

func TestFallbackImportBlock(t *testing.T) {
	table, b, res := buildSource(t, `
try:
    import ujson as json
except ImportError:
    import json
`)
	if len(res.FallbackBlocks) != 1 {
		t.Fatalf("fallback blocks = %d", len(res.FallbackBlocks))
	}
	json := lookup(t, table, res.Scope, "json")
	if !json.Fallback {
		t.Error("alias should carry the fallback flag")
	}
	for _, d := range b.Diagnostics() {
		if d.Code == DiagDuplicateSymbol {
			t.Errorf("fallback arms reported as duplicate: %v", d)
		}
	}
}

func TestFallbackTupleHandler(t *testing.T) {
	_, _, res := buildSource(t, `
try:
    import fastpath
except (ValueError, ModuleNotFoundError):
    fastpath = None
`)
	if len(res.FallbackBlocks) != 1 {
		t.Errorf("tuple handler naming ModuleNotFoundError should mark the block, got %d", len(res.FallbackBlocks))
	}
}

func TestDuplicateDefinitionDiagnostic(t *testing.T) {
	_, b, _ := buildSource(t, `
def work():
    return 1

def work():
    return 2
`)
	found := false
	for _, d := range b.Diagnostics() {
		if d.Code == DiagDuplicateSymbol {
			found = true
		}
	}
	if !found {
		t.Error("expected duplicate-symbol diagnostic")
	}
}

func TestVariableReassignmentNotDuplicate(t *testing.T) {
	_, b, _ := buildSource(t, `
mode = "a"
mode = "b"
`)
	if len(b.Diagnostics()) != 0 {
		t.Errorf("reassignment reported: %v", b.Diagnostics())
	}
}

func TestMainGuardCapture(t *testing.T) {
	_, _, res := buildSource(t, `
def main():
    pass

if __name__ == "__main__":
    main()
`)
	if res.MainGuard == nil {
		t.Fatal("main guard not captured")
	}
	for _, s := range res.InitStmts {
		if guard, ok := s.(*pyast.If); ok && guard == res.MainGuard {
			t.Error("main guard should not be an init statement")
		}
	}
}

func TestChainedComparisonIsNotMainGuard(t *testing.T) {
	_, _, res := buildSource(t, `
flag = "__main__"

if __name__ == "__main__" == flag:
    pass
`)
	if res.MainGuard != nil {
		t.Error("chained comparison must not be treated as the main guard")
	}
}

func TestCallValuedAssignmentStaysInInit(t *testing.T) {
	table, _, res := buildSource(t, `
config = load_config()
limit = 10
`)
	cfg := lookup(t, table, res.Scope, "config")
	if !cfg.InitOnly {
		t.Error("call-valued assignment should be init-only")
	}
	limit := lookup(t, table, res.Scope, "limit")
	if limit.InitOnly {
		t.Error("literal assignment should be hoistable")
	}
	if len(res.InitStmts) != 1 {
		t.Errorf("init statements = %d, want 1", len(res.InitStmts))
	}
}

func TestFutureImportsCollected(t *testing.T) {
	_, _, res := buildSource(t, `from __future__ import annotations
x = 1
`)
	if len(res.FutureImports) != 1 || res.FutureImports[0].Name != "annotations" {
		t.Errorf("future imports = %+v", res.FutureImports)
	}
}

func TestDocstringDropped(t *testing.T) {
	_, _, res := buildSource(t, `"""Module docs."""
x = 1
`)
	if len(res.InitStmts) != 0 {
		t.Errorf("docstring leaked into init: %d statements", len(res.InitStmts))
	}
}

func TestLookupSkipsClassScope(t *testing.T) {
	table, _, res := buildSource(t, `
class C:
    attr = 1

    def m(self):
        return attr
`)
	cls := lookup(t, table, res.Scope, "C")
	m := lookup(t, table, cls.Body, "m")
	if _, ok := table.Lookup(m.Body, "attr"); ok {
		t.Error("class attribute must not resolve from a method body")
	}
	if _, ok := table.Lookup(cls.Body, "attr"); !ok {
		t.Error("class attribute should resolve from the class scope itself")
	}
}
