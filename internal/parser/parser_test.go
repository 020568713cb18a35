package parser

import (
	"strings"
	"testing"

	"github.com/wlvh/PySymphony/internal/errors"
	"github.com/wlvh/PySymphony/internal/pyast"
)

func newTestParser() *Parser {
	return New(NewGrammar())
}

func mustParse(t *testing.T, src string) *pyast.Module {
	t.Helper()
	mod, err := newTestParser().Parse([]byte(src), "test.py")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return mod
}

func TestParseFunctionDef(t *testing.T) {
	mod := mustParse(t, `def greet(name, count=1, *args, **kwargs):
    return name * count
`)
	if len(mod.Body) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(mod.Body))
	}
	fn, ok := mod.Body[0].(*pyast.FunctionDef)
	if !ok {
		t.Fatalf("expected FunctionDef, got %T", mod.Body[0])
	}
	if fn.Name != "greet" {
		t.Errorf("name = %q", fn.Name)
	}
	if len(fn.Params) != 4 {
		t.Fatalf("expected 4 params, got %d", len(fn.Params))
	}
	if fn.Params[1].Name != "count" || fn.Params[1].Default == nil {
		t.Errorf("default param not captured: %+v", fn.Params[1])
	}
	if fn.Params[2].Kind != pyast.ParamStar || fn.Params[2].Name != "args" {
		t.Errorf("*args not captured: %+v", fn.Params[2])
	}
	if fn.Params[3].Kind != pyast.ParamDoubleStar || fn.Params[3].Name != "kwargs" {
		t.Errorf("**kwargs not captured: %+v", fn.Params[3])
	}
	if fn.Position.Line != 1 {
		t.Errorf("line = %d", fn.Position.Line)
	}
}

func TestParseAsyncAndDecorators(t *testing.T) {
	mod := mustParse(t, `@cached
@app.route("/x")
async def handler(req):
    await req.read()
`)
	fn, ok := mod.Body[0].(*pyast.FunctionDef)
	if !ok {
		t.Fatalf("expected FunctionDef, got %T", mod.Body[0])
	}
	if !fn.Async {
		t.Error("async flag not set")
	}
	if len(fn.Decorators) != 2 {
		t.Fatalf("expected 2 decorators, got %d", len(fn.Decorators))
	}
	if name, ok := fn.Decorators[0].(*pyast.Name); !ok || name.ID != "cached" {
		t.Errorf("first decorator = %#v", fn.Decorators[0])
	}
}

func TestParseClassBasesAndKeywords(t *testing.T) {
	mod := mustParse(t, `class Worker(Base, mixin.Stoppable, metaclass=Meta):
    pass
`)
	cls, ok := mod.Body[0].(*pyast.ClassDef)
	if !ok {
		t.Fatalf("expected ClassDef, got %T", mod.Body[0])
	}
	if len(cls.Bases) != 2 {
		t.Fatalf("expected 2 bases, got %d", len(cls.Bases))
	}
	if len(cls.Keywords) != 1 || cls.Keywords[0].Name != "metaclass" {
		t.Errorf("keywords = %+v", cls.Keywords)
	}
}

func TestParseImports(t *testing.T) {
	mod := mustParse(t, `import os
import numpy as np
from pathlib import Path
from . import sibling
from ..pkg import thing as alias
from mod import *
`)
	imp := mod.Body[0].(*pyast.Import)
	if imp.Names[0].Name != "os" {
		t.Errorf("plain import = %+v", imp.Names)
	}
	aliased := mod.Body[1].(*pyast.Import)
	if aliased.Names[0].Name != "numpy" || aliased.Names[0].AsName != "np" {
		t.Errorf("aliased import = %+v", aliased.Names)
	}
	from := mod.Body[2].(*pyast.ImportFrom)
	if from.Module != "pathlib" || from.Names[0].Name != "Path" {
		t.Errorf("from import = %+v", from)
	}
	rel := mod.Body[3].(*pyast.ImportFrom)
	if rel.Level != 1 || rel.Module != "" || rel.Names[0].Name != "sibling" {
		t.Errorf("relative import = level %d module %q names %+v", rel.Level, rel.Module, rel.Names)
	}
	rel2 := mod.Body[4].(*pyast.ImportFrom)
	if rel2.Level != 2 || rel2.Module != "pkg" || rel2.Names[0].AsName != "alias" {
		t.Errorf("parent import = level %d module %q names %+v", rel2.Level, rel2.Module, rel2.Names)
	}
	wild := mod.Body[5].(*pyast.ImportFrom)
	if len(wild.Names) != 1 || wild.Names[0].Name != "*" {
		t.Errorf("wildcard = %+v", wild.Names)
	}
}

func TestParseChainedAssignment(t *testing.T) {
	mod := mustParse(t, "a = b = compute()\n")
	asn, ok := mod.Body[0].(*pyast.Assign)
	if !ok {
		t.Fatalf("expected Assign, got %T", mod.Body[0])
	}
	if len(asn.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(asn.Targets))
	}
	if _, ok := asn.Value.(*pyast.Call); !ok {
		t.Errorf("value = %#v", asn.Value)
	}
}

func TestParseAnnotatedAssignment(t *testing.T) {
	mod := mustParse(t, "count: int = 0\n")
	ann, ok := mod.Body[0].(*pyast.AnnAssign)
	if !ok {
		t.Fatalf("expected AnnAssign, got %T", mod.Body[0])
	}
	if name, ok := ann.Annotation.(*pyast.Name); !ok || name.ID != "int" {
		t.Errorf("annotation = %#v", ann.Annotation)
	}
}

func TestParseTryExceptAs(t *testing.T) {
	mod := mustParse(t, `try:
    import fastjson as json
except (ImportError, ModuleNotFoundError) as exc:
    import json
else:
    ready = True
finally:
    done = True
`)
	try, ok := mod.Body[0].(*pyast.Try)
	if !ok {
		t.Fatalf("expected Try, got %T", mod.Body[0])
	}
	if len(try.Handlers) != 1 {
		t.Fatalf("expected 1 handler, got %d", len(try.Handlers))
	}
	h := try.Handlers[0]
	if h.Name != "exc" {
		t.Errorf("handler name = %q", h.Name)
	}
	if tup, ok := h.Type.(*pyast.TupleExpr); !ok || len(tup.Elts) != 2 {
		t.Errorf("handler type = %#v", h.Type)
	}
	if len(try.Orelse) != 1 || len(try.Final) != 1 {
		t.Errorf("orelse/final = %d/%d", len(try.Orelse), len(try.Final))
	}
}

func TestParseElifChain(t *testing.T) {
	mod := mustParse(t, `if a:
    x = 1
elif b:
    x = 2
else:
    x = 3
`)
	top, ok := mod.Body[0].(*pyast.If)
	if !ok {
		t.Fatalf("expected If, got %T", mod.Body[0])
	}
	if len(top.Orelse) != 1 {
		t.Fatalf("orelse = %d statements", len(top.Orelse))
	}
	elif, ok := top.Orelse[0].(*pyast.If)
	if !ok {
		t.Fatalf("expected nested If, got %T", top.Orelse[0])
	}
	if len(elif.Orelse) != 1 {
		t.Errorf("final else missing")
	}
}

func TestParseComprehensionWithWalrus(t *testing.T) {
	mod := mustParse(t, "result = [y for x in items if (y := f(x)) > 0]\n")
	asn := mod.Body[0].(*pyast.Assign)
	comp, ok := asn.Value.(*pyast.ListComp)
	if !ok {
		t.Fatalf("expected ListComp, got %T", asn.Value)
	}
	if len(comp.Generators) != 1 {
		t.Fatalf("generators = %d", len(comp.Generators))
	}
	g := comp.Generators[0]
	if len(g.Ifs) != 1 {
		t.Fatalf("ifs = %d", len(g.Ifs))
	}
	found := false
	var scan func(e pyast.Expr)
	scan = func(e pyast.Expr) {
		switch v := e.(type) {
		case *pyast.NamedExpr:
			if v.Target != nil && v.Target.ID == "y" {
				found = true
			}
		case *pyast.Compare:
			scan(v.Left)
		case *pyast.Call:
			scan(v.Func)
		}
	}
	scan(g.Ifs[0])
	if !found {
		t.Errorf("walrus target not found in %#v", g.Ifs[0])
	}
}

func TestParseComparisonOperators(t *testing.T) {
	mod := mustParse(t, "ok = a not in b and c is not d\n")
	asn := mod.Body[0].(*pyast.Assign)
	boolOp, ok := asn.Value.(*pyast.BoolOp)
	if !ok {
		t.Fatalf("expected BoolOp, got %T", asn.Value)
	}
	left := boolOp.Values[0].(*pyast.Compare)
	if len(left.Ops) != 1 || left.Ops[0] != "not in" {
		t.Errorf("ops = %v", left.Ops)
	}
	right := boolOp.Values[1].(*pyast.Compare)
	if len(right.Ops) != 1 || right.Ops[0] != "is not" {
		t.Errorf("ops = %v", right.Ops)
	}
}

func TestParseMainGuard(t *testing.T) {
	mod := mustParse(t, `if __name__ == "__main__":
    main()
`)
	guard := mod.Body[0].(*pyast.If)
	cmp, ok := guard.Cond.(*pyast.Compare)
	if !ok {
		t.Fatalf("cond = %T", guard.Cond)
	}
	name, ok := cmp.Left.(*pyast.Name)
	if !ok || name.ID != "__name__" {
		t.Errorf("left = %#v", cmp.Left)
	}
	str, ok := cmp.Comparators[0].(*pyast.Str)
	if !ok {
		t.Fatalf("comparator = %T", cmp.Comparators[0])
	}
	if v, ok := str.Value(); !ok || v != "__main__" {
		t.Errorf("string value = %q, %v", v, ok)
	}
}

func TestParseSyntaxError(t *testing.T) {
	_, err := newTestParser().Parse([]byte("def broken(:\n"), "bad.py")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.IsCode(err, errors.CodeValidation) {
		t.Errorf("code = %v", err)
	}
}

func TestParseFStringIsOpaque(t *testing.T) {
	mod := mustParse(t, `msg = f"hello {user.name}!"
`)
	asn := mod.Body[0].(*pyast.Assign)
	str, ok := asn.Value.(*pyast.Str)
	if !ok {
		t.Fatalf("expected Str, got %T", asn.Value)
	}
	if _, decodable := str.Value(); decodable {
		t.Error("f-string should not decode")
	}
	if !strings.HasPrefix(str.Raw, `f"`) {
		t.Errorf("raw = %q", str.Raw)
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []string{
		"def f(a, b=2):\n    return a + b\n",
		"class C(Base):\n    x = 1\n\n    def m(self):\n        pass\n",
		"for i in range(10):\n    total += i\nelse:\n    done()\n",
		"with open(path) as fh:\n    data = fh.read()\n",
		"import os\nfrom sys import argv as args\n",
		"x = {k: v for k, v in pairs if v}\n",
		"if __name__ == '__main__':\n    main()\n",
		"result = fn(*args, **kwargs)\n",
		"values[1:10:2] = source\n",
	}
	for _, src := range cases {
		mod, err := newTestParser().Parse([]byte(src), "round.py")
		if err != nil {
			t.Errorf("parse %q: %v", src, err)
			continue
		}
		first := pyast.Unparse(mod)
		mod2, err := newTestParser().Parse([]byte(first), "round2.py")
		if err != nil {
			t.Errorf("reparse of %q output failed: %v\noutput:\n%s", src, err, first)
			continue
		}
		second := pyast.Unparse(mod2)
		if first != second {
			t.Errorf("unparse not stable for %q:\nfirst:\n%s\nsecond:\n%s", src, first, second)
		}
	}
}
