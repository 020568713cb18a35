// Package analyzer computes, for every symbol, the set of other
// symbols its body references, walking the AST under the correct
// scope path.
package analyzer

import (
	"strings"

	"github.com/wlvh/PySymphony/internal/pyast"
	"github.com/wlvh/PySymphony/internal/scope"
)

// ModuleIndex resolves qualified module names to their scope and
// init symbol; the loader provides it.
type ModuleIndex interface {
	ModuleScope(qname string) (scope.ScopeID, bool)
	ModuleInit(qname string) (scope.SymbolID, bool)
}

// Undefined is a reference that resolved to nothing: not a binding in
// any enclosing scope and not a builtin. Collected for the auditor.
type Undefined struct {
	Name string
	Line int
}

type Analyzer struct {
	table *scope.Table
	index ModuleIndex

	// CollectUndefined turns on undefined-reference recording; the
	// merge itself leaves it off and stays conservative.
	CollectUndefined bool
	undefined        []Undefined
}

func New(table *scope.Table, index ModuleIndex) *Analyzer {
	return &Analyzer{table: table, index: index}
}

func (a *Analyzer) Undefined() []Undefined { return a.undefined }

// AnalyzeSymbol fills in the dependency set of one symbol from its
// defining statement. Safe to call once per symbol after every module
// has been scanned, so forward references resolve against complete
// scopes.
func (a *Analyzer) AnalyzeSymbol(id scope.SymbolID) {
	sym := a.table.Symbol(id)
	switch sym.Kind {
	case scope.KindFunction, scope.KindAsyncFunction:
		def, ok := sym.Def.(*pyast.FunctionDef)
		if !ok {
			return
		}
		w := a.newWalk(sym.Scope)
		for _, d := range def.Decorators {
			w.expr(d)
		}
		for _, p := range def.Params {
			w.expr(p.Annotation)
			w.expr(p.Default)
		}
		w.expr(def.Returns)
		w.scope = sym.Body
		w.body(def.Body)
		sym.Deps = w.deps
	case scope.KindClass:
		def, ok := sym.Def.(*pyast.ClassDef)
		if !ok {
			return
		}
		w := a.newWalk(sym.Scope)
		for _, d := range def.Decorators {
			w.expr(d)
		}
		for _, b := range def.Bases {
			w.expr(b)
		}
		for _, k := range def.Keywords {
			w.expr(k.Value)
		}
		w.scope = sym.Body
		w.body(def.Body)
		sym.Deps = w.deps
	case scope.KindModuleVariable, scope.KindLocalVar:
		w := a.newWalk(sym.Scope)
		switch def := sym.Def.(type) {
		case *pyast.Assign:
			w.expr(def.Value)
		case *pyast.AnnAssign:
			w.expr(def.Value)
		case *pyast.AugAssign:
			w.expr(def.Value)
		}
		sym.Deps = w.deps
	case scope.KindImportAlias:
		a.analyzeAlias(id)
	}
}

// analyzeAlias ties an alias to what it stands for: the target symbol
// for from-imports of a symbol, the target module's init for module
// bindings.
func (a *Analyzer) analyzeAlias(id scope.SymbolID) {
	sym := a.table.Symbol(id)
	if sym.Import.External() {
		return
	}
	modScope, ok := a.index.ModuleScope(sym.Import.Module)
	if !ok {
		return
	}
	var deps []scope.SymbolID
	if sym.Import.Symbol != "" {
		if target, found := a.table.LookupLocal(modScope, sym.Import.Symbol); found {
			deps = append(deps, target)
		}
	} else if init, found := a.index.ModuleInit(sym.Import.Module); found {
		deps = append(deps, init)
	}
	sym.Deps = deps
}

// AnalyzeInit computes the init symbol's dependencies over the given
// statement groups (module init statements, and for the entry module
// its main guard).
func (a *Analyzer) AnalyzeInit(id scope.SymbolID, sc scope.ScopeID, groups ...[]pyast.Stmt) {
	w := a.newWalk(sc)
	for _, g := range groups {
		w.body(g)
	}
	a.table.Symbol(id).Deps = w.deps
}

// DependenciesOf walks a statement list under sc and returns every
// linkable symbol it references. Exposed for the auditor.
func (a *Analyzer) DependenciesOf(body []pyast.Stmt, sc scope.ScopeID) []scope.SymbolID {
	w := a.newWalk(sc)
	w.body(body)
	return w.deps
}

type walk struct {
	a     *Analyzer
	scope scope.ScopeID
	deps  []scope.SymbolID
	seen  map[scope.SymbolID]bool
	// shadows tracks transient bindings (comprehension targets,
	// lambda parameters) that never touch the symbol table.
	shadows []map[string]bool
}

func (a *Analyzer) newWalk(sc scope.ScopeID) *walk {
	return &walk{a: a, scope: sc, seen: make(map[scope.SymbolID]bool)}
}

func (w *walk) add(id scope.SymbolID) {
	if w.seen[id] {
		return
	}
	sym := w.a.table.Symbol(id)
	if !sym.Kind.Linkable() && sym.Kind != scope.KindModuleInit {
		return
	}
	w.seen[id] = true
	w.deps = append(w.deps, id)
}

func (w *walk) shadowed(name string) bool {
	for i := len(w.shadows) - 1; i >= 0; i-- {
		if w.shadows[i][name] {
			return true
		}
	}
	return false
}

func (w *walk) pushShadow() map[string]bool {
	s := make(map[string]bool)
	w.shadows = append(w.shadows, s)
	return s
}

func (w *walk) popShadow() {
	w.shadows = w.shadows[:len(w.shadows)-1]
}

func (w *walk) body(stmts []pyast.Stmt) {
	for _, s := range stmts {
		w.stmt(s)
	}
}

func (w *walk) stmt(s pyast.Stmt) {
	switch v := s.(type) {
	case *pyast.FunctionDef:
		// Nested definitions analyze independently; defining one is
		// itself a reference, so closure carries its dependencies.
		w.name(v.Name, v.Pos().Line)
	case *pyast.ClassDef:
		w.name(v.Name, v.Pos().Line)
	case *pyast.Assign:
		w.expr(v.Value)
		for _, t := range v.Targets {
			w.storeTarget(t)
		}
	case *pyast.AnnAssign:
		w.expr(v.Annotation)
		w.expr(v.Value)
		w.storeTarget(v.Target)
	case *pyast.AugAssign:
		w.expr(v.Value)
		w.expr(v.Target)
	case *pyast.Return:
		w.expr(v.Value)
	case *pyast.If:
		w.expr(v.Cond)
		w.body(v.Body)
		w.body(v.Orelse)
	case *pyast.While:
		w.expr(v.Cond)
		w.body(v.Body)
		w.body(v.Orelse)
	case *pyast.For:
		w.expr(v.Iter)
		w.storeTarget(v.Target)
		w.body(v.Body)
		w.body(v.Orelse)
	case *pyast.With:
		for _, item := range v.Items {
			w.expr(item.Value)
			if item.Alias != nil {
				w.storeTarget(item.Alias)
			}
		}
		w.body(v.Body)
	case *pyast.Try:
		w.body(v.Body)
		for _, h := range v.Handlers {
			w.expr(h.Type)
			w.body(h.Body)
		}
		w.body(v.Orelse)
		w.body(v.Final)
	case *pyast.Raise:
		w.expr(v.Exc)
		w.expr(v.Cause)
	case *pyast.ExprStmt:
		w.expr(v.Value)
	case *pyast.Assert:
		w.expr(v.Test)
		w.expr(v.Msg)
	case *pyast.Delete:
		for _, t := range v.Targets {
			w.expr(t)
		}
	case *pyast.Import:
		for _, alias := range v.Names {
			w.name(alias.Bound(true), v.Pos().Line)
		}
	case *pyast.ImportFrom:
		for _, alias := range v.Names {
			if alias.Name == "*" {
				continue
			}
			w.name(alias.Bound(false), v.Pos().Line)
		}
	case *pyast.OpaqueStmt:
		for _, n := range v.Names {
			w.name(n, v.Pos().Line)
		}
	}
}

// storeTarget walks a store-context target: plain names bind and are
// not references, but attribute/subscript targets read their base.
func (w *walk) storeTarget(t pyast.Expr) {
	switch v := t.(type) {
	case *pyast.Name:
	case *pyast.TupleExpr:
		for _, e := range v.Elts {
			w.storeTarget(e)
		}
	case *pyast.ListExpr:
		for _, e := range v.Elts {
			w.storeTarget(e)
		}
	case *pyast.Starred:
		w.storeTarget(v.Value)
	case *pyast.Attribute:
		w.expr(v.Value)
	case *pyast.Subscript:
		w.expr(v.Value)
		w.expr(v.Index)
	default:
		w.expr(t)
	}
}

func (w *walk) expr(e pyast.Expr) {
	if e == nil {
		return
	}
	switch v := e.(type) {
	case *pyast.Name:
		w.name(v.ID, v.Pos().Line)
	case *pyast.Attribute:
		w.attributeChain(v)
	case *pyast.Subscript:
		w.expr(v.Value)
		w.expr(v.Index)
	case *pyast.Call:
		w.expr(v.Func)
		for _, arg := range v.Args {
			w.expr(arg)
		}
		for _, kw := range v.Keywords {
			w.expr(kw.Value)
		}
	case *pyast.BinOp:
		w.expr(v.Left)
		w.expr(v.Right)
	case *pyast.BoolOp:
		for _, x := range v.Values {
			w.expr(x)
		}
	case *pyast.UnaryOp:
		w.expr(v.Operand)
	case *pyast.Compare:
		w.expr(v.Left)
		for _, x := range v.Comparators {
			w.expr(x)
		}
	case *pyast.IfExp:
		w.expr(v.Cond)
		w.expr(v.Body)
		w.expr(v.Orelse)
	case *pyast.Lambda:
		shadow := w.pushShadow()
		for _, p := range v.Params {
			w.expr(p.Default)
			if p.Name != "" {
				shadow[p.Name] = true
			}
		}
		w.expr(v.Body)
		w.popShadow()
	case *pyast.TupleExpr:
		for _, x := range v.Elts {
			w.expr(x)
		}
	case *pyast.ListExpr:
		for _, x := range v.Elts {
			w.expr(x)
		}
	case *pyast.SetExpr:
		for _, x := range v.Elts {
			w.expr(x)
		}
	case *pyast.DictExpr:
		for i := range v.Values {
			if v.Keys[i] != nil {
				w.expr(v.Keys[i])
			}
			w.expr(v.Values[i])
		}
	case *pyast.Starred:
		w.expr(v.Value)
	case *pyast.NamedExpr:
		w.expr(v.Value)
	case *pyast.ListComp:
		w.comprehension(v.Generators, v.Elt)
	case *pyast.SetComp:
		w.comprehension(v.Generators, v.Elt)
	case *pyast.GeneratorExp:
		w.comprehension(v.Generators, v.Elt)
	case *pyast.DictComp:
		w.comprehension(v.Generators, v.Key, v.Value)
	case *pyast.Yield:
		w.expr(v.Value)
	case *pyast.Await:
		w.expr(v.Value)
	case *pyast.Slice:
		w.expr(v.Lower)
		w.expr(v.Upper)
		w.expr(v.Step)
	case *pyast.OpaqueExpr:
		for _, n := range v.Names {
			w.name(n, v.Pos().Line)
		}
	}
}

func (w *walk) comprehension(gens []pyast.Comprehension, elts ...pyast.Expr) {
	shadow := w.pushShadow()
	for i, g := range gens {
		if i == 0 {
			// The first iterable evaluates before any target binds.
			w.expr(g.Iter)
			w.shadowTarget(shadow, g.Target)
		} else {
			w.shadowTarget(shadow, g.Target)
			w.expr(g.Iter)
		}
		for _, c := range g.Ifs {
			w.expr(c)
		}
	}
	for _, e := range elts {
		w.expr(e)
	}
	w.popShadow()
}

func (w *walk) shadowTarget(shadow map[string]bool, t pyast.Expr) {
	switch v := t.(type) {
	case *pyast.Name:
		shadow[v.ID] = true
	case *pyast.TupleExpr:
		for _, e := range v.Elts {
			w.shadowTarget(shadow, e)
		}
	case *pyast.ListExpr:
		for _, e := range v.Elts {
			w.shadowTarget(shadow, e)
		}
	case *pyast.Starred:
		w.shadowTarget(shadow, v.Value)
	}
}

// name resolves one loaded identifier through the scope chain.
func (w *walk) name(name string, line int) (scope.SymbolID, bool) {
	if w.shadowed(name) {
		return scope.NoSymbol, false
	}
	if id, ok := w.a.table.Lookup(w.scope, name); ok {
		w.add(id)
		return id, true
	}
	if IsBuiltin(name) {
		return scope.NoSymbol, false
	}
	if w.a.CollectUndefined {
		w.a.undefined = append(w.a.undefined, Undefined{Name: name, Line: line})
	}
	return scope.NoSymbol, false
}

// attributeChain resolves dotted references. If the root is an import
// alias bound to a project module, the remaining path is walked
// against that module's qualified name, descending into submodules
// and deduplicating repeated path segments, to find the terminal
// symbol. Both the alias and the terminal symbol become dependencies.
func (w *walk) attributeChain(attr *pyast.Attribute) {
	root, attrs := flattenAttribute(attr)
	if root == nil {
		// Root is a call or subscript; just walk it.
		w.expr(attr.Value)
		return
	}
	id, ok := w.name(root.ID, root.Pos().Line)
	if !ok {
		return
	}
	sym := w.a.table.Symbol(id)
	if sym.Kind != scope.KindImportAlias || sym.Import.External() {
		return
	}

	if sym.Import.Symbol != "" {
		// Alias of one symbol; deeper attributes are runtime access.
		if modScope, ok := w.a.index.ModuleScope(sym.Import.Module); ok {
			if target, found := w.a.table.LookupLocal(modScope, sym.Import.Symbol); found {
				w.add(target)
			}
		}
		return
	}

	// Alias of a module: descend through the attribute path. For an
	// unaliased plain import the bound name covers only the first
	// dotted segment, so repeated segments resolve as submodules.
	covered := sym.Import.Module
	if sym.PlainImport && strings.HasPrefix(sym.Import.Module, root.ID+".") {
		covered = root.ID
	}
	i := 0
	for i < len(attrs) {
		next := covered + "." + attrs[i]
		if _, ok := w.a.index.ModuleScope(next); !ok {
			break
		}
		covered = next
		i++
	}
	modScope, ok := w.a.index.ModuleScope(covered)
	if !ok {
		return
	}
	if init, found := w.a.index.ModuleInit(covered); found {
		w.add(init)
	}
	if i < len(attrs) {
		if target, found := w.a.table.LookupLocal(modScope, attrs[i]); found {
			w.add(target)
		}
	}
}

// flattenAttribute unwinds a.b.c into its root name and the attribute
// path ["b", "c"]; a nil root means the base is not a plain name.
func flattenAttribute(attr *pyast.Attribute) (*pyast.Name, []string) {
	var parts []string
	cur := attr
	for {
		parts = append(parts, cur.Attr)
		switch v := cur.Value.(type) {
		case *pyast.Attribute:
			cur = v
		case *pyast.Name:
			// parts were collected innermost-last; reverse.
			for l, r := 0, len(parts)-1; l < r; l, r = l+1, r-1 {
				parts[l], parts[r] = parts[r], parts[l]
			}
			return v, parts
		default:
			return nil, nil
		}
	}
}
