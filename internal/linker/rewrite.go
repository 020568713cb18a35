package linker

import (
	"github.com/wlvh/PySymphony/internal/pyast"
	"github.com/wlvh/PySymphony/internal/scope"
)

// rewriter mutates parsed trees in place, replacing resolved names
// with their final bundled names and collapsing alias attribute chains
// onto the symbols they reach. The loader parses fresh trees per run,
// so in-place mutation is safe.
type rewriter struct {
	ln      *Linker
	names   map[scope.SymbolID]string
	shadows []map[string]bool
}

func (ln *Linker) newRewriter(names map[scope.SymbolID]string) *rewriter {
	return &rewriter{ln: ln, names: names}
}

// defSymbol finds the symbol a def statement introduced. The scope
// name map only remembers the last binding of a name, so shadowed
// definitions resolve through the statement pointer instead.
func (ln *Linker) defSymbol(s pyast.Stmt) (scope.SymbolID, bool) {
	if ln.defIndex == nil {
		ln.defIndex = make(map[pyast.Stmt]scope.SymbolID)
		for i := range ln.table.Symbols {
			sym := &ln.table.Symbols[i]
			switch sym.Kind {
			case scope.KindFunction, scope.KindAsyncFunction, scope.KindClass:
				if sym.Def != nil {
					ln.defIndex[sym.Def] = scope.SymbolID(i)
				}
			}
		}
	}
	id, ok := ln.defIndex[s]
	return id, ok
}

// rewriteDef renames a top-level definition and rewrites its body.
func (r *rewriter) rewriteDef(id scope.SymbolID) {
	sym := r.ln.table.Symbol(id)
	switch def := sym.Def.(type) {
	case *pyast.FunctionDef:
		if final, ok := r.names[id]; ok {
			def.Name = final
		}
		r.function(def, sym.Scope, sym.Body)
	case *pyast.ClassDef:
		if final, ok := r.names[id]; ok {
			def.Name = final
		}
		r.class(def, sym.Scope, sym.Body)
	default:
		// Module variable: the declaration statement rewrites like any
		// other module-scope statement, covering targets and value.
		r.stmt(sym.Def, sym.Scope)
	}
}

func (r *rewriter) stmts(body []pyast.Stmt, sc scope.ScopeID) {
	for _, s := range body {
		r.stmt(s, sc)
	}
}

func (r *rewriter) stmt(s pyast.Stmt, sc scope.ScopeID) {
	switch v := s.(type) {
	case *pyast.FunctionDef:
		if id, ok := r.ln.defSymbol(v); ok {
			r.function(v, sc, r.ln.table.Symbol(id).Body)
		}
	case *pyast.ClassDef:
		if id, ok := r.ln.defSymbol(v); ok {
			r.class(v, sc, r.ln.table.Symbol(id).Body)
		}
	case *pyast.Assign:
		if r.rewriteAll(v, sc) {
			return
		}
		for i := range v.Targets {
			v.Targets[i] = r.expr(v.Targets[i], sc)
		}
		v.Value = r.expr(v.Value, sc)
	case *pyast.AnnAssign:
		v.Target = r.expr(v.Target, sc)
		v.Annotation = r.expr(v.Annotation, sc)
		if v.Value != nil {
			v.Value = r.expr(v.Value, sc)
		}
	case *pyast.AugAssign:
		v.Target = r.expr(v.Target, sc)
		v.Value = r.expr(v.Value, sc)
	case *pyast.Return:
		if v.Value != nil {
			v.Value = r.expr(v.Value, sc)
		}
	case *pyast.If:
		v.Cond = r.expr(v.Cond, sc)
		r.stmts(v.Body, sc)
		r.stmts(v.Orelse, sc)
	case *pyast.While:
		v.Cond = r.expr(v.Cond, sc)
		r.stmts(v.Body, sc)
		r.stmts(v.Orelse, sc)
	case *pyast.For:
		v.Target = r.expr(v.Target, sc)
		v.Iter = r.expr(v.Iter, sc)
		r.stmts(v.Body, sc)
		r.stmts(v.Orelse, sc)
	case *pyast.With:
		for i := range v.Items {
			v.Items[i].Value = r.expr(v.Items[i].Value, sc)
			if v.Items[i].Alias != nil {
				v.Items[i].Alias = r.expr(v.Items[i].Alias, sc)
			}
		}
		r.stmts(v.Body, sc)
	case *pyast.Try:
		r.stmts(v.Body, sc)
		for i := range v.Handlers {
			if v.Handlers[i].Type != nil {
				v.Handlers[i].Type = r.expr(v.Handlers[i].Type, sc)
			}
			r.stmts(v.Handlers[i].Body, sc)
		}
		r.stmts(v.Orelse, sc)
		r.stmts(v.Final, sc)
	case *pyast.Raise:
		if v.Exc != nil {
			v.Exc = r.expr(v.Exc, sc)
		}
		if v.Cause != nil {
			v.Cause = r.expr(v.Cause, sc)
		}
	case *pyast.Import:
		r.rewriteImport(v, sc, true)
	case *pyast.ImportFrom:
		r.rewriteImport(v, sc, false)
	case *pyast.Global:
		mod := r.ln.table.ModuleScopeOf(sc)
		for i, name := range v.Names {
			if id, ok := r.ln.table.LookupLocal(mod, name); ok {
				if final, has := r.names[id]; has {
					v.Names[i] = final
				}
			}
		}
	case *pyast.ExprStmt:
		v.Value = r.expr(v.Value, sc)
	case *pyast.Assert:
		v.Test = r.expr(v.Test, sc)
		if v.Msg != nil {
			v.Msg = r.expr(v.Msg, sc)
		}
	case *pyast.Delete:
		for i := range v.Targets {
			v.Targets[i] = r.expr(v.Targets[i], sc)
		}
	}
}

// rewriteAll handles __all__ assignments at module scope, renaming the
// exported strings to the names their symbols carry in the output.
func (r *rewriter) rewriteAll(v *pyast.Assign, sc scope.ScopeID) bool {
	if r.ln.table.Scope(sc).Kind != scope.KindModuleScope || len(v.Targets) != 1 {
		return false
	}
	target, ok := v.Targets[0].(*pyast.Name)
	if !ok || target.ID != "__all__" {
		return false
	}
	list, ok := v.Value.(*pyast.ListExpr)
	if !ok {
		return false
	}
	for _, elt := range list.Elts {
		str, ok := elt.(*pyast.Str)
		if !ok {
			continue
		}
		value, ok := str.Value()
		if !ok {
			continue
		}
		if id, found := r.ln.table.LookupLocal(sc, value); found {
			if final, has := r.names[id]; has && final != value {
				str.Raw = "'" + final + "'"
			}
		}
	}
	return true
}

// rewriteImport renames alias bindings inside retained import
// statements. Only fallback blocks keep import statements in the
// output, so this is what makes their bound names line up with the
// rewritten references.
func (r *rewriter) rewriteImport(s pyast.Stmt, sc scope.ScopeID, plain bool) {
	var names []pyast.ImportAlias
	switch v := s.(type) {
	case *pyast.Import:
		names = v.Names
	case *pyast.ImportFrom:
		names = v.Names
	}
	for i := range names {
		bound := names[i].Bound(plain)
		id, ok := r.ln.table.LookupLocal(r.ln.table.ModuleScopeOf(sc), bound)
		if !ok {
			continue
		}
		if final, has := r.names[id]; has && final != bound {
			names[i].AsName = final
		}
	}
}

func (r *rewriter) function(def *pyast.FunctionDef, outer, body scope.ScopeID) {
	for i, d := range def.Decorators {
		def.Decorators[i] = r.expr(d, outer)
	}
	for i := range def.Params {
		if def.Params[i].Annotation != nil {
			def.Params[i].Annotation = r.expr(def.Params[i].Annotation, outer)
		}
		if def.Params[i].Default != nil {
			def.Params[i].Default = r.expr(def.Params[i].Default, outer)
		}
	}
	if def.Returns != nil {
		def.Returns = r.expr(def.Returns, outer)
	}
	if body != scope.NoScope {
		r.stmts(def.Body, body)
	}
}

func (r *rewriter) class(def *pyast.ClassDef, outer, body scope.ScopeID) {
	for i, d := range def.Decorators {
		def.Decorators[i] = r.expr(d, outer)
	}
	for i, b := range def.Bases {
		def.Bases[i] = r.expr(b, outer)
	}
	for i := range def.Keywords {
		def.Keywords[i].Value = r.expr(def.Keywords[i].Value, outer)
	}
	if body != scope.NoScope {
		r.stmts(def.Body, body)
	}
}

func (r *rewriter) expr(e pyast.Expr, sc scope.ScopeID) pyast.Expr {
	switch v := e.(type) {
	case *pyast.Name:
		r.rewriteName(v, sc)
		return v
	case *pyast.Attribute:
		return r.attributeChain(v, sc)
	case *pyast.Subscript:
		v.Value = r.expr(v.Value, sc)
		v.Index = r.expr(v.Index, sc)
	case *pyast.Call:
		v.Func = r.expr(v.Func, sc)
		for i := range v.Args {
			v.Args[i] = r.expr(v.Args[i], sc)
		}
		for i := range v.Keywords {
			v.Keywords[i].Value = r.expr(v.Keywords[i].Value, sc)
		}
	case *pyast.BinOp:
		v.Left = r.expr(v.Left, sc)
		v.Right = r.expr(v.Right, sc)
	case *pyast.BoolOp:
		for i := range v.Values {
			v.Values[i] = r.expr(v.Values[i], sc)
		}
	case *pyast.UnaryOp:
		v.Operand = r.expr(v.Operand, sc)
	case *pyast.Compare:
		v.Left = r.expr(v.Left, sc)
		for i := range v.Comparators {
			v.Comparators[i] = r.expr(v.Comparators[i], sc)
		}
	case *pyast.IfExp:
		v.Cond = r.expr(v.Cond, sc)
		v.Body = r.expr(v.Body, sc)
		v.Orelse = r.expr(v.Orelse, sc)
	case *pyast.Lambda:
		shadow := r.pushShadow()
		for i := range v.Params {
			if v.Params[i].Default != nil {
				v.Params[i].Default = r.expr(v.Params[i].Default, sc)
			}
			if v.Params[i].Name != "" {
				shadow[v.Params[i].Name] = true
			}
		}
		v.Body = r.expr(v.Body, sc)
		r.popShadow()
	case *pyast.TupleExpr:
		for i := range v.Elts {
			v.Elts[i] = r.expr(v.Elts[i], sc)
		}
	case *pyast.ListExpr:
		for i := range v.Elts {
			v.Elts[i] = r.expr(v.Elts[i], sc)
		}
	case *pyast.SetExpr:
		for i := range v.Elts {
			v.Elts[i] = r.expr(v.Elts[i], sc)
		}
	case *pyast.DictExpr:
		for i := range v.Keys {
			if v.Keys[i] != nil {
				v.Keys[i] = r.expr(v.Keys[i], sc)
			}
			v.Values[i] = r.expr(v.Values[i], sc)
		}
	case *pyast.Starred:
		v.Value = r.expr(v.Value, sc)
	case *pyast.NamedExpr:
		// The target binds in the enclosing scope, past any shadows.
		if id, ok := r.ln.table.Lookup(sc, v.Target.ID); ok {
			if final, has := r.names[id]; has {
				v.Target.ID = final
			}
		}
		v.Value = r.expr(v.Value, sc)
	case *pyast.ListComp:
		r.comprehension(v.Generators, sc, func() { v.Elt = r.expr(v.Elt, sc) })
	case *pyast.SetComp:
		r.comprehension(v.Generators, sc, func() { v.Elt = r.expr(v.Elt, sc) })
	case *pyast.GeneratorExp:
		r.comprehension(v.Generators, sc, func() { v.Elt = r.expr(v.Elt, sc) })
	case *pyast.DictComp:
		r.comprehension(v.Generators, sc, func() {
			v.Key = r.expr(v.Key, sc)
			v.Value = r.expr(v.Value, sc)
		})
	case *pyast.Yield:
		if v.Value != nil {
			v.Value = r.expr(v.Value, sc)
		}
	case *pyast.Await:
		v.Value = r.expr(v.Value, sc)
	case *pyast.Slice:
		if v.Lower != nil {
			v.Lower = r.expr(v.Lower, sc)
		}
		if v.Upper != nil {
			v.Upper = r.expr(v.Upper, sc)
		}
		if v.Step != nil {
			v.Step = r.expr(v.Step, sc)
		}
	}
	return e
}

// comprehension rewrites generator clauses under a shadow for the loop
// targets, which stay transient and never rename.
func (r *rewriter) comprehension(gens []pyast.Comprehension, sc scope.ScopeID, inner func()) {
	shadow := r.pushShadow()
	for i := range gens {
		if i == 0 {
			gens[i].Iter = r.expr(gens[i].Iter, sc)
		}
		shadowTarget(gens[i].Target, shadow)
		if i > 0 {
			gens[i].Iter = r.expr(gens[i].Iter, sc)
		}
		for j := range gens[i].Ifs {
			gens[i].Ifs[j] = r.expr(gens[i].Ifs[j], sc)
		}
	}
	inner()
	r.popShadow()
}

func shadowTarget(e pyast.Expr, shadow map[string]bool) {
	switch v := e.(type) {
	case *pyast.Name:
		shadow[v.ID] = true
	case *pyast.TupleExpr:
		for _, elt := range v.Elts {
			shadowTarget(elt, shadow)
		}
	case *pyast.ListExpr:
		for _, elt := range v.Elts {
			shadowTarget(elt, shadow)
		}
	case *pyast.Starred:
		shadowTarget(v.Value, shadow)
	}
}

func (r *rewriter) pushShadow() map[string]bool {
	shadow := make(map[string]bool)
	r.shadows = append(r.shadows, shadow)
	return shadow
}

func (r *rewriter) popShadow() {
	r.shadows = r.shadows[:len(r.shadows)-1]
}

func (r *rewriter) shadowed(name string) bool {
	for _, s := range r.shadows {
		if s[name] {
			return true
		}
	}
	return false
}

// rewriteName renames one bare identifier. References through a
// from-import alias land directly on the target symbol's final name;
// external aliases take the alias's own suffixed name.
func (r *rewriter) rewriteName(n *pyast.Name, sc scope.ScopeID) {
	if r.shadowed(n.ID) {
		return
	}
	id, ok := r.ln.table.Lookup(sc, n.ID)
	if !ok {
		return
	}
	sym := r.ln.table.Symbol(id)
	if sym.Kind != scope.KindImportAlias {
		if final, has := r.names[id]; has && final != n.ID {
			n.ID = final
		}
		return
	}
	if sym.Import.External() {
		if final, has := r.names[id]; has {
			n.ID = final
		}
		return
	}
	if sym.Import.Symbol != "" {
		if target, found := r.ln.symbolIn(sym.Import.Module, sym.Import.Symbol); found {
			if final, has := r.names[target]; has {
				n.ID = final
			} else {
				n.ID = r.ln.table.Symbol(target).Name
			}
		}
	}
	// A bare reference to a project module alias has no bundled
	// counterpart and stays as written.
}

// attributeChain collapses alias-rooted dotted paths onto the final
// name of the symbol they reach, mirroring the resolution the analyzer
// used to record the dependency.
func (r *rewriter) attributeChain(attr *pyast.Attribute, sc scope.ScopeID) pyast.Expr {
	root, attrs := flattenAttribute(attr)
	if root == nil {
		attr.Value = r.expr(attr.Value, sc)
		return attr
	}
	if r.shadowed(root.ID) {
		return attr
	}
	id, ok := r.ln.table.Lookup(sc, root.ID)
	if !ok {
		return attr
	}
	sym := r.ln.table.Symbol(id)
	if sym.Kind != scope.KindImportAlias || sym.Import.External() {
		r.rewriteName(root, sc)
		return attr
	}
	if sym.Import.Symbol != "" {
		r.rewriteName(root, sc)
		return attr
	}

	covered := sym.Import.Module
	if sym.PlainImport && len(root.ID) < len(covered) && covered[:len(root.ID)+1] == root.ID+"." {
		covered = root.ID
	}
	i := 0
	for i < len(attrs) {
		next := covered + "." + attrs[i]
		if _, ok := r.ln.moduleScope(next); !ok {
			break
		}
		covered = next
		i++
	}
	if i >= len(attrs) {
		return attr
	}
	target, found := r.ln.symbolIn(covered, attrs[i])
	if !found {
		return attr
	}
	final := r.ln.table.Symbol(target).Name
	if renamed, has := r.names[target]; has {
		final = renamed
	}
	var out pyast.Expr = &pyast.Name{ID: final}
	for _, rest := range attrs[i+1:] {
		out = &pyast.Attribute{Value: out, Attr: rest}
	}
	return out
}

// flattenAttribute unwinds a.b.c into its root name and the attribute
// path; a nil root means the base is not a plain name.
func flattenAttribute(attr *pyast.Attribute) (*pyast.Name, []string) {
	var parts []string
	cur := attr
	for {
		parts = append(parts, cur.Attr)
		switch v := cur.Value.(type) {
		case *pyast.Attribute:
			cur = v
		case *pyast.Name:
			for l, x := 0, len(parts)-1; l < x; l, x = l+1, x-1 {
				parts[l], parts[x] = parts[x], parts[l]
			}
			return v, parts
		default:
			return nil, nil
		}
	}
}
