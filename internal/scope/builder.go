package scope

import (
	"fmt"

	"github.com/wlvh/PySymphony/internal/errors"
	"github.com/wlvh/PySymphony/internal/pyast"
)

// Resolver is implemented by the cross-module loader. Resolving an
// import may recursively load and scan the target module before
// returning. An empty Module in the result means the import points
// outside the project.
type Resolver interface {
	ResolvePlainImport(dotted string, fromFile string, fallback bool) (ImportTarget, error)
	ResolveFromImport(module string, level int, name string, fromFile string, fallback bool) (ImportTarget, error)
}

// Diagnostic is an advisory finding collected while scanning; the
// merge proceeds last-write-wins and the auditor reports these.
type Diagnostic struct {
	Code    string
	Message string
	Module  string
	Line    int
}

const DiagDuplicateSymbol = "duplicate-symbol"

// Result is the outcome of scanning one module.
type Result struct {
	Scope ScopeID
	Init  SymbolID
	// InitStmts are the module-level side-effecting statements, in
	// source order, excluding definitions hoisted as symbols, the
	// module docstring, fallback import blocks and the main guard.
	InitStmts []pyast.Stmt
	// FallbackBlocks are top-level try/except import-error blocks,
	// emitted as their own section.
	FallbackBlocks []*pyast.Try
	FutureImports  []pyast.ImportAlias
	MainGuard      *pyast.If
}

// Builder scans module ASTs into the shared Table.
type Builder struct {
	table    *Table
	resolver Resolver
	diags    []Diagnostic
}

func NewBuilder(table *Table, resolver Resolver) *Builder {
	return &Builder{table: table, resolver: resolver}
}

func (b *Builder) Diagnostics() []Diagnostic { return b.diags }

// BuildModule scans one module's AST. qname is the module's qualified
// dotted name, file its absolute path, seq its load order.
func (b *Builder) BuildModule(ast *pyast.Module, qname, file string, seq int) (*Result, error) {
	scopeID := b.table.NewScope(KindModuleScope, qname, NoScope)
	res := &Result{Scope: scopeID}

	w := &walker{
		builder: b,
		module:  qname,
		file:    file,
		seq:     seq,
		result:  res,
	}
	if err := w.scanModuleBody(ast.Body, scopeID); err != nil {
		return nil, err
	}

	res.Init = b.table.Declare(Symbol{
		Name:   "<init>",
		QName:  qname + ".<init>",
		Kind:   KindModuleInit,
		Scope:  scopeID,
		Body:   NoScope,
		Module: qname,
		Seq:    seq,
	})
	return res, nil
}

type walker struct {
	builder *Builder
	module  string
	file    string
	seq     int
	result  *Result

	fallback bool
}

func (w *walker) table() *Table      { return w.builder.table }
func (w *walker) resolver() Resolver { return w.builder.resolver }

func (w *walker) scanModuleBody(body []pyast.Stmt, scope ScopeID) error {
	for i, stmt := range body {
		switch s := stmt.(type) {
		case *pyast.ExprStmt:
			// Module docstring.
			if i == 0 {
				if _, ok := s.Value.(*pyast.Str); ok {
					continue
				}
			}
			if err := w.scanStmt(stmt, scope); err != nil {
				return err
			}
			w.result.InitStmts = append(w.result.InitStmts, stmt)
		case *pyast.FunctionDef, *pyast.ClassDef:
			if err := w.scanStmt(stmt, scope); err != nil {
				return err
			}
		case *pyast.ImportFrom:
			if s.Module == "__future__" {
				w.result.FutureImports = append(w.result.FutureImports, s.Names...)
				continue
			}
			if err := w.scanStmt(stmt, scope); err != nil {
				return err
			}
		case *pyast.Import:
			if err := w.scanStmt(stmt, scope); err != nil {
				return err
			}
		case *pyast.Try:
			if isFallbackTry(s) {
				w.result.FallbackBlocks = append(w.result.FallbackBlocks, s)
				if err := w.scanStmt(stmt, scope); err != nil {
					return err
				}
				continue
			}
			if err := w.scanStmt(stmt, scope); err != nil {
				return err
			}
			w.result.InitStmts = append(w.result.InitStmts, stmt)
		case *pyast.If:
			if isMainGuard(s) {
				if w.result.MainGuard == nil {
					w.result.MainGuard = s
				}
				if err := w.scanBody(s.Body, scope); err != nil {
					return err
				}
				continue
			}
			if err := w.scanStmt(stmt, scope); err != nil {
				return err
			}
			w.result.InitStmts = append(w.result.InitStmts, stmt)
		case *pyast.Assign:
			start := len(w.builder.table.Symbols)
			if err := w.scanStmt(stmt, scope); err != nil {
				return err
			}
			// A call-valued assignment is an init-time side effect and
			// cannot be hoisted out of source order.
			if _, isCall := s.Value.(*pyast.Call); isCall {
				for j := start; j < len(w.builder.table.Symbols); j++ {
					w.builder.table.Symbols[j].InitOnly = true
				}
				w.result.InitStmts = append(w.result.InitStmts, stmt)
			}
		case *pyast.AnnAssign:
			start := len(w.builder.table.Symbols)
			if err := w.scanStmt(stmt, scope); err != nil {
				return err
			}
			if _, isCall := s.Value.(*pyast.Call); isCall {
				for j := start; j < len(w.builder.table.Symbols); j++ {
					w.builder.table.Symbols[j].InitOnly = true
				}
				w.result.InitStmts = append(w.result.InitStmts, stmt)
			}
		case *pyast.AugAssign:
			if err := w.scanStmt(stmt, scope); err != nil {
				return err
			}
			w.result.InitStmts = append(w.result.InitStmts, stmt)
		default:
			if err := w.scanStmt(stmt, scope); err != nil {
				return err
			}
			w.result.InitStmts = append(w.result.InitStmts, stmt)
		}
	}
	return nil
}

// isFallbackTry reports whether a try statement guards an import with
// an except arm naming a module-not-found exception.
func isFallbackTry(t *pyast.Try) bool {
	if !containsImport(t.Body) {
		return false
	}
	for _, h := range t.Handlers {
		if handlerCatchesImportError(h.Type) {
			return true
		}
	}
	return false
}

func containsImport(body []pyast.Stmt) bool {
	for _, s := range body {
		switch s.(type) {
		case *pyast.Import, *pyast.ImportFrom:
			return true
		}
	}
	return false
}

func handlerCatchesImportError(typ pyast.Expr) bool {
	switch e := typ.(type) {
	case *pyast.Name:
		return e.ID == "ImportError" || e.ID == "ModuleNotFoundError"
	case *pyast.TupleExpr:
		for _, elt := range e.Elts {
			if handlerCatchesImportError(elt) {
				return true
			}
		}
	}
	return false
}

// isMainGuard matches the exact `if __name__ == "__main__":` shape.
func isMainGuard(s *pyast.If) bool {
	cmp, ok := s.Cond.(*pyast.Compare)
	if !ok || len(cmp.Ops) != 1 || len(cmp.Comparators) != 1 || cmp.Ops[0] != "==" {
		return false
	}
	name, ok := cmp.Left.(*pyast.Name)
	if !ok || name.ID != "__name__" {
		return false
	}
	str, ok := cmp.Comparators[0].(*pyast.Str)
	if !ok {
		return false
	}
	v, ok := str.Value()
	return ok && v == "__main__"
}

func (w *walker) scanBody(body []pyast.Stmt, scope ScopeID) error {
	for _, stmt := range body {
		if err := w.scanStmt(stmt, scope); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) scanStmt(stmt pyast.Stmt, scope ScopeID) error {
	t := w.table()
	switch s := stmt.(type) {
	case *pyast.FunctionDef:
		kind := KindFunction
		if s.Async {
			kind = KindAsyncFunction
		}
		fnScope := t.NewScope(KindFunctionScope, s.Name, scope)
		w.declare(Symbol{
			Name:  s.Name,
			Kind:  kind,
			Scope: scope,
			Def:   s,
			Body:  fnScope,
			Line:  s.Pos().Line,
		})
		for _, p := range s.Params {
			if p.Name == "" {
				continue
			}
			w.declare(Symbol{
				Name:  p.Name,
				Kind:  KindParameter,
				Scope: fnScope,
				Def:   s,
				Body:  NoScope,
				Line:  s.Pos().Line,
			})
			if p.Default != nil {
				// Defaults evaluate in the enclosing scope.
				if err := w.scanExpr(p.Default, scope); err != nil {
					return err
				}
			}
		}
		for _, d := range s.Decorators {
			if err := w.scanExpr(d, scope); err != nil {
				return err
			}
		}
		return w.scanBody(s.Body, fnScope)
	case *pyast.ClassDef:
		clsScope := t.NewScope(KindClassScope, s.Name, scope)
		w.declare(Symbol{
			Name:  s.Name,
			Kind:  KindClass,
			Scope: scope,
			Def:   s,
			Body:  clsScope,
			Line:  s.Pos().Line,
		})
		for _, base := range s.Bases {
			if err := w.scanExpr(base, scope); err != nil {
				return err
			}
		}
		for _, d := range s.Decorators {
			if err := w.scanExpr(d, scope); err != nil {
				return err
			}
		}
		return w.scanBody(s.Body, clsScope)
	case *pyast.Assign:
		if err := w.scanExpr(s.Value, scope); err != nil {
			return err
		}
		for _, tgt := range s.Targets {
			w.bindTarget(tgt, scope, s, w.variableKind(scope))
		}
		return nil
	case *pyast.AnnAssign:
		if s.Value != nil {
			if err := w.scanExpr(s.Value, scope); err != nil {
				return err
			}
		}
		w.bindTarget(s.Target, scope, s, w.variableKind(scope))
		return nil
	case *pyast.AugAssign:
		if err := w.scanExpr(s.Value, scope); err != nil {
			return err
		}
		// Augmented assignment reads an existing binding; only create
		// one when nothing resolves, keeping scans conservative.
		if name, ok := s.Target.(*pyast.Name); ok {
			if _, found := t.Lookup(scope, name.ID); !found {
				w.bindTarget(s.Target, scope, s, w.variableKind(scope))
			}
		}
		return nil
	case *pyast.Import:
		for _, alias := range s.Names {
			target, err := w.resolver().ResolvePlainImport(alias.Name, w.file, w.fallback)
			if err != nil {
				return err
			}
			w.declare(Symbol{
				Name:        alias.Bound(true),
				Kind:        KindImportAlias,
				Scope:       scope,
				Def:         s,
				Body:        NoScope,
				Import:      target,
				PlainImport: true,
				Line:        s.Pos().Line,
			})
		}
		return nil
	case *pyast.ImportFrom:
		if s.Module == "__future__" {
			return nil
		}
		for _, alias := range s.Names {
			if alias.Name == "*" {
				return errors.New(errors.CodeUnsupported, "wildcard import defeats static resolution").
					WithContext(errors.CtxPath, w.file).
					WithContext(errors.CtxLine, s.Pos().Line)
			}
			target, err := w.resolver().ResolveFromImport(s.Module, s.Level, alias.Name, w.file, w.fallback)
			if err != nil {
				return err
			}
			w.declare(Symbol{
				Name:   alias.Bound(false),
				Kind:   KindImportAlias,
				Scope:  scope,
				Def:    s,
				Body:   NoScope,
				Import: target,
				Line:   s.Pos().Line,
			})
		}
		return nil
	case *pyast.Global:
		sc := t.Scope(scope)
		for _, n := range s.Names {
			sc.Globals[n] = true
		}
		return nil
	case *pyast.Nonlocal:
		sc := t.Scope(scope)
		for _, n := range s.Names {
			sc.Nonlocals[n] = true
		}
		return nil
	case *pyast.For:
		if err := w.scanExpr(s.Iter, scope); err != nil {
			return err
		}
		w.bindTarget(s.Target, scope, s, KindLoopVar)
		if err := w.scanBody(s.Body, scope); err != nil {
			return err
		}
		return w.scanBody(s.Orelse, scope)
	case *pyast.While:
		if err := w.scanExpr(s.Cond, scope); err != nil {
			return err
		}
		if err := w.scanBody(s.Body, scope); err != nil {
			return err
		}
		return w.scanBody(s.Orelse, scope)
	case *pyast.If:
		if err := w.scanExpr(s.Cond, scope); err != nil {
			return err
		}
		if err := w.scanBody(s.Body, scope); err != nil {
			return err
		}
		return w.scanBody(s.Orelse, scope)
	case *pyast.With:
		for _, item := range s.Items {
			if err := w.scanExpr(item.Value, scope); err != nil {
				return err
			}
			if item.Alias != nil {
				w.bindTarget(item.Alias, scope, s, KindLocalVar)
			}
		}
		return w.scanBody(s.Body, scope)
	case *pyast.Try:
		wasFallback := w.fallback
		if isFallbackTry(s) {
			w.fallback = true
		}
		defer func() { w.fallback = wasFallback }()
		if err := w.scanBody(s.Body, scope); err != nil {
			return err
		}
		for _, h := range s.Handlers {
			if h.Name != "" {
				w.declare(Symbol{
					Name:  h.Name,
					Kind:  KindLocalVar,
					Scope: t.EnclosingNonComprehension(scope),
					Def:   s,
					Body:  NoScope,
					Line:  s.Pos().Line,
				})
			}
			if err := w.scanBody(h.Body, scope); err != nil {
				return err
			}
		}
		if err := w.scanBody(s.Orelse, scope); err != nil {
			return err
		}
		return w.scanBody(s.Final, scope)
	case *pyast.ExprStmt:
		return w.scanExpr(s.Value, scope)
	case *pyast.Return:
		if s.Value != nil {
			return w.scanExpr(s.Value, scope)
		}
		return nil
	case *pyast.Raise:
		if s.Exc != nil {
			if err := w.scanExpr(s.Exc, scope); err != nil {
				return err
			}
		}
		if s.Cause != nil {
			return w.scanExpr(s.Cause, scope)
		}
		return nil
	case *pyast.Assert:
		if err := w.scanExpr(s.Test, scope); err != nil {
			return err
		}
		if s.Msg != nil {
			return w.scanExpr(s.Msg, scope)
		}
		return nil
	case *pyast.Delete:
		for _, tgt := range s.Targets {
			if err := w.scanExpr(tgt, scope); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// variableKind picks the symbol kind a plain assignment creates in
// the given scope.
func (w *walker) variableKind(scope ScopeID) SymbolKind {
	switch w.table().Scope(scope).Kind {
	case KindModuleScope, KindClassScope:
		return KindModuleVariable
	default:
		return KindLocalVar
	}
}

// bindTarget registers the names an assignment target introduces.
// Attribute and subscript targets mutate existing objects and bind
// nothing.
func (w *walker) bindTarget(tgt pyast.Expr, scope ScopeID, def pyast.Stmt, kind SymbolKind) {
	switch e := tgt.(type) {
	case *pyast.Name:
		w.bindName(e.ID, scope, def, kind, e.Pos().Line)
	case *pyast.TupleExpr:
		for _, elt := range e.Elts {
			w.bindTarget(elt, scope, def, kind)
		}
	case *pyast.ListExpr:
		for _, elt := range e.Elts {
			w.bindTarget(elt, scope, def, kind)
		}
	case *pyast.Starred:
		w.bindTarget(e.Value, scope, def, kind)
	}
}

func (w *walker) bindName(name string, scope ScopeID, def pyast.Stmt, kind SymbolKind, line int) {
	t := w.table()
	binding := t.BindingScope(scope, name)
	if binding != scope {
		// global/nonlocal retarget: the name refers to an existing
		// binding elsewhere, do not create a new symbol.
		if _, ok := t.LookupLocal(binding, name); ok {
			return
		}
		if t.Scope(binding).Kind == KindModuleScope {
			// A global name assigned only inside functions comes to
			// exist when the function runs. It gets a symbol so
			// references resolve, but no definition statement: the
			// assignment's right-hand side lives in function scope
			// and must not be hoisted.
			w.declare(Symbol{
				Name:  name,
				Kind:  KindModuleVariable,
				Scope: binding,
				Body:  NoScope,
				Line:  line,
			})
		}
		return
	}
	// Reassignment of a variable is not a new symbol.
	if existing, ok := t.LookupLocal(binding, name); ok {
		es := t.Symbol(existing)
		switch es.Kind {
		case KindModuleVariable, KindLocalVar, KindLoopVar, KindParameter:
			if es.Def == nil {
				// First direct module-level assignment of a name so
				// far only created through a global statement; adopt
				// it as the definition. Call-valued assignments stay
				// in the init section instead.
				if a, ok := def.(*pyast.Assign); ok {
					if _, isCall := a.Value.(*pyast.Call); !isCall {
						es.Def = def
						es.Line = line
					}
				}
			}
			return
		}
	}
	w.declare(Symbol{
		Name:  name,
		Kind:  kind,
		Scope: binding,
		Def:   def,
		Body:  NoScope,
		Line:  line,
	})
}

// declare fills in derived fields and records duplicate diagnostics
// for unguarded redefinitions of functions, classes and aliases.
func (w *walker) declare(sym Symbol) SymbolID {
	t := w.table()
	sym.QName = t.QNameIn(sym.Scope, sym.Name)
	sym.Module = w.module
	sym.Seq = w.seq
	sym.Fallback = sym.Fallback || w.fallback
	sym.Nested = w.isNested(sym.Scope, sym.Kind)

	if prev, ok := t.LookupLocal(sym.Scope, sym.Name); ok {
		prevSym := t.Symbol(prev)
		if duplicateWorthReporting(prevSym, &sym) {
			w.builder.diags = append(w.builder.diags, Diagnostic{
				Code:    DiagDuplicateSymbol,
				Message: fmt.Sprintf("%s %q redefined (previous definition at line %d)", sym.Kind, sym.Name, prevSym.Line),
				Module:  w.module,
				Line:    sym.Line,
			})
		}
	}
	return t.Declare(sym)
}

// duplicateWorthReporting exempts fallback-arm alternatives and plain
// variable reassignment from duplicate reporting.
func duplicateWorthReporting(prev, next *Symbol) bool {
	if prev.Fallback && next.Fallback {
		return false
	}
	defLike := func(k SymbolKind) bool {
		switch k {
		case KindFunction, KindAsyncFunction, KindClass, KindImportAlias:
			return true
		}
		return false
	}
	return defLike(prev.Kind) && defLike(next.Kind)
}

// isNested reports whether a definition in scope sits underneath a
// function scope (methods directly on a top-level class are not
// nested).
func (w *walker) isNested(scope ScopeID, kind SymbolKind) bool {
	switch kind {
	case KindFunction, KindAsyncFunction, KindClass:
	default:
		return false
	}
	t := w.table()
	for cur := scope; cur != NoScope; cur = t.Scope(cur).Parent {
		k := t.Scope(cur).Kind
		if k == KindFunctionScope || k == KindComprehensionScope {
			return true
		}
	}
	return false
}

// scanExpr walks an expression registering the bindings it may
// introduce: walrus targets, lambda parameters and comprehension
// loop variables (in a transient scope of their own).
func (w *walker) scanExpr(e pyast.Expr, scope ScopeID) error {
	if e == nil {
		return nil
	}
	t := w.table()
	switch v := e.(type) {
	case *pyast.NamedExpr:
		if v.Target != nil {
			host := t.EnclosingNonComprehension(scope)
			kind := KindLocalVar
			if t.Scope(host).Kind == KindModuleScope {
				kind = KindModuleVariable
			}
			if _, ok := t.LookupLocal(host, v.Target.ID); !ok {
				w.declare(Symbol{
					Name:  v.Target.ID,
					Kind:  kind,
					Scope: host,
					Body:  NoScope,
					Line:  v.Pos().Line,
				})
			}
		}
		return w.scanExpr(v.Value, scope)
	case *pyast.Lambda:
		lam := t.NewScope(KindFunctionScope, "<lambda>", scope)
		for _, p := range v.Params {
			if p.Default != nil {
				if err := w.scanExpr(p.Default, scope); err != nil {
					return err
				}
			}
			if p.Name == "" {
				continue
			}
			w.declare(Symbol{
				Name:  p.Name,
				Kind:  KindParameter,
				Scope: lam,
				Body:  NoScope,
				Line:  v.Pos().Line,
			})
		}
		return w.scanExpr(v.Body, lam)
	case *pyast.ListComp:
		return w.scanComprehension(v.Generators, scope, v.Elt)
	case *pyast.SetComp:
		return w.scanComprehension(v.Generators, scope, v.Elt)
	case *pyast.GeneratorExp:
		return w.scanComprehension(v.Generators, scope, v.Elt)
	case *pyast.DictComp:
		return w.scanComprehension(v.Generators, scope, v.Key, v.Value)
	case *pyast.Call:
		if err := w.scanExpr(v.Func, scope); err != nil {
			return err
		}
		for _, a := range v.Args {
			if err := w.scanExpr(a, scope); err != nil {
				return err
			}
		}
		for _, k := range v.Keywords {
			if err := w.scanExpr(k.Value, scope); err != nil {
				return err
			}
		}
		return nil
	case *pyast.BinOp:
		if err := w.scanExpr(v.Left, scope); err != nil {
			return err
		}
		return w.scanExpr(v.Right, scope)
	case *pyast.BoolOp:
		for _, x := range v.Values {
			if err := w.scanExpr(x, scope); err != nil {
				return err
			}
		}
		return nil
	case *pyast.UnaryOp:
		return w.scanExpr(v.Operand, scope)
	case *pyast.Compare:
		if err := w.scanExpr(v.Left, scope); err != nil {
			return err
		}
		for _, x := range v.Comparators {
			if err := w.scanExpr(x, scope); err != nil {
				return err
			}
		}
		return nil
	case *pyast.IfExp:
		if err := w.scanExpr(v.Cond, scope); err != nil {
			return err
		}
		if err := w.scanExpr(v.Body, scope); err != nil {
			return err
		}
		return w.scanExpr(v.Orelse, scope)
	case *pyast.Attribute:
		return w.scanExpr(v.Value, scope)
	case *pyast.Subscript:
		if err := w.scanExpr(v.Value, scope); err != nil {
			return err
		}
		return w.scanExpr(v.Index, scope)
	case *pyast.Slice:
		if err := w.scanExpr(v.Lower, scope); err != nil {
			return err
		}
		if err := w.scanExpr(v.Upper, scope); err != nil {
			return err
		}
		return w.scanExpr(v.Step, scope)
	case *pyast.TupleExpr:
		for _, x := range v.Elts {
			if err := w.scanExpr(x, scope); err != nil {
				return err
			}
		}
		return nil
	case *pyast.ListExpr:
		for _, x := range v.Elts {
			if err := w.scanExpr(x, scope); err != nil {
				return err
			}
		}
		return nil
	case *pyast.SetExpr:
		for _, x := range v.Elts {
			if err := w.scanExpr(x, scope); err != nil {
				return err
			}
		}
		return nil
	case *pyast.DictExpr:
		for i := range v.Values {
			if v.Keys[i] != nil {
				if err := w.scanExpr(v.Keys[i], scope); err != nil {
					return err
				}
			}
			if err := w.scanExpr(v.Values[i], scope); err != nil {
				return err
			}
		}
		return nil
	case *pyast.Starred:
		return w.scanExpr(v.Value, scope)
	case *pyast.Yield:
		return w.scanExpr(v.Value, scope)
	case *pyast.Await:
		return w.scanExpr(v.Value, scope)
	default:
		return nil
	}
}

func (w *walker) scanComprehension(gens []pyast.Comprehension, scope ScopeID, elts ...pyast.Expr) error {
	t := w.table()
	comp := t.NewScope(KindComprehensionScope, "", scope)
	for _, g := range gens {
		// The iterable evaluates in the enclosing scope; targets and
		// filters live in the transient scope.
		if err := w.scanExpr(g.Iter, scope); err != nil {
			return err
		}
		w.bindTarget(g.Target, comp, nil, KindLoopVar)
		for _, cond := range g.Ifs {
			if err := w.scanExpr(cond, comp); err != nil {
				return err
			}
		}
	}
	for _, e := range elts {
		if err := w.scanExpr(e, comp); err != nil {
			return err
		}
	}
	return nil
}
