// Package scope builds and stores the lexical scope tree and symbol
// table for every analyzed module. Scopes and symbols live in one
// arena per merge and refer to each other by index, so the tree has
// no ownership cycles.
package scope

import (
	"github.com/wlvh/PySymphony/internal/pyast"
)

type ScopeID int32
type SymbolID int32

const NoScope ScopeID = -1
const NoSymbol SymbolID = -1

type ScopeKind uint8

const (
	KindModuleScope ScopeKind = iota
	KindClassScope
	KindFunctionScope
	KindComprehensionScope
)

func (k ScopeKind) String() string {
	switch k {
	case KindModuleScope:
		return "module"
	case KindClassScope:
		return "class"
	case KindFunctionScope:
		return "function"
	case KindComprehensionScope:
		return "comprehension"
	}
	return "unknown"
}

type SymbolKind uint8

const (
	KindFunction SymbolKind = iota
	KindAsyncFunction
	KindClass
	KindModuleVariable
	KindImportAlias
	KindParameter
	KindLoopVar
	KindLocalVar
	// KindModuleInit is the synthetic symbol summarizing a module's
	// top-level side-effecting statements.
	KindModuleInit
)

func (k SymbolKind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindAsyncFunction:
		return "async_function"
	case KindClass:
		return "class"
	case KindModuleVariable:
		return "module_variable"
	case KindImportAlias:
		return "import_alias"
	case KindParameter:
		return "parameter"
	case KindLoopVar:
		return "loop_var"
	case KindLocalVar:
		return "local_var"
	case KindModuleInit:
		return "module_init"
	}
	return "unknown"
}

// Linkable reports whether symbols of this kind may appear in a
// dependency set. Parameters and local bindings resolve within their
// own scope and are discarded.
func (k SymbolKind) Linkable() bool {
	switch k {
	case KindFunction, KindAsyncFunction, KindClass, KindModuleVariable, KindImportAlias:
		return true
	}
	return false
}

type Scope struct {
	Kind     ScopeKind
	Name     string // path segment: module qname, class name, function name
	Parent   ScopeID
	Children []ScopeID
	Names    map[string]SymbolID
	// Nonlocals and Globals grow while the scope body is scanned and
	// redirect later binding lookups.
	Nonlocals map[string]bool
	Globals   map[string]bool
}

// ImportTarget is the resolution of one import alias.
type ImportTarget struct {
	Module string // qualified project module name; empty for external imports
	Symbol string // name within Module for from-imports; empty when the alias binds the module itself
}

// External reports whether the alias points outside the project.
func (t ImportTarget) External() bool { return t.Module == "" }

type Symbol struct {
	Name  string
	QName string
	Kind  SymbolKind
	Scope ScopeID
	// Def is the whole defining statement, kept for emission. For
	// module variables defined by tuple unpacking several symbols
	// share one Def.
	Def pyast.Stmt
	// Body is the scope the definition owns (functions, classes),
	// NoScope otherwise.
	Body ScopeID

	Deps []SymbolID

	// Fallback marks aliases and definitions inside a
	// try/except-ImportError block.
	Fallback bool
	// InitOnly marks module variables whose defining statement has
	// side effects (call-valued assignments); they are emitted with
	// the module-init section instead of being hoisted.
	InitOnly bool
	// Nested marks definitions not at module or class top level.
	Nested bool

	// Import resolution, set for KindImportAlias only.
	Import      ImportTarget
	PlainImport bool // "import a.b" as opposed to "from a import b"

	// Module is the qualified name of the defining module; Seq its
	// load order and Line the definition's source line. Together they
	// give the deterministic tie-break for emission ordering.
	Module string
	Seq    int
	Line   int
}

// Table is the per-merge arena holding every scope and symbol.
type Table struct {
	Scopes  []Scope
	Symbols []Symbol
}

func NewTable() *Table {
	return &Table{}
}

func (t *Table) NewScope(kind ScopeKind, name string, parent ScopeID) ScopeID {
	id := ScopeID(len(t.Scopes))
	t.Scopes = append(t.Scopes, Scope{
		Kind:      kind,
		Name:      name,
		Parent:    parent,
		Names:     make(map[string]SymbolID),
		Nonlocals: make(map[string]bool),
		Globals:   make(map[string]bool),
	})
	if parent != NoScope {
		t.Scopes[parent].Children = append(t.Scopes[parent].Children, id)
	}
	return id
}

func (t *Table) Scope(id ScopeID) *Scope { return &t.Scopes[id] }

func (t *Table) Symbol(id SymbolID) *Symbol { return &t.Symbols[id] }

// Declare registers sym under its name in its scope. A later
// declaration of the same name replaces the earlier binding
// (last-write-wins); the caller decides whether the collision is a
// diagnostic.
func (t *Table) Declare(sym Symbol) SymbolID {
	id := SymbolID(len(t.Symbols))
	t.Symbols = append(t.Symbols, sym)
	t.Scopes[sym.Scope].Names[sym.Name] = id
	return id
}

// LookupLocal finds name in exactly this scope.
func (t *Table) LookupLocal(scope ScopeID, name string) (SymbolID, bool) {
	id, ok := t.Scopes[scope].Names[name]
	return id, ok
}

// Lookup resolves name from scope outward, following the subject
// language's rule that class scopes are invisible to code nested
// below them: only the starting scope may be a class scope.
func (t *Table) Lookup(scope ScopeID, name string) (SymbolID, bool) {
	first := true
	for cur := scope; cur != NoScope; cur = t.Scopes[cur].Parent {
		s := &t.Scopes[cur]
		if s.Kind == KindClassScope && !first {
			first = false
			continue
		}
		first = false
		if id, ok := s.Names[name]; ok {
			return id, ok
		}
	}
	return NoSymbol, false
}

// ModuleScopeOf walks up to the module scope containing scope.
func (t *Table) ModuleScopeOf(scope ScopeID) ScopeID {
	for cur := scope; cur != NoScope; cur = t.Scopes[cur].Parent {
		if t.Scopes[cur].Kind == KindModuleScope {
			return cur
		}
	}
	return NoScope
}

// BindingScope returns the scope a new assignment to name in scope
// would bind in, honoring global and nonlocal declarations.
func (t *Table) BindingScope(scope ScopeID, name string) ScopeID {
	s := &t.Scopes[scope]
	if s.Globals[name] {
		return t.ModuleScopeOf(scope)
	}
	if s.Nonlocals[name] {
		for cur := s.Parent; cur != NoScope; cur = t.Scopes[cur].Parent {
			c := &t.Scopes[cur]
			if c.Kind != KindFunctionScope {
				continue
			}
			if _, ok := c.Names[name]; ok {
				return cur
			}
		}
		// Undeclared nonlocal target; bind locally and let the
		// auditor surface the dangling reference.
		return scope
	}
	return scope
}

// EnclosingNonComprehension walks out of comprehension scopes; loop
// targets of a comprehension stay inside it but walrus targets and
// similar bindings escape to this scope.
func (t *Table) EnclosingNonComprehension(scope ScopeID) ScopeID {
	cur := scope
	for cur != NoScope && t.Scopes[cur].Kind == KindComprehensionScope {
		cur = t.Scopes[cur].Parent
	}
	if cur == NoScope {
		return scope
	}
	return cur
}

// QNameIn builds the fully qualified name for name declared in scope.
func (t *Table) QNameIn(scope ScopeID, name string) string {
	var parts []string
	for cur := scope; cur != NoScope; cur = t.Scopes[cur].Parent {
		s := &t.Scopes[cur]
		if s.Kind == KindComprehensionScope {
			continue
		}
		parts = append(parts, s.Name)
	}
	// parts is innermost-first; reverse and append name.
	n := len(parts)
	out := make([]byte, 0, 64)
	for i := n - 1; i >= 0; i-- {
		if parts[i] == "" {
			continue
		}
		if len(out) > 0 {
			out = append(out, '.')
		}
		out = append(out, parts[i]...)
	}
	if len(out) > 0 {
		out = append(out, '.')
	}
	out = append(out, name...)
	return string(out)
}
