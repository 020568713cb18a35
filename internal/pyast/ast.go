// Package pyast defines a closed set of AST node kinds for the supported
// Python subset, plus a serializer back to source text. The merge engine
// dispatches on these kinds exhaustively; anything the front end cannot
// classify is preserved as an Opaque node so parsing stays total.
package pyast

// Node is the common interface of every AST node.
type Node interface {
	Pos() Position
	node()
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmt()
}

// Expr is an expression node.
type Expr interface {
	Node
	expr()
}

// Position locates a node in its source file. Line and Col are 1-based.
type Position struct {
	Line int
	Col  int
}

type base struct {
	Position Position
}

func (b base) Pos() Position { return b.Position }
func (base) node()           {}

// Module is the root of a parsed file.
type Module struct {
	base
	Body []Stmt
}

// --- Statements ---

type stmtBase struct{ base }

func (stmtBase) stmt() {}

// FunctionDef covers both sync and async defs.
type FunctionDef struct {
	stmtBase
	Name       string
	Params     []Param
	Body       []Stmt
	Decorators []Expr
	Returns    Expr // optional
	Async      bool
}

type ClassDef struct {
	stmtBase
	Name       string
	Bases      []Expr
	Keywords   []Keyword // metaclass=..., etc.
	Body       []Stmt
	Decorators []Expr
}

type Assign struct {
	stmtBase
	Targets []Expr // chained: a = b = value
	Value   Expr
}

type AnnAssign struct {
	stmtBase
	Target     Expr
	Annotation Expr
	Value      Expr // optional
}

type AugAssign struct {
	stmtBase
	Target Expr
	Op     string // "+=", "-=", ...
	Value  Expr
}

type Return struct {
	stmtBase
	Value Expr // optional
}

type If struct {
	stmtBase
	Cond   Expr
	Body   []Stmt
	Orelse []Stmt // else or elif chain (single nested If)
}

type While struct {
	stmtBase
	Cond   Expr
	Body   []Stmt
	Orelse []Stmt
}

// For covers for and async-for.
type For struct {
	stmtBase
	Target Expr
	Iter   Expr
	Body   []Stmt
	Orelse []Stmt
	Async  bool
}

// With covers with and async-with.
type With struct {
	stmtBase
	Items []WithItem
	Body  []Stmt
	Async bool
}

type WithItem struct {
	Value Expr
	Alias Expr // optional "as" target
}

type Try struct {
	stmtBase
	Body     []Stmt
	Handlers []ExceptHandler
	Orelse   []Stmt
	Final    []Stmt
}

type ExceptHandler struct {
	Type Expr   // optional exception expression
	Name string // optional "as" name
	Body []Stmt
}

type Raise struct {
	stmtBase
	Exc   Expr // optional
	Cause Expr // optional "from" cause
}

// ImportAlias is one name binding in an import statement.
type ImportAlias struct {
	Name   string // dotted module path or imported symbol
	AsName string // optional
}

// Bound returns the name the alias binds in the importing scope:
// the asname if present, else the first dotted segment for plain
// imports and the full name for from-imports.
func (a ImportAlias) Bound(plainImport bool) string {
	if a.AsName != "" {
		return a.AsName
	}
	if plainImport {
		return firstSegment(a.Name)
	}
	return a.Name
}

func firstSegment(dotted string) string {
	for i := 0; i < len(dotted); i++ {
		if dotted[i] == '.' {
			return dotted[:i]
		}
	}
	return dotted
}

type Import struct {
	stmtBase
	Names []ImportAlias
}

type ImportFrom struct {
	stmtBase
	Module string // empty for "from . import x"
	Names  []ImportAlias
	Level  int // number of leading dots
}

type Global struct {
	stmtBase
	Names []string
}

type Nonlocal struct {
	stmtBase
	Names []string
}

type ExprStmt struct {
	stmtBase
	Value Expr
}

type Pass struct{ stmtBase }
type Break struct{ stmtBase }
type Continue struct{ stmtBase }

type Assert struct {
	stmtBase
	Test Expr
	Msg  Expr // optional
}

type Delete struct {
	stmtBase
	Targets []Expr
}

// OpaqueStmt preserves a statement the front end does not model.
// Its text is emitted verbatim; Names lists load-context identifiers
// observed inside it so analysis stays conservative.
type OpaqueStmt struct {
	stmtBase
	Text  string
	Names []string
}

// --- Expressions ---

type exprBase struct{ base }

func (exprBase) expr() {}

type Name struct {
	exprBase
	ID string
}

type Attribute struct {
	exprBase
	Value Expr
	Attr  string
}

type Subscript struct {
	exprBase
	Value Expr
	Index Expr
}

type Call struct {
	exprBase
	Func     Expr
	Args     []Expr
	Keywords []Keyword
}

// Keyword is a keyword argument; an empty Name means **kwargs splat.
type Keyword struct {
	Name  string
	Value Expr
}

type BinOp struct {
	exprBase
	Left  Expr
	Op    string
	Right Expr
}

type BoolOp struct {
	exprBase
	Op     string // "and" / "or"
	Values []Expr
}

type UnaryOp struct {
	exprBase
	Op      string // "-", "+", "~", "not"
	Operand Expr
}

type Compare struct {
	exprBase
	Left        Expr
	Ops         []string
	Comparators []Expr
}

type IfExp struct {
	exprBase
	Cond   Expr
	Body   Expr
	Orelse Expr
}

type Lambda struct {
	exprBase
	Params []Param
	Body   Expr
}

// Literal carries a literal token verbatim: numbers, True/False/None,
// Ellipsis. Renaming never reaches inside it.
type Literal struct {
	exprBase
	Text string
}

// Str carries a string literal verbatim, including quotes and any
// f-string prefix; string forms are opaque to the rewriter.
type Str struct {
	exprBase
	Raw string
}

// Value returns the best-effort unquoted value of a plain string
// literal, and false for forms it does not decode (f-strings, raw
// strings with escapes, concatenations).
func (s *Str) Value() (string, bool) {
	raw := s.Raw
	if len(raw) < 2 {
		return "", false
	}
	switch raw[0] {
	case '"', '\'':
	default:
		return "", false
	}
	q := raw[0]
	if raw[len(raw)-1] != q {
		return "", false
	}
	body := raw[1 : len(raw)-1]
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' {
			return "", false
		}
	}
	return body, true
}

type TupleExpr struct {
	exprBase
	Elts   []Expr
	Parens bool
}

type ListExpr struct {
	exprBase
	Elts []Expr
}

type SetExpr struct {
	exprBase
	Elts []Expr
}

// DictExpr pairs Keys[i] with Values[i]; a nil key is a **splat.
type DictExpr struct {
	exprBase
	Keys   []Expr
	Values []Expr
}

type Starred struct {
	exprBase
	Value Expr
}

// NamedExpr is the walrus operator.
type NamedExpr struct {
	exprBase
	Target *Name
	Value  Expr
}

// Comprehension is one "for ... in ... if ..." clause.
type Comprehension struct {
	Target Expr
	Iter   Expr
	Ifs    []Expr
	Async  bool
}

type ListComp struct {
	exprBase
	Elt        Expr
	Generators []Comprehension
}

type SetComp struct {
	exprBase
	Elt        Expr
	Generators []Comprehension
}

type GeneratorExp struct {
	exprBase
	Elt        Expr
	Generators []Comprehension
}

type DictComp struct {
	exprBase
	Key        Expr
	Value      Expr
	Generators []Comprehension
}

type Yield struct {
	exprBase
	Value Expr // optional
	From  bool
}

type Await struct {
	exprBase
	Value Expr
}

type Slice struct {
	exprBase
	Lower Expr
	Upper Expr
	Step  Expr
}

// OpaqueExpr preserves an expression the front end does not model.
type OpaqueExpr struct {
	exprBase
	Text  string
	Names []string
}

// ParamKind distinguishes the parameter forms of a signature.
type ParamKind uint8

const (
	ParamPlain      ParamKind = iota
	ParamStar                 // *args
	ParamDoubleStar           // **kwargs
	ParamStarMarker           // bare * separator
	ParamSlashMarker          // bare / separator
)

type Param struct {
	Name       string
	Annotation Expr // optional
	Default    Expr // optional
	Kind       ParamKind
}

// NewPos is a convenience constructor used by the front end.
func NewPos(line, col int) Position { return Position{Line: line, Col: col} }
