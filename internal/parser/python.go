package parser

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/wlvh/PySymphony/internal/errors"
	"github.com/wlvh/PySymphony/internal/pyast"
)

// Parser converts Python source into the pyast representation. Anything
// outside the modeled subset degrades to an opaque node carrying its
// verbatim text plus the identifiers seen inside it, so analysis stays
// conservative instead of failing the run.
type Parser struct {
	grammar *Grammar
}

func New(grammar *Grammar) *Parser {
	return &Parser{grammar: grammar}
}

// Parse parses one file. path is used only for diagnostics.
func (p *Parser) Parse(source []byte, path string) (*pyast.Module, error) {
	sp := sitter.NewParser()
	defer sp.Close()
	sp.SetLanguage(p.grammar.language())

	tree := sp.Parse(source, nil)
	if tree == nil {
		return nil, errors.New(errors.CodeValidation, "parse failed").
			WithContext(errors.CtxPath, path)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, errors.New(errors.CodeValidation, "syntax error").
			WithContext(errors.CtxPath, path).
			WithContext(errors.CtxLine, firstErrorLine(root))
	}

	b := &builder{src: source}
	mod := &pyast.Module{Body: b.stmtList(root)}
	mod.Position = b.pos(root)
	return mod, nil
}

// firstErrorLine descends to the deepest subtree still carrying the
// error flag and reports its starting line, 1-based.
func firstErrorLine(n *sitter.Node) int {
	for {
		descended := false
		for i := uint(0); i < n.ChildCount(); i++ {
			c := n.Child(i)
			if c.HasError() {
				n = c
				descended = true
				break
			}
		}
		if !descended {
			return int(n.StartPosition().Row) + 1
		}
	}
}

type builder struct {
	src []byte
}

func (b *builder) text(n *sitter.Node) string {
	return string(b.src[n.StartByte():n.EndByte()])
}

func (b *builder) pos(n *sitter.Node) pyast.Position {
	return pyast.NewPos(int(n.StartPosition().Row)+1, int(n.StartPosition().Column)+1)
}

func (b *builder) stmtList(n *sitter.Node) []pyast.Stmt {
	var out []pyast.Stmt
	for i := uint(0); i < n.NamedChildCount(); i++ {
		c := n.NamedChild(i)
		if c.Kind() == "comment" {
			continue
		}
		out = append(out, b.stmt(c))
	}
	return out
}

func (b *builder) block(n *sitter.Node) []pyast.Stmt {
	if n == nil {
		return nil
	}
	return b.stmtList(n)
}

func (b *builder) stmt(n *sitter.Node) pyast.Stmt {
	switch n.Kind() {
	case "expression_statement":
		if n.NamedChildCount() == 1 {
			inner := n.NamedChild(0)
			switch inner.Kind() {
			case "assignment", "augmented_assignment":
				return b.stmt(inner)
			}
			s := &pyast.ExprStmt{Value: b.expr(inner)}
			s.Position = b.pos(n)
			return s
		}
		return b.opaqueStmt(n)
	case "assignment":
		return b.assignment(n)
	case "augmented_assignment":
		s := &pyast.AugAssign{
			Target: b.expr(n.ChildByFieldName("left")),
			Op:     b.operatorText(n),
			Value:  b.expr(n.ChildByFieldName("right")),
		}
		s.Position = b.pos(n)
		return s
	case "decorated_definition":
		return b.decorated(n)
	case "function_definition":
		return b.functionDef(n, nil)
	case "class_definition":
		return b.classDef(n, nil)
	case "if_statement":
		return b.ifStmt(n)
	case "while_statement":
		s := &pyast.While{
			Cond: b.expr(n.ChildByFieldName("condition")),
			Body: b.block(n.ChildByFieldName("body")),
		}
		if alt := findChildKind(n, "else_clause"); alt != nil {
			s.Orelse = b.block(alt.ChildByFieldName("body"))
		}
		s.Position = b.pos(n)
		return s
	case "for_statement":
		s := &pyast.For{
			Target: b.expr(n.ChildByFieldName("left")),
			Iter:   b.expr(n.ChildByFieldName("right")),
			Body:   b.block(n.ChildByFieldName("body")),
			Async:  hasKeyword(n, "async"),
		}
		if alt := findChildKind(n, "else_clause"); alt != nil {
			s.Orelse = b.block(alt.ChildByFieldName("body"))
		}
		s.Position = b.pos(n)
		return s
	case "with_statement":
		return b.withStmt(n)
	case "try_statement":
		return b.tryStmt(n)
	case "raise_statement":
		s := &pyast.Raise{}
		named := namedChildren(n)
		if len(named) > 0 {
			s.Exc = b.expr(named[0])
		}
		if len(named) > 1 {
			s.Cause = b.expr(named[1])
		}
		s.Position = b.pos(n)
		return s
	case "import_statement":
		s := &pyast.Import{Names: b.importAliases(n)}
		s.Position = b.pos(n)
		return s
	case "import_from_statement", "future_import_statement":
		return b.importFrom(n)
	case "global_statement":
		s := &pyast.Global{Names: b.identifierTexts(n)}
		s.Position = b.pos(n)
		return s
	case "nonlocal_statement":
		s := &pyast.Nonlocal{Names: b.identifierTexts(n)}
		s.Position = b.pos(n)
		return s
	case "return_statement":
		s := &pyast.Return{}
		if named := namedChildren(n); len(named) > 0 {
			s.Value = b.exprOrTuple(named)
		}
		s.Position = b.pos(n)
		return s
	case "pass_statement":
		s := &pyast.Pass{}
		s.Position = b.pos(n)
		return s
	case "break_statement":
		s := &pyast.Break{}
		s.Position = b.pos(n)
		return s
	case "continue_statement":
		s := &pyast.Continue{}
		s.Position = b.pos(n)
		return s
	case "assert_statement":
		s := &pyast.Assert{}
		named := namedChildren(n)
		if len(named) > 0 {
			s.Test = b.expr(named[0])
		}
		if len(named) > 1 {
			s.Msg = b.expr(named[1])
		}
		s.Position = b.pos(n)
		return s
	case "delete_statement":
		s := &pyast.Delete{}
		for _, c := range namedChildren(n) {
			if c.Kind() == "expression_list" {
				for _, e := range namedChildren(c) {
					s.Targets = append(s.Targets, b.expr(e))
				}
			} else {
				s.Targets = append(s.Targets, b.expr(c))
			}
		}
		s.Position = b.pos(n)
		return s
	default:
		return b.opaqueStmt(n)
	}
}

// assignment converts one assignment, flattening chained targets:
// the grammar nests "a = b = v" as assignment(left=a, right=assignment).
func (b *builder) assignment(n *sitter.Node) pyast.Stmt {
	if typ := n.ChildByFieldName("type"); typ != nil {
		s := &pyast.AnnAssign{
			Target:     b.expr(n.ChildByFieldName("left")),
			Annotation: b.typeExpr(typ),
		}
		if right := n.ChildByFieldName("right"); right != nil {
			s.Value = b.expr(right)
		}
		s.Position = b.pos(n)
		return s
	}

	s := &pyast.Assign{}
	s.Position = b.pos(n)
	cur := n
	for {
		s.Targets = append(s.Targets, b.expr(cur.ChildByFieldName("left")))
		right := cur.ChildByFieldName("right")
		if right != nil && right.Kind() == "assignment" {
			cur = right
			continue
		}
		if right != nil {
			s.Value = b.expr(right)
		}
		return s
	}
}

// typeExpr unwraps the "type" wrapper node around annotations.
func (b *builder) typeExpr(n *sitter.Node) pyast.Expr {
	if n.Kind() == "type" && n.NamedChildCount() == 1 {
		return b.expr(n.NamedChild(0))
	}
	return b.opaqueExpr(n)
}

func (b *builder) decorated(n *sitter.Node) pyast.Stmt {
	var decorators []pyast.Expr
	for i := uint(0); i < n.NamedChildCount(); i++ {
		c := n.NamedChild(i)
		if c.Kind() == "decorator" && c.NamedChildCount() > 0 {
			decorators = append(decorators, b.expr(c.NamedChild(0)))
		}
	}
	def := n.ChildByFieldName("definition")
	if def == nil {
		return b.opaqueStmt(n)
	}
	switch def.Kind() {
	case "function_definition":
		return b.functionDef(def, decorators)
	case "class_definition":
		return b.classDef(def, decorators)
	}
	return b.opaqueStmt(n)
}

func (b *builder) functionDef(n *sitter.Node, decorators []pyast.Expr) pyast.Stmt {
	s := &pyast.FunctionDef{
		Name:       b.text(n.ChildByFieldName("name")),
		Params:     b.paramList(n.ChildByFieldName("parameters")),
		Body:       b.block(n.ChildByFieldName("body")),
		Decorators: decorators,
		Async:      hasKeyword(n, "async"),
	}
	if rt := n.ChildByFieldName("return_type"); rt != nil {
		s.Returns = b.typeExpr(rt)
	}
	s.Position = b.pos(n)
	return s
}

func (b *builder) classDef(n *sitter.Node, decorators []pyast.Expr) pyast.Stmt {
	s := &pyast.ClassDef{
		Name:       b.text(n.ChildByFieldName("name")),
		Body:       b.block(n.ChildByFieldName("body")),
		Decorators: decorators,
	}
	if sup := n.ChildByFieldName("superclasses"); sup != nil {
		for _, c := range namedChildren(sup) {
			if c.Kind() == "keyword_argument" {
				s.Keywords = append(s.Keywords, pyast.Keyword{
					Name:  b.text(c.ChildByFieldName("name")),
					Value: b.expr(c.ChildByFieldName("value")),
				})
			} else {
				s.Bases = append(s.Bases, b.expr(c))
			}
		}
	}
	s.Position = b.pos(n)
	return s
}

// ifStmt rebuilds the elif chain as nested If nodes in Orelse.
func (b *builder) ifStmt(n *sitter.Node) pyast.Stmt {
	s := &pyast.If{
		Cond: b.expr(n.ChildByFieldName("condition")),
		Body: b.block(n.ChildByFieldName("consequence")),
	}
	s.Position = b.pos(n)

	tail := &s.Orelse
	for i := uint(0); i < n.NamedChildCount(); i++ {
		c := n.NamedChild(i)
		switch c.Kind() {
		case "elif_clause":
			elif := &pyast.If{
				Cond: b.expr(c.ChildByFieldName("condition")),
				Body: b.block(c.ChildByFieldName("consequence")),
			}
			elif.Position = b.pos(c)
			*tail = []pyast.Stmt{elif}
			tail = &elif.Orelse
		case "else_clause":
			*tail = b.block(c.ChildByFieldName("body"))
		}
	}
	return s
}

func (b *builder) withStmt(n *sitter.Node) pyast.Stmt {
	s := &pyast.With{
		Body:  b.block(n.ChildByFieldName("body")),
		Async: hasKeyword(n, "async"),
	}
	if clause := findChildKind(n, "with_clause"); clause != nil {
		for _, item := range namedChildren(clause) {
			if item.Kind() != "with_item" {
				continue
			}
			val := item.ChildByFieldName("value")
			if val == nil && item.NamedChildCount() > 0 {
				val = item.NamedChild(0)
			}
			wi := pyast.WithItem{}
			if val != nil && val.Kind() == "as_pattern" {
				wi.Value = b.expr(val.NamedChild(0))
				if alias := val.ChildByFieldName("alias"); alias != nil {
					wi.Alias = b.asPatternTarget(alias)
				}
			} else if val != nil {
				wi.Value = b.expr(val)
			}
			s.Items = append(s.Items, wi)
		}
	}
	s.Position = b.pos(n)
	return s
}

func (b *builder) asPatternTarget(n *sitter.Node) pyast.Expr {
	if n.Kind() == "as_pattern_target" && n.NamedChildCount() > 0 {
		return b.expr(n.NamedChild(0))
	}
	return b.expr(n)
}

func (b *builder) tryStmt(n *sitter.Node) pyast.Stmt {
	s := &pyast.Try{Body: b.block(n.ChildByFieldName("body"))}
	for i := uint(0); i < n.NamedChildCount(); i++ {
		c := n.NamedChild(i)
		switch c.Kind() {
		case "except_clause":
			s.Handlers = append(s.Handlers, b.exceptClause(c))
		case "else_clause":
			s.Orelse = b.block(c.ChildByFieldName("body"))
		case "finally_clause":
			if blk := findChildKind(c, "block"); blk != nil {
				s.Final = b.stmtList(blk)
			}
		}
	}
	s.Position = b.pos(n)
	return s
}

func (b *builder) exceptClause(c *sitter.Node) pyast.ExceptHandler {
	h := pyast.ExceptHandler{}
	for j := uint(0); j < c.NamedChildCount(); j++ {
		cc := c.NamedChild(j)
		switch cc.Kind() {
		case "block":
			h.Body = b.stmtList(cc)
		case "as_pattern":
			h.Type = b.expr(cc.NamedChild(0))
			if alias := cc.ChildByFieldName("alias"); alias != nil {
				if name, ok := b.asPatternTarget(alias).(*pyast.Name); ok {
					h.Name = name.ID
				}
			}
		case "comment":
		default:
			if h.Type == nil {
				h.Type = b.expr(cc)
			}
		}
	}
	return h
}

func (b *builder) importAliases(n *sitter.Node) []pyast.ImportAlias {
	var out []pyast.ImportAlias
	for i := uint(0); i < n.NamedChildCount(); i++ {
		c := n.NamedChild(i)
		switch c.Kind() {
		case "dotted_name", "identifier":
			out = append(out, pyast.ImportAlias{Name: b.text(c)})
		case "aliased_import":
			a := pyast.ImportAlias{Name: b.text(c.ChildByFieldName("name"))}
			if alias := c.ChildByFieldName("alias"); alias != nil {
				a.AsName = b.text(alias)
			}
			out = append(out, a)
		}
	}
	return out
}

func (b *builder) importFrom(n *sitter.Node) pyast.Stmt {
	s := &pyast.ImportFrom{}
	modNode := n.ChildByFieldName("module_name")
	if modNode != nil {
		if modNode.Kind() == "relative_import" {
			text := b.text(modNode)
			trimmed := strings.TrimLeft(text, ".")
			s.Level = len(text) - len(trimmed)
			s.Module = trimmed
		} else {
			s.Module = b.text(modNode)
		}
	}
	if n.Kind() == "future_import_statement" {
		s.Module = "__future__"
	}
	for i := uint(0); i < n.NamedChildCount(); i++ {
		c := n.NamedChild(i)
		if modNode != nil && c.StartByte() == modNode.StartByte() && c.EndByte() == modNode.EndByte() {
			continue
		}
		switch c.Kind() {
		case "dotted_name", "identifier":
			s.Names = append(s.Names, pyast.ImportAlias{Name: b.text(c)})
		case "aliased_import":
			a := pyast.ImportAlias{Name: b.text(c.ChildByFieldName("name"))}
			if alias := c.ChildByFieldName("alias"); alias != nil {
				a.AsName = b.text(alias)
			}
			s.Names = append(s.Names, a)
		case "wildcard_import":
			s.Names = append(s.Names, pyast.ImportAlias{Name: "*"})
		}
	}
	s.Position = b.pos(n)
	return s
}

func (b *builder) paramList(n *sitter.Node) []pyast.Param {
	if n == nil {
		return nil
	}
	var out []pyast.Param
	for _, c := range namedChildren(n) {
		switch c.Kind() {
		case "identifier":
			out = append(out, pyast.Param{Name: b.text(c)})
		case "default_parameter":
			out = append(out, pyast.Param{
				Name:    b.text(c.ChildByFieldName("name")),
				Default: b.expr(c.ChildByFieldName("value")),
			})
		case "typed_parameter":
			p := pyast.Param{Annotation: b.typeExpr(c.ChildByFieldName("type"))}
			if c.NamedChildCount() > 0 {
				first := c.NamedChild(0)
				switch first.Kind() {
				case "identifier":
					p.Name = b.text(first)
				case "list_splat_pattern":
					p.Kind = pyast.ParamStar
					p.Name = b.splatName(first)
				case "dictionary_splat_pattern":
					p.Kind = pyast.ParamDoubleStar
					p.Name = b.splatName(first)
				}
			}
			out = append(out, p)
		case "typed_default_parameter":
			out = append(out, pyast.Param{
				Name:       b.text(c.ChildByFieldName("name")),
				Annotation: b.typeExpr(c.ChildByFieldName("type")),
				Default:    b.expr(c.ChildByFieldName("value")),
			})
		case "list_splat_pattern":
			out = append(out, pyast.Param{Kind: pyast.ParamStar, Name: b.splatName(c)})
		case "dictionary_splat_pattern":
			out = append(out, pyast.Param{Kind: pyast.ParamDoubleStar, Name: b.splatName(c)})
		case "keyword_separator":
			out = append(out, pyast.Param{Kind: pyast.ParamStarMarker})
		case "positional_separator":
			out = append(out, pyast.Param{Kind: pyast.ParamSlashMarker})
		}
	}
	return out
}

func (b *builder) splatName(n *sitter.Node) string {
	if n.NamedChildCount() > 0 {
		return b.text(n.NamedChild(0))
	}
	return ""
}

func (b *builder) expr(n *sitter.Node) pyast.Expr {
	if n == nil {
		return nil
	}
	switch n.Kind() {
	case "identifier":
		e := &pyast.Name{ID: b.text(n)}
		e.Position = b.pos(n)
		return e
	case "attribute":
		e := &pyast.Attribute{
			Value: b.expr(n.ChildByFieldName("object")),
			Attr:  b.text(n.ChildByFieldName("attribute")),
		}
		e.Position = b.pos(n)
		return e
	case "subscript":
		return b.subscript(n)
	case "call":
		return b.call(n)
	case "binary_operator":
		e := &pyast.BinOp{
			Left:  b.expr(n.ChildByFieldName("left")),
			Op:    b.operatorText(n),
			Right: b.expr(n.ChildByFieldName("right")),
		}
		e.Position = b.pos(n)
		return e
	case "boolean_operator":
		e := &pyast.BoolOp{
			Op:     b.operatorText(n),
			Values: []pyast.Expr{b.expr(n.ChildByFieldName("left")), b.expr(n.ChildByFieldName("right"))},
		}
		e.Position = b.pos(n)
		return e
	case "not_operator":
		e := &pyast.UnaryOp{Op: "not", Operand: b.expr(n.ChildByFieldName("argument"))}
		e.Position = b.pos(n)
		return e
	case "unary_operator":
		e := &pyast.UnaryOp{Op: b.operatorText(n), Operand: b.expr(n.ChildByFieldName("argument"))}
		e.Position = b.pos(n)
		return e
	case "comparison_operator":
		e := &pyast.Compare{Ops: comparisonOps(n)}
		operands := namedChildren(n)
		if len(operands) > 0 {
			e.Left = b.expr(operands[0])
			for _, rest := range operands[1:] {
				e.Comparators = append(e.Comparators, b.expr(rest))
			}
		}
		e.Position = b.pos(n)
		return e
	case "conditional_expression":
		named := namedChildren(n)
		if len(named) != 3 {
			return b.opaqueExpr(n)
		}
		e := &pyast.IfExp{Body: b.expr(named[0]), Cond: b.expr(named[1]), Orelse: b.expr(named[2])}
		e.Position = b.pos(n)
		return e
	case "lambda":
		e := &pyast.Lambda{
			Params: b.paramList(n.ChildByFieldName("parameters")),
			Body:   b.expr(n.ChildByFieldName("body")),
		}
		e.Position = b.pos(n)
		return e
	case "integer", "float", "true", "false", "none", "ellipsis":
		e := &pyast.Literal{Text: b.text(n)}
		e.Position = b.pos(n)
		return e
	case "string", "concatenated_string":
		e := &pyast.Str{Raw: b.text(n)}
		e.Position = b.pos(n)
		return e
	case "tuple", "tuple_pattern":
		e := &pyast.TupleExpr{Parens: true}
		for _, c := range namedChildren(n) {
			e.Elts = append(e.Elts, b.expr(c))
		}
		e.Position = b.pos(n)
		return e
	case "expression_list", "pattern_list":
		e := &pyast.TupleExpr{}
		for _, c := range namedChildren(n) {
			e.Elts = append(e.Elts, b.expr(c))
		}
		e.Position = b.pos(n)
		return e
	case "list", "list_pattern":
		e := &pyast.ListExpr{}
		for _, c := range namedChildren(n) {
			e.Elts = append(e.Elts, b.expr(c))
		}
		e.Position = b.pos(n)
		return e
	case "set":
		e := &pyast.SetExpr{}
		for _, c := range namedChildren(n) {
			e.Elts = append(e.Elts, b.expr(c))
		}
		e.Position = b.pos(n)
		return e
	case "dictionary":
		e := &pyast.DictExpr{}
		for _, c := range namedChildren(n) {
			switch c.Kind() {
			case "pair":
				e.Keys = append(e.Keys, b.expr(c.ChildByFieldName("key")))
				e.Values = append(e.Values, b.expr(c.ChildByFieldName("value")))
			case "dictionary_splat":
				e.Keys = append(e.Keys, nil)
				e.Values = append(e.Values, b.expr(c.NamedChild(0)))
			}
		}
		e.Position = b.pos(n)
		return e
	case "list_splat", "list_splat_pattern":
		e := &pyast.Starred{Value: b.expr(n.NamedChild(0))}
		e.Position = b.pos(n)
		return e
	case "named_expression":
		e := &pyast.NamedExpr{Value: b.expr(n.ChildByFieldName("value"))}
		if name := n.ChildByFieldName("name"); name != nil {
			tgt := &pyast.Name{ID: b.text(name)}
			tgt.Position = b.pos(name)
			e.Target = tgt
		}
		e.Position = b.pos(n)
		return e
	case "list_comprehension":
		e := &pyast.ListComp{Elt: b.expr(n.ChildByFieldName("body")), Generators: b.generators(n)}
		e.Position = b.pos(n)
		return e
	case "set_comprehension":
		e := &pyast.SetComp{Elt: b.expr(n.ChildByFieldName("body")), Generators: b.generators(n)}
		e.Position = b.pos(n)
		return e
	case "generator_expression":
		e := &pyast.GeneratorExp{Elt: b.expr(n.ChildByFieldName("body")), Generators: b.generators(n)}
		e.Position = b.pos(n)
		return e
	case "dictionary_comprehension":
		e := &pyast.DictComp{Generators: b.generators(n)}
		if body := n.ChildByFieldName("body"); body != nil && body.Kind() == "pair" {
			e.Key = b.expr(body.ChildByFieldName("key"))
			e.Value = b.expr(body.ChildByFieldName("value"))
		}
		e.Position = b.pos(n)
		return e
	case "parenthesized_expression":
		if n.NamedChildCount() == 1 {
			inner := b.expr(n.NamedChild(0))
			if t, ok := inner.(*pyast.TupleExpr); ok {
				t.Parens = true
			}
			return inner
		}
		return b.opaqueExpr(n)
	case "await":
		e := &pyast.Await{Value: b.expr(n.NamedChild(0))}
		e.Position = b.pos(n)
		return e
	case "yield":
		e := &pyast.Yield{From: hasKeyword(n, "from")}
		if named := namedChildren(n); len(named) > 0 {
			e.Value = b.exprOrTuple(named)
		}
		e.Position = b.pos(n)
		return e
	case "slice":
		return b.slice(n)
	case "keyword_argument":
		// Only reachable via opaque paths; normal calls handle it inline.
		return b.opaqueExpr(n)
	default:
		return b.opaqueExpr(n)
	}
}

func (b *builder) subscript(n *sitter.Node) pyast.Expr {
	value := n.ChildByFieldName("value")
	e := &pyast.Subscript{Value: b.expr(value)}
	var idx []pyast.Expr
	for i := uint(0); i < n.NamedChildCount(); i++ {
		c := n.NamedChild(i)
		if value != nil && c.StartByte() == value.StartByte() && c.EndByte() == value.EndByte() {
			continue
		}
		if c.Kind() == "comment" {
			continue
		}
		idx = append(idx, b.expr(c))
	}
	switch len(idx) {
	case 0:
	case 1:
		e.Index = idx[0]
	default:
		e.Index = &pyast.TupleExpr{Elts: idx}
	}
	e.Position = b.pos(n)
	return e
}

func (b *builder) call(n *sitter.Node) pyast.Expr {
	e := &pyast.Call{Func: b.expr(n.ChildByFieldName("function"))}
	if args := n.ChildByFieldName("arguments"); args != nil {
		for _, c := range namedChildren(args) {
			switch c.Kind() {
			case "keyword_argument":
				e.Keywords = append(e.Keywords, pyast.Keyword{
					Name:  b.text(c.ChildByFieldName("name")),
					Value: b.expr(c.ChildByFieldName("value")),
				})
			case "dictionary_splat":
				e.Keywords = append(e.Keywords, pyast.Keyword{Value: b.expr(c.NamedChild(0))})
			case "list_splat":
				star := &pyast.Starred{Value: b.expr(c.NamedChild(0))}
				star.Position = b.pos(c)
				e.Args = append(e.Args, star)
			default:
				e.Args = append(e.Args, b.expr(c))
			}
		}
	}
	e.Position = b.pos(n)
	return e
}

// slice splits the up-to-three operands on the unnamed ":" tokens.
func (b *builder) slice(n *sitter.Node) pyast.Expr {
	e := &pyast.Slice{}
	part := 0
	for i := uint(0); i < n.ChildCount(); i++ {
		c := n.Child(i)
		if !c.IsNamed() {
			if c.Kind() == ":" {
				part++
			}
			continue
		}
		switch part {
		case 0:
			e.Lower = b.expr(c)
		case 1:
			e.Upper = b.expr(c)
		default:
			e.Step = b.expr(c)
		}
	}
	e.Position = b.pos(n)
	return e
}

// exprOrTuple wraps multiple expressions (return a, b) into a bare tuple.
func (b *builder) exprOrTuple(nodes []*sitter.Node) pyast.Expr {
	if len(nodes) == 1 {
		return b.expr(nodes[0])
	}
	t := &pyast.TupleExpr{}
	for _, c := range nodes {
		t.Elts = append(t.Elts, b.expr(c))
	}
	t.Position = b.pos(nodes[0])
	return t
}

func (b *builder) generators(n *sitter.Node) []pyast.Comprehension {
	var out []pyast.Comprehension
	for i := uint(0); i < n.NamedChildCount(); i++ {
		c := n.NamedChild(i)
		switch c.Kind() {
		case "for_in_clause":
			out = append(out, pyast.Comprehension{
				Target: b.expr(c.ChildByFieldName("left")),
				Iter:   b.expr(c.ChildByFieldName("right")),
				Async:  hasKeyword(c, "async"),
			})
		case "if_clause":
			if len(out) > 0 && c.NamedChildCount() > 0 {
				last := &out[len(out)-1]
				last.Ifs = append(last.Ifs, b.expr(c.NamedChild(0)))
			}
		}
	}
	return out
}

func (b *builder) operatorText(n *sitter.Node) string {
	if op := n.ChildByFieldName("operator"); op != nil {
		return b.text(op)
	}
	return "?"
}

// comparisonOps merges adjacent operator tokens so "not in" and
// "is not" come out as single operators.
func comparisonOps(n *sitter.Node) []string {
	var ops []string
	var pending string
	flush := func() {
		if pending != "" {
			ops = append(ops, pending)
			pending = ""
		}
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		c := n.Child(i)
		if c.IsNamed() {
			flush()
			continue
		}
		if pending != "" {
			pending += " " + c.Kind()
		} else {
			pending = c.Kind()
		}
	}
	flush()
	return ops
}

func (b *builder) identifierTexts(n *sitter.Node) []string {
	var out []string
	for _, c := range namedChildren(n) {
		if c.Kind() == "identifier" {
			out = append(out, b.text(c))
		}
	}
	return out
}

func (b *builder) opaqueStmt(n *sitter.Node) pyast.Stmt {
	s := &pyast.OpaqueStmt{Text: b.text(n), Names: b.collectIdentifiers(n)}
	s.Position = b.pos(n)
	return s
}

func (b *builder) opaqueExpr(n *sitter.Node) pyast.Expr {
	e := &pyast.OpaqueExpr{Text: b.text(n), Names: b.collectIdentifiers(n)}
	e.Position = b.pos(n)
	return e
}

func (b *builder) collectIdentifiers(n *sitter.Node) []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(*sitter.Node)
	walk = func(c *sitter.Node) {
		if c.Kind() == "identifier" {
			id := b.text(c)
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
			return
		}
		for i := uint(0); i < c.NamedChildCount(); i++ {
			walk(c.NamedChild(i))
		}
	}
	walk(n)
	return out
}

func namedChildren(n *sitter.Node) []*sitter.Node {
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := uint(0); i < n.NamedChildCount(); i++ {
		c := n.NamedChild(i)
		if c.Kind() == "comment" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func findChildKind(n *sitter.Node, kind string) *sitter.Node {
	for i := uint(0); i < n.NamedChildCount(); i++ {
		if c := n.NamedChild(i); c.Kind() == kind {
			return c
		}
	}
	return nil
}

func hasKeyword(n *sitter.Node, kw string) bool {
	for i := uint(0); i < n.ChildCount(); i++ {
		c := n.Child(i)
		if !c.IsNamed() && c.Kind() == kw {
			return true
		}
	}
	return false
}
