package pyast

import (
	"fmt"
	"strings"
)

// Unparse serializes a module back to source text.
func Unparse(m *Module) string {
	var p printer
	p.stmts(m.Body)
	return p.sb.String()
}

// UnparseStmt serializes a single statement at the top level.
func UnparseStmt(s Stmt) string {
	var p printer
	p.stmt(s)
	return strings.TrimRight(p.sb.String(), "\n")
}

type printer struct {
	sb     strings.Builder
	indent int
}

func (p *printer) line(s string) {
	for i := 0; i < p.indent; i++ {
		p.sb.WriteString("    ")
	}
	p.sb.WriteString(s)
	p.sb.WriteByte('\n')
}

func (p *printer) stmts(body []Stmt) {
	if len(body) == 0 {
		p.line("pass")
		return
	}
	for _, s := range body {
		p.stmt(s)
	}
}

func (p *printer) block(body []Stmt) {
	p.indent++
	p.stmts(body)
	p.indent--
}

func (p *printer) stmt(s Stmt) {
	switch v := s.(type) {
	case *FunctionDef:
		for _, d := range v.Decorators {
			p.line("@" + p.expr(d))
		}
		kw := "def"
		if v.Async {
			kw = "async def"
		}
		sig := fmt.Sprintf("%s %s(%s)", kw, v.Name, p.params(v.Params))
		if v.Returns != nil {
			sig += " -> " + p.expr(v.Returns)
		}
		p.line(sig + ":")
		p.block(v.Body)
	case *ClassDef:
		for _, d := range v.Decorators {
			p.line("@" + p.expr(d))
		}
		head := "class " + v.Name
		if len(v.Bases) > 0 || len(v.Keywords) > 0 {
			parts := make([]string, 0, len(v.Bases)+len(v.Keywords))
			for _, b := range v.Bases {
				parts = append(parts, p.expr(b))
			}
			for _, k := range v.Keywords {
				parts = append(parts, p.keyword(k))
			}
			head += "(" + strings.Join(parts, ", ") + ")"
		}
		p.line(head + ":")
		p.block(v.Body)
	case *Assign:
		parts := make([]string, 0, len(v.Targets)+1)
		for _, t := range v.Targets {
			parts = append(parts, p.expr(t))
		}
		parts = append(parts, p.expr(v.Value))
		p.line(strings.Join(parts, " = "))
	case *AnnAssign:
		out := p.expr(v.Target) + ": " + p.expr(v.Annotation)
		if v.Value != nil {
			out += " = " + p.expr(v.Value)
		}
		p.line(out)
	case *AugAssign:
		p.line(p.expr(v.Target) + " " + v.Op + " " + p.expr(v.Value))
	case *Return:
		if v.Value != nil {
			p.line("return " + p.expr(v.Value))
		} else {
			p.line("return")
		}
	case *If:
		p.ifChain(v, "if")
	case *While:
		p.line("while " + p.expr(v.Cond) + ":")
		p.block(v.Body)
		if len(v.Orelse) > 0 {
			p.line("else:")
			p.block(v.Orelse)
		}
	case *For:
		kw := "for"
		if v.Async {
			kw = "async for"
		}
		p.line(kw + " " + p.expr(v.Target) + " in " + p.expr(v.Iter) + ":")
		p.block(v.Body)
		if len(v.Orelse) > 0 {
			p.line("else:")
			p.block(v.Orelse)
		}
	case *With:
		kw := "with"
		if v.Async {
			kw = "async with"
		}
		items := make([]string, 0, len(v.Items))
		for _, it := range v.Items {
			s := p.expr(it.Value)
			if it.Alias != nil {
				s += " as " + p.expr(it.Alias)
			}
			items = append(items, s)
		}
		p.line(kw + " " + strings.Join(items, ", ") + ":")
		p.block(v.Body)
	case *Try:
		p.line("try:")
		p.block(v.Body)
		for _, h := range v.Handlers {
			head := "except"
			if h.Type != nil {
				head += " " + p.expr(h.Type)
				if h.Name != "" {
					head += " as " + h.Name
				}
			}
			p.line(head + ":")
			p.block(h.Body)
		}
		if len(v.Orelse) > 0 {
			p.line("else:")
			p.block(v.Orelse)
		}
		if len(v.Final) > 0 {
			p.line("finally:")
			p.block(v.Final)
		}
	case *Raise:
		switch {
		case v.Exc == nil:
			p.line("raise")
		case v.Cause != nil:
			p.line("raise " + p.expr(v.Exc) + " from " + p.expr(v.Cause))
		default:
			p.line("raise " + p.expr(v.Exc))
		}
	case *Import:
		parts := make([]string, 0, len(v.Names))
		for _, a := range v.Names {
			parts = append(parts, aliasText(a))
		}
		p.line("import " + strings.Join(parts, ", "))
	case *ImportFrom:
		parts := make([]string, 0, len(v.Names))
		for _, a := range v.Names {
			parts = append(parts, aliasText(a))
		}
		p.line("from " + strings.Repeat(".", v.Level) + v.Module + " import " + strings.Join(parts, ", "))
	case *Global:
		p.line("global " + strings.Join(v.Names, ", "))
	case *Nonlocal:
		p.line("nonlocal " + strings.Join(v.Names, ", "))
	case *ExprStmt:
		p.line(p.expr(v.Value))
	case *Pass:
		p.line("pass")
	case *Break:
		p.line("break")
	case *Continue:
		p.line("continue")
	case *Assert:
		if v.Msg != nil {
			p.line("assert " + p.expr(v.Test) + ", " + p.expr(v.Msg))
		} else {
			p.line("assert " + p.expr(v.Test))
		}
	case *Delete:
		parts := make([]string, 0, len(v.Targets))
		for _, t := range v.Targets {
			parts = append(parts, p.expr(t))
		}
		p.line("del " + strings.Join(parts, ", "))
	case *OpaqueStmt:
		for _, ln := range strings.Split(strings.TrimRight(v.Text, "\n"), "\n") {
			p.line(ln)
		}
	default:
		p.line(fmt.Sprintf("# <unprintable %T>", s))
	}
}

// ifChain flattens nested else-if into elif for readable output.
func (p *printer) ifChain(v *If, kw string) {
	p.line(kw + " " + p.expr(v.Cond) + ":")
	p.block(v.Body)
	if len(v.Orelse) == 0 {
		return
	}
	if len(v.Orelse) == 1 {
		if next, ok := v.Orelse[0].(*If); ok {
			p.ifChain(next, "elif")
			return
		}
	}
	p.line("else:")
	p.block(v.Orelse)
}

func aliasText(a ImportAlias) string {
	if a.AsName != "" {
		return a.Name + " as " + a.AsName
	}
	return a.Name
}

func (p *printer) params(params []Param) string {
	parts := make([]string, 0, len(params))
	for _, prm := range params {
		parts = append(parts, p.param(prm))
	}
	return strings.Join(parts, ", ")
}

func (p *printer) param(prm Param) string {
	var out string
	switch prm.Kind {
	case ParamStar:
		out = "*" + prm.Name
	case ParamDoubleStar:
		out = "**" + prm.Name
	case ParamStarMarker:
		return "*"
	case ParamSlashMarker:
		return "/"
	default:
		out = prm.Name
	}
	if prm.Annotation != nil {
		out += ": " + p.expr(prm.Annotation)
		if prm.Default != nil {
			out += " = " + p.expr(prm.Default)
		}
		return out
	}
	if prm.Default != nil {
		out += "=" + p.expr(prm.Default)
	}
	return out
}

func (p *printer) keyword(k Keyword) string {
	if k.Name == "" {
		return "**" + p.expr(k.Value)
	}
	return k.Name + "=" + p.expr(k.Value)
}

func (p *printer) expr(e Expr) string {
	switch v := e.(type) {
	case *Name:
		return v.ID
	case *Attribute:
		return p.exprAtom(v.Value) + "." + v.Attr
	case *Subscript:
		return p.exprAtom(v.Value) + "[" + p.expr(v.Index) + "]"
	case *Call:
		args := make([]string, 0, len(v.Args)+len(v.Keywords))
		for _, a := range v.Args {
			args = append(args, p.expr(a))
		}
		for _, k := range v.Keywords {
			args = append(args, p.keyword(k))
		}
		return p.exprAtom(v.Func) + "(" + strings.Join(args, ", ") + ")"
	case *BinOp:
		return p.exprOperand(v.Left) + " " + v.Op + " " + p.exprOperand(v.Right)
	case *BoolOp:
		parts := make([]string, 0, len(v.Values))
		for _, e := range v.Values {
			parts = append(parts, p.exprOperand(e))
		}
		return strings.Join(parts, " "+v.Op+" ")
	case *UnaryOp:
		if v.Op == "not" {
			return "not " + p.exprOperand(v.Operand)
		}
		return v.Op + p.exprOperand(v.Operand)
	case *Compare:
		out := p.exprOperand(v.Left)
		for i, op := range v.Ops {
			out += " " + op + " " + p.exprOperand(v.Comparators[i])
		}
		return out
	case *IfExp:
		return p.exprOperand(v.Body) + " if " + p.exprOperand(v.Cond) + " else " + p.exprOperand(v.Orelse)
	case *Lambda:
		if len(v.Params) == 0 {
			return "lambda: " + p.expr(v.Body)
		}
		return "lambda " + p.params(v.Params) + ": " + p.expr(v.Body)
	case *Literal:
		return v.Text
	case *Str:
		return v.Raw
	case *TupleExpr:
		parts := make([]string, 0, len(v.Elts))
		for _, e := range v.Elts {
			parts = append(parts, p.expr(e))
		}
		if len(parts) == 1 {
			return "(" + parts[0] + ",)"
		}
		if v.Parens || len(parts) == 0 {
			return "(" + strings.Join(parts, ", ") + ")"
		}
		return strings.Join(parts, ", ")
	case *ListExpr:
		parts := make([]string, 0, len(v.Elts))
		for _, e := range v.Elts {
			parts = append(parts, p.expr(e))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *SetExpr:
		parts := make([]string, 0, len(v.Elts))
		for _, e := range v.Elts {
			parts = append(parts, p.expr(e))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *DictExpr:
		parts := make([]string, 0, len(v.Values))
		for i, val := range v.Values {
			if v.Keys[i] == nil {
				parts = append(parts, "**"+p.expr(val))
			} else {
				parts = append(parts, p.expr(v.Keys[i])+": "+p.expr(val))
			}
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *Starred:
		return "*" + p.expr(v.Value)
	case *NamedExpr:
		return "(" + v.Target.ID + " := " + p.expr(v.Value) + ")"
	case *ListComp:
		return "[" + p.expr(v.Elt) + p.generators(v.Generators) + "]"
	case *SetComp:
		return "{" + p.expr(v.Elt) + p.generators(v.Generators) + "}"
	case *GeneratorExp:
		return "(" + p.expr(v.Elt) + p.generators(v.Generators) + ")"
	case *DictComp:
		return "{" + p.expr(v.Key) + ": " + p.expr(v.Value) + p.generators(v.Generators) + "}"
	case *Yield:
		switch {
		case v.From:
			return "yield from " + p.expr(v.Value)
		case v.Value != nil:
			return "yield " + p.expr(v.Value)
		default:
			return "yield"
		}
	case *Await:
		return "await " + p.exprOperand(v.Value)
	case *Slice:
		out := ""
		if v.Lower != nil {
			out += p.expr(v.Lower)
		}
		out += ":"
		if v.Upper != nil {
			out += p.expr(v.Upper)
		}
		if v.Step != nil {
			out += ":" + p.expr(v.Step)
		}
		return out
	case *OpaqueExpr:
		return v.Text
	default:
		return fmt.Sprintf("<unprintable %T>", e)
	}
}

func (p *printer) generators(gens []Comprehension) string {
	var out string
	for _, g := range gens {
		kw := " for "
		if g.Async {
			kw = " async for "
		}
		out += kw + p.expr(g.Target) + " in " + p.exprOperand(g.Iter)
		for _, cond := range g.Ifs {
			out += " if " + p.exprOperand(cond)
		}
	}
	return out
}

// exprAtom parenthesizes operands that would not bind as a call or
// attribute base.
func (p *printer) exprAtom(e Expr) string {
	switch e.(type) {
	case *BinOp, *BoolOp, *UnaryOp, *Compare, *IfExp, *Lambda, *Await, *Yield, *Starred:
		return "(" + p.expr(e) + ")"
	}
	// Integer literals need parens before attribute access, but the
	// subset never produces that shape.
	return p.expr(e)
}

// exprOperand parenthesizes multi-element bare tuples and nested
// conditional forms so composed operators stay unambiguous.
func (p *printer) exprOperand(e Expr) string {
	switch v := e.(type) {
	case *TupleExpr:
		if !v.Parens && len(v.Elts) != 1 {
			return "(" + p.expr(e) + ")"
		}
	case *IfExp, *Lambda, *BoolOp, *Compare, *BinOp, *UnaryOp:
		return "(" + p.expr(e) + ")"
	case *Yield:
		return "(" + p.expr(e) + ")"
	}
	return p.expr(e)
}
