// Package auditor re-checks a bundled source text from scratch: it
// parses the text as a standalone module and reports anything a merge
// should never have produced. Findings are advisory; the auditor
// never edits the text.
package auditor

import (
	"context"
	"log/slog"
	"sort"

	"github.com/wlvh/PySymphony/internal/analyzer"
	"github.com/wlvh/PySymphony/internal/parser"
	"github.com/wlvh/PySymphony/internal/pyast"
	"github.com/wlvh/PySymphony/internal/scope"
)

const (
	FindingUndefinedName  = "undefined-name"
	FindingDuplicateName  = "duplicate-definition"
	FindingMultipleGuards = "multiple-main-guards"
)

type Finding struct {
	Kind    string
	Message string
	Line    int
}

type Report struct {
	Findings []Finding
}

// Clean reports whether the audit found nothing.
func (r *Report) Clean() bool { return len(r.Findings) == 0 }

type Auditor struct {
	grammar *parser.Grammar
	log     *slog.Logger
}

func New(log *slog.Logger) *Auditor {
	return &Auditor{grammar: parser.NewGrammar(), log: log}
}

// externalResolver treats every import as external: a bundle has no
// project modules left to resolve against.
type externalResolver struct{}

func (externalResolver) ResolvePlainImport(string, string, bool) (scope.ImportTarget, error) {
	return scope.ImportTarget{}, nil
}

func (externalResolver) ResolveFromImport(string, int, string, string, bool) (scope.ImportTarget, error) {
	return scope.ImportTarget{}, nil
}

// bundleIndex exposes the single audited module to the analyzer.
type bundleIndex struct {
	qname string
	sc    scope.ScopeID
	init  scope.SymbolID
}

func (ix bundleIndex) ModuleScope(qname string) (scope.ScopeID, bool) {
	if qname == ix.qname {
		return ix.sc, true
	}
	return scope.NoScope, false
}

func (ix bundleIndex) ModuleInit(qname string) (scope.SymbolID, bool) {
	if qname == ix.qname {
		return ix.init, true
	}
	return scope.NoSymbol, false
}

// Audit parses source and checks it for undefined references,
// duplicate top-level definitions and extra __main__ guards.
func (a *Auditor) Audit(ctx context.Context, source []byte, name string) (*Report, error) {
	_ = ctx

	p := parser.New(a.grammar)
	ast, err := p.Parse(source, name)
	if err != nil {
		return nil, err
	}

	table := scope.NewTable()
	builder := scope.NewBuilder(table, externalResolver{})
	result, err := builder.BuildModule(ast, "bundle", name, 0)
	if err != nil {
		return nil, err
	}

	an := analyzer.New(table, bundleIndex{qname: "bundle", sc: result.Scope, init: result.Init})
	an.CollectUndefined = true
	for i := range table.Symbols {
		an.AnalyzeSymbol(scope.SymbolID(i))
	}
	groups := [][]pyast.Stmt{result.InitStmts}
	if result.MainGuard != nil {
		groups = append(groups, result.MainGuard.Body)
	}
	an.AnalyzeInit(result.Init, result.Scope, groups...)

	var report Report
	for _, u := range an.Undefined() {
		report.Findings = append(report.Findings, Finding{
			Kind:    FindingUndefinedName,
			Message: "reference to undefined name " + u.Name,
			Line:    u.Line,
		})
	}
	for _, d := range builder.Diagnostics() {
		if d.Code == scope.DiagDuplicateSymbol {
			report.Findings = append(report.Findings, Finding{
				Kind:    FindingDuplicateName,
				Message: d.Message,
				Line:    d.Line,
			})
		}
	}
	if guards := countMainGuards(ast.Body); guards > 1 {
		report.Findings = append(report.Findings, Finding{
			Kind:    FindingMultipleGuards,
			Message: "bundle contains more than one __main__ guard",
		})
	}

	sort.SliceStable(report.Findings, func(i, j int) bool {
		return report.Findings[i].Line < report.Findings[j].Line
	})
	if !report.Clean() {
		a.log.Warn("audit findings", slog.Int("count", len(report.Findings)), slog.String("source", name))
	}
	return &report, nil
}

func countMainGuards(body []pyast.Stmt) int {
	n := 0
	for _, s := range body {
		ifStmt, ok := s.(*pyast.If)
		if !ok {
			continue
		}
		if isMainGuard(ifStmt) {
			n++
		}
	}
	return n
}

func isMainGuard(s *pyast.If) bool {
	cmp, ok := s.Cond.(*pyast.Compare)
	if !ok || len(cmp.Ops) != 1 || cmp.Ops[0] != "==" || len(cmp.Comparators) != 1 {
		return false
	}
	left, ok := cmp.Left.(*pyast.Name)
	if !ok || left.ID != "__name__" {
		return false
	}
	str, ok := cmp.Comparators[0].(*pyast.Str)
	if !ok {
		return false
	}
	v, ok := str.Value()
	return ok && v == "__main__"
}
