package linker

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wlvh/PySymphony/internal/analyzer"
	"github.com/wlvh/PySymphony/internal/loader"
	"github.com/wlvh/PySymphony/internal/parser"
	"github.com/wlvh/PySymphony/internal/pyast"
	"github.com/wlvh/PySymphony/internal/scope"
)

var tracer trace.Tracer = otel.Tracer("pysymphony/linker")

// Merger bundles an entry script and every project module it reaches
// into one self-contained source file. Each call to Merge builds a
// fresh symbol table and module set, so a Merger is reusable across
// runs and file changes.
type Merger struct {
	log     *slog.Logger
	grammar *parser.Grammar

	diags     []scope.Diagnostic
	undefined []analyzer.Undefined
	stats     Stats
}

// Stats summarizes the last Merge call.
type Stats struct {
	Modules     int
	Symbols     int
	Definitions int
}

func NewMerger(log *slog.Logger) *Merger {
	return &Merger{log: log, grammar: parser.NewGrammar()}
}

// Diagnostics returns the advisory findings of the last Merge call.
func (m *Merger) Diagnostics() []scope.Diagnostic { return m.diags }

// Undefined returns names the last Merge could not resolve to any
// project symbol, builtin or import.
func (m *Merger) Undefined() []analyzer.Undefined { return m.undefined }

// Stats returns counts collected during the last Merge call.
func (m *Merger) Stats() Stats { return m.stats }

// Linker carries the per-run state shared by the closure, ordering,
// renaming and emission passes.
type Linker struct {
	root    string
	table   *scope.Table
	modules []*loader.Module
	byQName map[string]*loader.Module
	entry   *loader.Module
	log     *slog.Logger

	owners   map[scope.ScopeID]scope.SymbolID
	defIndex map[pyast.Stmt]scope.SymbolID
}

func (ln *Linker) moduleScope(qname string) (scope.ScopeID, bool) {
	if m, ok := ln.byQName[qname]; ok {
		return m.Scope, true
	}
	return scope.NoScope, false
}

func (ln *Linker) symbolIn(qname, name string) (scope.SymbolID, bool) {
	sc, ok := ln.moduleScope(qname)
	if !ok {
		return scope.NoSymbol, false
	}
	return ln.table.LookupLocal(sc, name)
}

// moduleIndex adapts the per-run module set to the analyzer.
type moduleIndex struct{ ln *Linker }

func (ix moduleIndex) ModuleScope(qname string) (scope.ScopeID, bool) {
	return ix.ln.moduleScope(qname)
}

func (ix moduleIndex) ModuleInit(qname string) (scope.SymbolID, bool) {
	if m, ok := ix.ln.byQName[qname]; ok {
		return m.Init, true
	}
	return scope.NoSymbol, false
}

// Merge loads the project reachable from entryFile under projectRoot,
// analyzes it and returns the bundled source text.
func (m *Merger) Merge(ctx context.Context, entryFile, projectRoot string) (string, error) {
	ctx, span := tracer.Start(ctx, "linker.merge")
	defer span.End()
	span.SetAttributes(attribute.String("entry", entryFile))

	table := scope.NewTable()
	p := parser.New(m.grammar)
	ld := loader.New(projectRoot, p, table, m.log)

	entry, err := ld.LoadModule(entryFile)
	if err != nil {
		return "", err
	}

	ln := &Linker{
		root:    projectRoot,
		table:   table,
		modules: ld.Modules(),
		byQName: make(map[string]*loader.Module),
		entry:   entry,
		log:     m.log,
	}
	for _, mod := range ln.modules {
		ln.byQName[mod.QName] = mod
	}
	span.SetAttributes(attribute.Int("modules", len(ln.modules)))

	an := analyzer.New(table, moduleIndex{ln})
	for i := range table.Symbols {
		an.AnalyzeSymbol(scope.SymbolID(i))
	}
	for _, mod := range ln.modules {
		groups := [][]pyast.Stmt{mod.InitStmts}
		if mod.QName == entry.QName && mod.MainGuard != nil {
			groups = append(groups, mod.MainGuard.Body)
		}
		an.AnalyzeInit(mod.Init, mod.Scope, groups...)
	}

	m.diags = ld.Diagnostics()
	m.undefined = an.Undefined()
	for _, d := range m.diags {
		m.log.Warn("merge diagnostic",
			slog.String("code", d.Code),
			slog.String("module", d.Module),
			slog.Int("line", d.Line),
			slog.String("detail", d.Message))
	}

	roots := ln.rootSymbols()
	included := ln.closure(roots)
	ordered, err := ln.order(included)
	if err != nil {
		return "", err
	}
	names := ln.assignNames(included)

	text := ln.emit(included, ordered, names)
	m.stats = Stats{Modules: len(ln.modules), Symbols: len(included), Definitions: len(ordered)}
	m.log.Info("merge complete",
		slog.String("entry", entry.QName),
		slog.Int("modules", len(ln.modules)),
		slog.Int("symbols", len(included)),
		slog.Int("definitions", len(ordered)))
	return text, nil
}

// rootSymbols seeds the closure with everything the entry script
// defines at module scope plus its init symbol, whose dependencies
// stand in for the top-level references.
func (ln *Linker) rootSymbols() []scope.SymbolID {
	sc := ln.table.Scope(ln.entry.Scope)
	roots := make([]scope.SymbolID, 0, len(sc.Names)+1)
	for _, id := range sc.Names {
		roots = append(roots, id)
	}
	roots = append(roots, ln.entry.Init)
	return roots
}

// MergeFile is a convenience wrapper for one-shot callers.
func MergeFile(ctx context.Context, log *slog.Logger, entryFile, projectRoot string) (string, error) {
	return NewMerger(log).Merge(ctx, entryFile, projectRoot)
}
