// Package linker turns the analyzed module set into one bundled
// source text: reachability closure, cycle detection, emission
// ordering, conflict-aware renaming and final serialization.
package linker

import (
	"github.com/wlvh/PySymphony/internal/loader"
	"github.com/wlvh/PySymphony/internal/pyast"
	"github.com/wlvh/PySymphony/internal/scope"
)

// closure computes the breadth-first reachable symbol set from the
// given roots, then re-scans fallback-import blocks: if any included
// symbol uses one of a block's aliases, every alias from every arm of
// that block joins the set, since the arms are runtime-interchangeable
// implementations that travel together.
func (ln *Linker) closure(roots []scope.SymbolID) map[scope.SymbolID]bool {
	included := make(map[scope.SymbolID]bool)
	queue := append([]scope.SymbolID(nil), roots...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if included[id] {
			continue
		}
		included[id] = true
		queue = append(queue, ln.table.Symbol(id).Deps...)
	}

	for _, group := range ln.fallbackGroups() {
		used := false
		for _, alias := range group.aliases {
			if included[alias] {
				used = true
				break
			}
		}
		if !used {
			continue
		}
		for _, alias := range group.aliases {
			if included[alias] {
				continue
			}
			included[alias] = true
			for _, dep := range ln.table.Symbol(alias).Deps {
				if !included[dep] {
					included[dep] = true
					queue = append(queue, ln.table.Symbol(dep).Deps...)
				}
			}
		}
		// Non-alias deps pulled above may open further reachability.
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if included[id] {
				continue
			}
			included[id] = true
			queue = append(queue, ln.table.Symbol(id).Deps...)
		}
	}
	return included
}

// fallbackGroup ties one fallback-import block to the alias symbols
// its arms register.
type fallbackGroup struct {
	module  *loader.Module
	block   *pyast.Try
	aliases []scope.SymbolID
}

func (ln *Linker) fallbackGroups() []fallbackGroup {
	var groups []fallbackGroup
	for _, m := range ln.modules {
		for _, block := range m.FallbackBlocks {
			stmts := make(map[pyast.Stmt]bool)
			collectImportStmts(block, stmts)
			g := fallbackGroup{module: m, block: block}
			// The scope name map only keeps the last arm's binding, so
			// scan the table to pick up aliases from every arm.
			for i := range ln.table.Symbols {
				sym := &ln.table.Symbols[i]
				if sym.Kind == scope.KindImportAlias && sym.Fallback &&
					sym.Module == m.QName && stmts[sym.Def] {
					g.aliases = append(g.aliases, scope.SymbolID(i))
				}
			}
			if len(g.aliases) > 0 {
				groups = append(groups, g)
			}
		}
	}
	return groups
}

func collectImportStmts(block *pyast.Try, out map[pyast.Stmt]bool) {
	var walk func(body []pyast.Stmt)
	walk = func(body []pyast.Stmt) {
		for _, s := range body {
			switch v := s.(type) {
			case *pyast.Import:
				out[s] = true
			case *pyast.ImportFrom:
				out[s] = true
			case *pyast.Try:
				walk(v.Body)
				for _, h := range v.Handlers {
					walk(h.Body)
				}
				walk(v.Orelse)
				walk(v.Final)
			case *pyast.If:
				walk(v.Body)
				walk(v.Orelse)
			}
		}
	}
	walk(block.Body)
	for _, h := range block.Handlers {
		walk(h.Body)
	}
	walk(block.Orelse)
	walk(block.Final)
}
