package linker

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/wlvh/PySymphony/internal/loader"
	"github.com/wlvh/PySymphony/internal/pyast"
	"github.com/wlvh/PySymphony/internal/scope"
)

// emit serializes the bundle: future imports, deduplicated external
// imports, fallback-import blocks, topologically ordered definitions,
// module-init statements of the contributing non-entry modules, and
// finally the entry script's own top level with its __main__ guard.
func (ln *Linker) emit(included map[scope.SymbolID]bool, ordered []scope.SymbolID, names map[scope.SymbolID]string) string {
	r := ln.newRewriter(names)
	contributing := ln.contributingModules(included)

	var sections []string
	if s := ln.emitFutureImports(contributing); s != "" {
		sections = append(sections, s)
	}
	if s := ln.emitExternalImports(included, names); s != "" {
		sections = append(sections, s)
	}
	if s := ln.emitFallbackBlocks(included, r); s != "" {
		sections = append(sections, s)
	}
	if s := ln.emitDefinitions(ordered, r); s != "" {
		sections = append(sections, s)
	}
	if s := ln.emitModuleInits(contributing, r); s != "" {
		sections = append(sections, s)
	}
	if s := ln.emitEntryBody(r); s != "" {
		sections = append(sections, s)
	}
	return strings.Join(sections, "\n\n") + "\n"
}

func (ln *Linker) contributingModules(included map[scope.SymbolID]bool) map[string]bool {
	out := map[string]bool{ln.entry.QName: true}
	for id := range included {
		out[ln.table.Symbol(id).Module] = true
	}
	return out
}

func (ln *Linker) relPath(m *loader.Module) string {
	if rel, err := filepath.Rel(ln.root, m.Path); err == nil {
		return filepath.ToSlash(rel)
	}
	return m.Path
}

func (ln *Linker) emitFutureImports(contributing map[string]bool) string {
	seen := make(map[string]bool)
	var features []string
	for _, m := range ln.modules {
		if !contributing[m.QName] {
			continue
		}
		for _, a := range m.FutureImports {
			if !seen[a.Name] {
				seen[a.Name] = true
				features = append(features, a.Name)
			}
		}
	}
	if len(features) == 0 {
		return ""
	}
	sort.Strings(features)
	return "from __future__ import " + strings.Join(features, ", ")
}

// emitExternalImports renders one import line per retained external
// alias outside fallback blocks, deduplicating identical lines.
func (ln *Linker) emitExternalImports(included map[scope.SymbolID]bool, names map[scope.SymbolID]string) string {
	var ids []scope.SymbolID
	for id := range included {
		sym := ln.table.Symbol(id)
		if sym.Kind == scope.KindImportAlias && sym.Import.External() && !sym.Fallback {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ln.table.Symbol(ids[i]), ln.table.Symbol(ids[j])
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Name < b.Name
	})

	seen := make(map[string]bool)
	var lines []string
	for _, id := range ids {
		line := ln.externalImportLine(id, names[id])
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (ln *Linker) externalImportLine(id scope.SymbolID, final string) string {
	sym := ln.table.Symbol(id)
	switch def := sym.Def.(type) {
	case *pyast.Import:
		for _, a := range def.Names {
			if a.Bound(true) == sym.Name {
				return "import " + a.Name + " as " + final
			}
		}
	case *pyast.ImportFrom:
		for _, a := range def.Names {
			if a.Bound(false) == sym.Name {
				return "from " + def.Module + " import " + a.Name + " as " + final
			}
		}
	}
	return ""
}

// emitFallbackBlocks reproduces each used fallback-import block
// verbatim in structure, with the bound names rewritten to their
// suffixed forms.
func (ln *Linker) emitFallbackBlocks(included map[scope.SymbolID]bool, r *rewriter) string {
	groups := ln.fallbackGroups()
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].module.Seq != groups[j].module.Seq {
			return groups[i].module.Seq < groups[j].module.Seq
		}
		return groups[i].block.Pos().Line < groups[j].block.Pos().Line
	})

	var parts []string
	emitted := make(map[*pyast.Try]bool)
	for _, g := range groups {
		used := false
		for _, alias := range g.aliases {
			if included[alias] {
				used = true
				break
			}
		}
		if !used || emitted[g.block] {
			continue
		}
		emitted[g.block] = true
		r.stmt(g.block, g.module.Scope)
		parts = append(parts, "# from "+ln.relPath(g.module)+"\n"+pyast.UnparseStmt(g.block))
	}
	return strings.Join(parts, "\n\n")
}

func (ln *Linker) emitDefinitions(ordered []scope.SymbolID, r *rewriter) string {
	var parts []string
	emitted := make(map[pyast.Stmt]bool)
	for _, id := range ordered {
		sym := ln.table.Symbol(id)
		if sym.Def == nil || emitted[sym.Def] {
			continue
		}
		emitted[sym.Def] = true
		r.rewriteDef(id)
		m := ln.byQName[sym.Module]
		header := ""
		if m != nil {
			header = "# from " + ln.relPath(m) + "\n"
		}
		parts = append(parts, header+pyast.UnparseStmt(sym.Def))
	}
	return strings.Join(parts, "\n\n")
}

// initModules returns the non-entry contributing modules that carry
// init statements, ordered so a module's init section follows the
// init sections it reads from. A module whose top level references an
// init-only symbol of another module needs that module's init text
// first, regardless of load order. Loader sequence breaks ties, and
// modules on an init-level cycle keep loader order.
func (ln *Linker) initModules(contributing map[string]bool) []*loader.Module {
	var mods []*loader.Module
	byName := make(map[string]*loader.Module)
	for _, m := range ln.modules {
		if m.QName == ln.entry.QName || !contributing[m.QName] || len(m.InitStmts) == 0 {
			continue
		}
		mods = append(mods, m)
		byName[m.QName] = m
	}

	prereqs := make(map[string]map[string]bool, len(mods))
	for _, m := range mods {
		deps := make(map[string]bool)
		seen := make(map[scope.SymbolID]bool)
		var expand func(ids []scope.SymbolID)
		expand = func(ids []scope.SymbolID) {
			for _, id := range ids {
				if seen[id] {
					continue
				}
				seen[id] = true
				sym := ln.table.Symbol(id)
				switch {
				case sym.Kind == scope.KindImportAlias:
					expand(sym.Deps)
				case sym.Kind == scope.KindModuleInit || sym.InitOnly || sym.Def == nil:
					// Only symbols whose text lives in an init
					// section constrain order; definitions are all
					// emitted earlier anyway.
					if sym.Module != m.QName {
						if _, ok := byName[sym.Module]; ok {
							deps[sym.Module] = true
						}
					}
				}
			}
		}
		expand(ln.table.Symbol(m.Init).Deps)
		prereqs[m.QName] = deps
	}

	indegree := make(map[string]int, len(mods))
	dependents := make(map[string][]string, len(mods))
	for _, m := range mods {
		indegree[m.QName] = len(prereqs[m.QName])
		for d := range prereqs[m.QName] {
			dependents[d] = append(dependents[d], m.QName)
		}
	}

	var ready []*loader.Module
	for _, m := range mods {
		if indegree[m.QName] == 0 {
			ready = append(ready, m)
		}
	}
	ordered := make([]*loader.Module, 0, len(mods))
	placed := make(map[string]bool, len(mods))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].Seq < ready[j].Seq })
		m := ready[0]
		ready = ready[1:]
		ordered = append(ordered, m)
		placed[m.QName] = true
		for _, q := range dependents[m.QName] {
			indegree[q]--
			if indegree[q] == 0 {
				ready = append(ready, byName[q])
			}
		}
	}
	for _, m := range mods {
		if !placed[m.QName] {
			ordered = append(ordered, m)
		}
	}
	return ordered
}

func (ln *Linker) emitModuleInits(contributing map[string]bool, r *rewriter) string {
	var parts []string
	for _, m := range ln.initModules(contributing) {
		var lines []string
		lines = append(lines, "# from "+ln.relPath(m))
		for _, s := range m.InitStmts {
			r.stmt(s, m.Scope)
			lines = append(lines, pyast.UnparseStmt(s))
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

func (ln *Linker) emitEntryBody(r *rewriter) string {
	var parts []string
	for _, s := range ln.entry.InitStmts {
		r.stmt(s, ln.entry.Scope)
		parts = append(parts, pyast.UnparseStmt(s))
	}
	if g := ln.entry.MainGuard; g != nil {
		r.stmt(g, ln.entry.Scope)
		parts = append(parts, pyast.UnparseStmt(g))
	}
	return strings.Join(parts, "\n")
}
