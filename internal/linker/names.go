package linker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wlvh/PySymphony/internal/pyast"
	"github.com/wlvh/PySymphony/internal/scope"
)

const (
	aliasSuffix    = "__psy_alias"
	fallbackSuffix = "__psy_fb"
)

// assignNames maps every retained symbol that surfaces in the output
// to its final name. Module-level definitions keep their original
// names unless two modules contribute the same one, in which case each
// colliding definition gets a module-qualified name. Import aliases
// always carry a reserved suffix so no user definition can collide
// with them.
func (ln *Linker) assignNames(included map[scope.SymbolID]bool) map[scope.SymbolID]string {
	names := make(map[scope.SymbolID]string)

	var defs, aliases []scope.SymbolID
	for id := range included {
		sym := ln.table.Symbol(id)
		if ln.table.Scope(sym.Scope).Kind != scope.KindModuleScope {
			continue
		}
		switch sym.Kind {
		case scope.KindImportAlias:
			aliases = append(aliases, id)
		case scope.KindFunction, scope.KindAsyncFunction, scope.KindClass,
			scope.KindModuleVariable, scope.KindLoopVar, scope.KindLocalVar:
			defs = append(defs, id)
		}
	}

	defsByName := make(map[string][]scope.SymbolID)
	for _, id := range defs {
		name := ln.table.Symbol(id).Name
		defsByName[name] = append(defsByName[name], id)
	}

	taken := make(map[string]bool, len(defsByName))
	var conflicts []string
	for name, ids := range defsByName {
		// Same name in one module means shadowing, not a conflict.
		byModule := make(map[string]bool)
		for _, id := range ids {
			byModule[ln.table.Symbol(id).Module] = true
		}
		if len(byModule) == 1 {
			for _, id := range ids {
				names[id] = name
			}
			taken[name] = true
			continue
		}
		conflicts = append(conflicts, name)
	}

	// Mangled names are assigned only after every kept name is known,
	// so a mangle cannot shadow a user definition that spells the same
	// identifier out, nor another mangle.
	sort.Strings(conflicts)
	for _, name := range conflicts {
		ids := defsByName[name]
		sort.Slice(ids, func(i, j int) bool {
			return ln.table.Symbol(ids[i]).QName < ln.table.Symbol(ids[j]).QName
		})
		perModule := make(map[string]string)
		for _, id := range ids {
			m := ln.table.Symbol(id).Module
			final, ok := perModule[m]
			if !ok {
				final = claimName(taken, moduleMangle(m)+"_"+name)
				perModule[m] = final
			}
			names[id] = final
		}
	}

	aliasesByBound := make(map[string][]scope.SymbolID)
	for _, id := range aliases {
		name := ln.table.Symbol(id).Name
		aliasesByBound[name] = append(aliasesByBound[name], id)
	}
	for name, ids := range aliasesByBound {
		// Aliases of the same import from different modules are the
		// same binding and share one name; only genuinely different
		// imports behind one bound name need the module prefix.
		refs := make(map[string]bool)
		for _, id := range ids {
			refs[ln.importRef(id)] = true
		}
		for _, id := range ids {
			sym := ln.table.Symbol(id)
			suffix := aliasSuffix
			if sym.Fallback {
				suffix = fallbackSuffix
			}
			if len(refs) > 1 {
				names[id] = moduleMangle(sym.Module) + "_" + name + suffix
			} else {
				names[id] = name + suffix
			}
		}
	}

	return names
}

// importRef identifies what an alias imports, independent of the
// importing module. External targets carry no resolved module, so the
// reference is read back off the import statement itself.
func (ln *Linker) importRef(id scope.SymbolID) string {
	sym := ln.table.Symbol(id)
	if sym.Fallback {
		// Arms of one fallback block bind the same name on purpose
		// and must share a final name.
		return "fb:" + sym.Module + ":" + sym.Name
	}
	if !sym.Import.External() {
		return "project:" + sym.Import.Module + ":" + sym.Import.Symbol
	}
	switch def := sym.Def.(type) {
	case *pyast.Import:
		for _, a := range def.Names {
			if a.Bound(true) == sym.Name {
				return "ext:" + a.Name
			}
		}
	case *pyast.ImportFrom:
		for _, a := range def.Names {
			if a.Bound(false) == sym.Name {
				return "ext:" + def.Module + ":" + a.Name
			}
		}
	}
	return "ext:" + sym.Name
}

// claimName reserves base in the taken set, numbering it when the
// plain form is already spoken for.
func claimName(taken map[string]bool, base string) string {
	if !taken[base] {
		taken[base] = true
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if !taken[candidate] {
			taken[candidate] = true
			return candidate
		}
	}
}

// moduleMangle flattens a dotted module name into an identifier
// fragment. Package modules already resolve to the bare package name,
// so no __init__ segment survives to this point.
func moduleMangle(module string) string {
	return strings.ReplaceAll(module, ".", "_")
}
