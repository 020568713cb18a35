package linker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wlvh/PySymphony/internal/errors"
	"github.com/wlvh/PySymphony/internal/scope"
)

// orderNode returns true for symbols that become standalone emitted
// definitions: top-level functions, classes and module variables.
// Aliases live in the import section, methods and nested definitions
// travel inside their owner's text, and init-only variables stay in
// the module-init section.
func (ln *Linker) orderNode(id scope.SymbolID, included map[scope.SymbolID]bool) bool {
	if !included[id] {
		return false
	}
	sym := ln.table.Symbol(id)
	if sym.Nested || sym.InitOnly || sym.Def == nil {
		return false
	}
	switch sym.Kind {
	case scope.KindFunction, scope.KindAsyncFunction, scope.KindClass, scope.KindModuleVariable:
		return ln.table.Scope(sym.Scope).Kind == scope.KindModuleScope
	}
	return false
}

// classOwner maps a class-body scope back to the class symbol that
// introduced it.
func (ln *Linker) classOwner(sc scope.ScopeID) (scope.SymbolID, bool) {
	if ln.owners == nil {
		ln.owners = make(map[scope.ScopeID]scope.SymbolID)
		for i := range ln.table.Symbols {
			sym := &ln.table.Symbols[i]
			if sym.Kind == scope.KindClass && sym.Body != scope.NoScope {
				ln.owners[sym.Body] = scope.SymbolID(i)
			}
		}
	}
	id, ok := ln.owners[sc]
	return id, ok
}

// orderEdges expands one node's dependency set into edges onto other
// nodes. Aliases forward to their targets and nested definitions are
// inlined, since their text is part of the node. A dependency on a
// method becomes an edge onto the owning class, but the method's own
// body dependencies are deliberately not followed: methods resolve
// their names at call time, so mutual method references across classes
// do not constrain definition order.
func (ln *Linker) orderEdges(node scope.SymbolID, included map[scope.SymbolID]bool) []scope.SymbolID {
	var edges []scope.SymbolID
	seen := make(map[scope.SymbolID]bool)
	var expand func(deps []scope.SymbolID)
	expand = func(deps []scope.SymbolID) {
		for _, dep := range deps {
			if seen[dep] || dep == node {
				continue
			}
			seen[dep] = true
			sym := ln.table.Symbol(dep)
			switch {
			case ln.orderNode(dep, included):
				edges = append(edges, dep)
			case sym.Kind == scope.KindImportAlias:
				expand(sym.Deps)
			case sym.Nested:
				expand(sym.Deps)
			case isMethod(ln.table, sym):
				if owner, ok := ln.classOwner(sym.Scope); ok && ln.orderNode(owner, included) && owner != node {
					edges = append(edges, owner)
				}
			}
		}
	}
	expand(ln.table.Symbol(node).Deps)
	return edges
}

func isMethod(table *scope.Table, sym *scope.Symbol) bool {
	if sym.Kind != scope.KindFunction && sym.Kind != scope.KindAsyncFunction {
		return false
	}
	return table.Scope(sym.Scope).Kind == scope.KindClassScope
}

// order topologically sorts the emitted definitions so every
// definition follows everything it references. Ties break on the
// defining module's load sequence and then the source line, which
// keeps the output stable across runs. Remaining nodes after the sort
// sit on cycles; those are reported in full via Tarjan's algorithm.
func (ln *Linker) order(included map[scope.SymbolID]bool) ([]scope.SymbolID, error) {
	var nodes []scope.SymbolID
	for id := range included {
		if ln.orderNode(id, included) {
			nodes = append(nodes, id)
		}
	}

	edges := make(map[scope.SymbolID][]scope.SymbolID, len(nodes))
	indegree := make(map[scope.SymbolID]int, len(nodes))
	dependents := make(map[scope.SymbolID][]scope.SymbolID, len(nodes))
	for _, n := range nodes {
		deps := ln.orderEdges(n, included)
		edges[n] = deps
		indegree[n] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], n)
		}
	}

	less := func(a, b scope.SymbolID) bool {
		sa, sb := ln.table.Symbol(a), ln.table.Symbol(b)
		if sa.Seq != sb.Seq {
			return sa.Seq < sb.Seq
		}
		if sa.Line != sb.Line {
			return sa.Line < sb.Line
		}
		return sa.QName < sb.QName
	}

	var ready []scope.SymbolID
	for _, n := range nodes {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	ordered := make([]scope.SymbolID, 0, len(nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		n := ready[0]
		ready = ready[1:]
		ordered = append(ordered, n)
		for _, dep := range dependents[n] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(ordered) == len(nodes) {
		return ordered, nil
	}

	leftover := make(map[scope.SymbolID]bool)
	for _, n := range nodes {
		leftover[n] = true
	}
	for _, n := range ordered {
		delete(leftover, n)
	}
	return nil, ln.cycleError(leftover, edges)
}

// cycleError names every strongly connected component among the
// unsortable definitions, listing the fully qualified members so the
// user sees the whole cycle rather than one edge of it.
func (ln *Linker) cycleError(leftover map[scope.SymbolID]bool, edges map[scope.SymbolID][]scope.SymbolID) error {
	names := make([]string, 0, len(leftover))
	byName := make(map[string]scope.SymbolID, len(leftover))
	for id := range leftover {
		q := ln.table.Symbol(id).QName
		names = append(names, q)
		byName[q] = id
	}
	sort.Strings(names)

	adjacency := make(map[string][]string, len(names))
	for _, q := range names {
		for _, dep := range edges[byName[q]] {
			if leftover[dep] {
				adjacency[q] = append(adjacency[q], ln.table.Symbol(dep).QName)
			}
		}
	}

	_, components := stronglyConnectedComponents(names, adjacency)
	var cycles [][]string
	for _, comp := range components {
		if len(comp) > 1 {
			cycles = append(cycles, comp)
			continue
		}
		for _, dep := range adjacency[comp[0]] {
			if dep == comp[0] {
				cycles = append(cycles, comp)
				break
			}
		}
	}
	if len(cycles) == 0 {
		// Leftover nodes depend on a cycle without being on one.
		cycles = [][]string{names}
	}

	parts := make([]string, 0, len(cycles))
	for _, c := range cycles {
		parts = append(parts, "{"+strings.Join(c, ", ")+"}")
	}
	return errors.New(errors.CodeCycle,
		fmt.Sprintf("circular dependency between definitions: %s", strings.Join(parts, "; "))).
		WithContext(errors.CtxCycle, cycles)
}

// stronglyConnectedComponents runs Tarjan's algorithm over the given
// adjacency map. It returns the component index of each node and the
// components themselves, members sorted for stable reporting.
func stronglyConnectedComponents(nodes []string, adjacency map[string][]string) (map[string]int, [][]string) {
	index := 0
	indexByNode := make(map[string]int, len(nodes))
	lowLink := make(map[string]int, len(nodes))
	onStack := make(map[string]bool, len(nodes))
	var stack []string

	componentOf := make(map[string]int, len(nodes))
	var components [][]string

	var strongConnect func(node string)
	strongConnect = func(node string) {
		indexByNode[node] = index
		lowLink[node] = index
		index++
		stack = append(stack, node)
		onStack[node] = true

		for _, next := range adjacency[node] {
			if _, visited := indexByNode[next]; !visited {
				strongConnect(next)
				if lowLink[next] < lowLink[node] {
					lowLink[node] = lowLink[next]
				}
			} else if onStack[next] {
				if indexByNode[next] < lowLink[node] {
					lowLink[node] = indexByNode[next]
				}
			}
		}

		if lowLink[node] == indexByNode[node] {
			var component []string
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[top] = false
				component = append(component, top)
				if top == node {
					break
				}
			}
			sort.Strings(component)
			id := len(components)
			components = append(components, component)
			for _, member := range component {
				componentOf[member] = id
			}
		}
	}

	for _, node := range nodes {
		if _, visited := indexByNode[node]; !visited {
			strongConnect(node)
		}
	}
	return componentOf, components
}
