package filtering

import "slices"

// Hierarchy maps a capability name to its direct supertypes.
// Capabilities absent from the map have no supertypes.
type Hierarchy map[string][]string

// Implies reports whether a service declaring sub satisfies a requirement for super:
// sub equals super or super is one of sub's (transitive) supertypes.
func (h Hierarchy) Implies(sub, super string) bool {
	if sub == super {
		return true
	}

	visited := map[string]struct{}{sub: {}}
	queue := slices.Clone(h[sub])
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == super {
			return true
		}
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}
		queue = append(queue, h[current]...)
	}
	return false
}

// Satisfies reports whether the declared capabilities fulfil the required one
func (h Hierarchy) Satisfies(declared []string, required string) bool {
	return slices.ContainsFunc(declared, func(d string) bool {
		return h.Implies(d, required)
	})
}

// Reduce removes empty and duplicate names, then every capability that is a
// strict supertype of another capability in the set. Order is preserved.
func (h Hierarchy) Reduce(capabilities []string) []string {
	unique := make([]string, 0, len(capabilities))
	for _, c := range capabilities {
		if c != "" && !slices.Contains(unique, c) {
			unique = append(unique, c)
		}
	}

	// First pass: mark supertypes of other entries
	redundant := make([]bool, len(unique))
	for i, candidate := range unique {
		for j, other := range unique {
			if i == j {
				continue
			}
			// Mutual implication only happens with cyclic hierarchies; keep both
			if h.Implies(other, candidate) && !h.Implies(candidate, other) {
				redundant[i] = true
				break
			}
		}
	}

	// Second pass: keep unmarked entries
	reduced := make([]string, 0, len(unique))
	for i, c := range unique {
		if !redundant[i] {
			reduced = append(reduced, c)
		}
	}
	return reduced
}
