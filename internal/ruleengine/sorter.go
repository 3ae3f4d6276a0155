package ruleengine

import "sort"

// SortRules orders a rule set for evaluation: Kahn's algorithm over the
// executeAfter/executeBefore edges, with the ready queue kept sorted by
// priority descending (ties broken by original position). Rules stuck in an
// ordering cycle are appended at the end in their original order, so a
// malformed specification degrades instead of deadlocking. References to
// rules outside the set contribute no edges.
func SortRules(rules []*Rule) []*Rule {
	n := len(rules)
	if n < 2 {
		return rules
	}

	index := make(map[string]int, n)
	for i, r := range rules {
		index[r.ID] = i
	}

	successors := make([][]int, n)
	inDegree := make([]int, n)

	addEdge := func(from, to int) {
		successors[from] = append(successors[from], to)
		inDegree[to]++
	}

	for i, r := range rules {
		// executeAfter: the named rule must come first.
		for _, id := range r.ExecuteAfter {
			if j, ok := index[id]; ok && j != i {
				addEdge(j, i)
			}
		}
		// executeBefore: this rule must come before the named one.
		for _, id := range r.ExecuteBefore {
			if j, ok := index[id]; ok && j != i {
				addEdge(i, j)
			}
		}
	}

	ready := make([]int, 0, n)
	for i := range rules {
		if inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	sortReady := func() {
		sort.SliceStable(ready, func(a, b int) bool {
			pa, pb := rules[ready[a]].EffectivePriority(), rules[ready[b]].EffectivePriority()
			if pa != pb {
				return pa > pb
			}
			return ready[a] < ready[b]
		})
	}
	sortReady()

	out := make([]*Rule, 0, n)
	placed := make([]bool, n)

	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		out = append(out, rules[i])
		placed[i] = true

		changed := false
		for _, j := range successors[i] {
			inDegree[j]--
			if inDegree[j] == 0 {
				ready = append(ready, j)
				changed = true
			}
		}
		if changed {
			sortReady()
		}
	}

	// Cycle members, original order.
	for i, r := range rules {
		if !placed[i] {
			out = append(out, r)
		}
	}
	return out
}
