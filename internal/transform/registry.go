package transform

import "sort"

// BuildRegistry assigns ids 1..N to the distinct labels in lexicographic
// order and returns the entries with a label -> id lookup
func BuildRegistry(labels []string) ([]TypeEntry, map[string]int64) {
	seen := make(map[string]bool, len(labels))
	distinct := make([]string, 0, len(labels))
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			distinct = append(distinct, l)
		}
	}
	sort.Strings(distinct)

	entries := make([]TypeEntry, len(distinct))
	lookup := make(map[string]int64, len(distinct))
	for i, l := range distinct {
		id := int64(i + 1)
		entries[i] = TypeEntry{ID: id, Label: l}
		lookup[l] = id
	}
	return entries, lookup
}
