package analysis

import "sort"

// DiffSnapshots compares two snapshots by finding id and returns the added,
// removed, and edited id sets, each sorted for stable ledger entries.
func DiffSnapshots(before, after *Snapshot) (added, removed, edited []string) {
	old := map[string]Vulnerability{}
	if before != nil {
		for _, v := range before.Vulnerabilities {
			old[v.ID] = v
		}
	}
	seen := map[string]bool{}
	if after != nil {
		for _, v := range after.Vulnerabilities {
			seen[v.ID] = true
			prev, ok := old[v.ID]
			if !ok {
				added = append(added, v.ID)
			} else if !equalVulnerability(prev, v) {
				edited = append(edited, v.ID)
			}
		}
	}
	for id := range old {
		if !seen[id] {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(edited)
	return added, removed, edited
}

func equalVulnerability(a, b Vulnerability) bool {
	if a.ID != b.ID || a.Title != b.Title || a.Description != b.Description ||
		a.Severity != b.Severity || a.Impact != b.Impact ||
		a.Recommendation != b.Recommendation || a.CodeSnippet != b.CodeSnippet {
		return false
	}
	if len(a.References) != len(b.References) {
		return false
	}
	for i := range a.References {
		if a.References[i] != b.References[i] {
			return false
		}
	}
	return true
}
