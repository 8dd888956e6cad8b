package resolver

import "github.com/chazu/mfhost/api/v1alpha1"

// MergeByScope overlays primary onto fallback. Fallback order is kept, a
// primary entry replaces the fallback entry with the same scope as a whole,
// and primary-only scopes are appended in primary order.
func MergeByScope(primary, fallback []v1alpha1.RegistryEntry) []v1alpha1.RegistryEntry {
	merged := make([]v1alpha1.RegistryEntry, 0, len(primary)+len(fallback))
	index := make(map[string]int, len(primary)+len(fallback))

	put := func(e v1alpha1.RegistryEntry) {
		if i, ok := index[e.Scope]; ok {
			merged[i] = e
			return
		}
		index[e.Scope] = len(merged)
		merged = append(merged, e)
	}

	for _, e := range fallback {
		put(e)
	}
	for _, e := range primary {
		put(e)
	}
	return merged
}

// dedupeScopes keeps one entry per scope; a later duplicate replaces an
// earlier one in place. It returns the scopes that were duplicated.
func dedupeScopes(entries []v1alpha1.RegistryEntry) ([]v1alpha1.RegistryEntry, []string) {
	var dupes []string
	seen := make(map[string]int, len(entries))
	out := make([]v1alpha1.RegistryEntry, 0, len(entries))
	for _, e := range entries {
		if i, ok := seen[e.Scope]; ok {
			out[i] = e
			dupes = append(dupes, e.Scope)
			continue
		}
		seen[e.Scope] = len(out)
		out = append(out, e)
	}
	return out, dupes
}
