package shared

import (
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeName trims and case-folds an entity name so lookups are
// case-insensitive regardless of how the caller spelled the key.
func NormalizeName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// NormalizeNames folds every name in the slice, dropping empties and
// duplicates while preserving first-seen order.
func NormalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = NormalizeName(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
