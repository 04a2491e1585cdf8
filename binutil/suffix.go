package binutil

import "strings"

// CheckSuffix reports whether name ends with any of suffixes, case
// insensitively. Suffixes may be compound (e.g. ".ome.tif") and are matched
// against the literal trailing characters of name, not path-segment aware.
func CheckSuffix(name string, suffixes []string) bool {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		ls := strings.ToLower(s)
		if len(ls) <= len(lower) && strings.HasSuffix(lower, ls) {
			return true
		}
	}
	return false
}
