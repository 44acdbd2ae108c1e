package shaper

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	nonIdentRun   = regexp.MustCompile(`[^a-z0-9_]+`)
	underscoreRun = regexp.MustCompile(`_{2,}`)
)

// CanonicalColumn maps an API field name to a warehouse column name:
// lower-cased, every run of characters outside [a-z0-9_] replaced by a single
// underscore, then repeated underscores collapsed.
func CanonicalColumn(name string) string {
	s := nonIdentRun.ReplaceAllString(strings.ToLower(name), "_")
	return underscoreRun.ReplaceAllString(s, "_")
}

// canonicalColumns canonicalizes names, suffixing _2, _3... where two names
// would otherwise map to the same column.
func canonicalColumns(names []string) []string {
	out := make([]string, len(names))
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		col := CanonicalColumn(name)
		if seen[col] {
			base := col
			for n := 2; seen[col]; n++ {
				col = base + "_" + strconv.Itoa(n)
			}
		}
		seen[col] = true
		out[i] = col
	}
	return out
}
