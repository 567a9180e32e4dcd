package analysis

import "strings"

// Cut lines travel under a handful of industry names, written with
// inconsistent casing and separators.
var cutNames = map[string]bool{
	"cutcontour": true,
	"thrucut":    true,
	"kisscut":    true,
	"dieline":    true,
	"diecut":     true,
	"cutline":    true,
	"thruline":   true,
}

// isCutName reports whether a layer or colorant name denotes a cutting
// path.
func isCutName(name string) bool {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return cutNames[b.String()]
}
