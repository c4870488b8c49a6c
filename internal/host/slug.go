package host

import (
	"regexp"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// Slug lowercases s and collapses every run of non-alphanumeric
// characters into a single underscore. Leading and trailing runs are
// dropped, so "HELLO, World!" becomes "hello_world".
func Slug(s string) string {
	parts := nonAlnum.Split(s, -1)
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, strings.ToLower(p))
		}
	}
	return strings.Join(kept, "_")
}
