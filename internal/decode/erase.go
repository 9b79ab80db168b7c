package decode

import "strings"

// Erase removes every occurrence of each marker from text, replacing it with
// replacement. Markers are applied in order and each one is fully replaced
// before the next is considered, so callers must list longer markers before
// any marker that is a substring of them.
func Erase(text string, markers []string, replacement string) string {
	for _, m := range markers {
		if m == "" {
			continue
		}
		text = strings.ReplaceAll(text, m, replacement)
	}
	return text
}
