package policy

import (
	"strings"
	"unicode"
)

// ShouldSuppress reports whether contextID is listed in a comma-separated
// disable list. All whitespace in the list is removed before splitting, so
// " form-1, form-42 " lists "form-1" and "form-42". Empty entries never match.
func ShouldSuppress(contextID, list string) bool {
	if contextID == "" || list == "" {
		return false
	}
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, list)
	for _, id := range strings.Split(compact, ",") {
		if id != "" && id == contextID {
			return true
		}
	}
	return false
}
