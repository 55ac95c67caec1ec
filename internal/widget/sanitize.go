package widget

import "strings"

func keep(s string, allowed func(r rune) bool) string {
	return strings.Map(func(r rune) rune {
		if allowed(r) {
			return r
		}
		return -1
	}, s)
}

func isWord(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-'
}

// sanitizeID keeps characters valid in an id and a CSS id selector.
func sanitizeID(s string) string {
	return keep(s, isWord)
}

// sanitizeAction restricts the action to the alphabet siteverify accepts.
func sanitizeAction(s string) string {
	s = keep(s, isWord)
	if len(s) > maxActionLen {
		s = s[:maxActionLen]
	}
	return s
}

func sanitizeLanguage(s string) string {
	s = keep(strings.TrimSpace(s), func(r rune) bool {
		return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-'
	})
	if s == "" {
		return "auto"
	}
	return s
}

// sanitizeCallback keeps a plain JavaScript identifier.
func sanitizeCallback(s string) string {
	s = keep(s, func(r rune) bool {
		return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '$'
	})
	if s != "" && s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	return s
}

// sanitizeSelector keeps a conservative CSS selector alphabet: ids, classes,
// descendant and group combinators, pseudo-classes.
func sanitizeSelector(s string) string {
	s = keep(s, func(r rune) bool {
		return isWord(r) || r == '#' || r == '.' || r == ' ' || r == ',' || r == ':'
	})
	return strings.TrimSpace(s)
}
