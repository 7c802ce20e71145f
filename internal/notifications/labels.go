package notifications

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var labelOverrides = map[string]string{
	"todo": "To Do",
}

// humanLabel turns a stored enum value such as "in_progress" into "In Progress".
// A Caser keeps state between calls, so each call gets its own.
func humanLabel(v string) string {
	if v == "" {
		return ""
	}
	if l, ok := labelOverrides[v]; ok {
		return l
	}
	return cases.Title(language.English).String(strings.ReplaceAll(v, "_", " "))
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
