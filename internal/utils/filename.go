package utils

import (
	"strconv"
	"strings"
	"unicode"
)

// SanitizeFilename makes a product label safe to use as a file or archive entry name.
// Path separators and control characters become underscores.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			return '_'
		case unicode.IsControl(r):
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, ". ")
	if name == "" {
		return "_"
	}
	return name
}

// UniqueName returns name, or name with a " (n)" suffix before ext when taken reports a conflict.
func UniqueName(base, ext string, taken func(string) bool) string {
	candidate := base + ext
	for i := 1; taken(candidate); i++ {
		candidate = base + " (" + strconv.Itoa(i) + ")" + ext
	}
	return candidate
}
