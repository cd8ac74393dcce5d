package datatable

import (
	"strings"
	"unicode"
)

// Headline turns a key such as "created_at" or "projectManager" into
// "Created At" / "Project Manager".
func Headline(s string) string {
	words := splitWords(strings.ReplaceAll(s, ".", " "))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// Snake turns "Client Status" or "clientStatus" into "client_status". Dots are
// kept so relation keys survive.
func Snake(s string) string {
	parts := strings.Split(s, ".")
	for i, p := range parts {
		words := splitWords(p)
		for j, w := range words {
			words[j] = strings.ToLower(w)
		}
		parts[i] = strings.Join(words, "_")
	}
	return strings.Join(parts, ".")
}

func splitWords(s string) []string {
	var words []string
	var cur []rune
	runes := []rune(s)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = nil
		}
	}
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return words
}
