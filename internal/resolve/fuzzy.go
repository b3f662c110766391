package resolve

import (
	"strings"
	"unicode"
)

// Similarity returns the trigram similarity of a and b in [0, 1], computed
// the way PostgreSQL's pg_trgm similarity() does: each word is padded with two
// leading spaces and one trailing space, and the score is shared trigrams over
// the union of both sets.
func Similarity(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if tb[t] {
			shared++
		}
	}
	return float64(shared) / float64(len(ta)+len(tb)-shared)
}

func trigrams(s string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]bool)
	for _, w := range words {
		runes := []rune("  " + w + " ")
		for i := 0; i+3 <= len(runes); i++ {
			out[string(runes[i:i+3])] = true
		}
	}
	return out
}
