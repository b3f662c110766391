package company

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CorporateNumberLen is the length of a corporate number.
const CorporateNumberLen = 13

// NormalizeCorporateNumber returns v as a 13-digit corporate number, or "" when
// v cannot be read as one without guessing. Full-width digits are folded to
// ASCII. Floats are always rejected: spreadsheet exports turn corporate numbers
// into values like 9.18E+12 whose low digits are gone.
func NormalizeCorporateNumber(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(norm.NFKC.String(t))
	case int64:
		s = strconv.FormatInt(t, 10)
	case int:
		s = strconv.Itoa(t)
	default:
		return ""
	}
	if IsCorporateNumber(s) {
		return s
	}
	return ""
}

// IsCorporateNumber reports whether s is exactly 13 ASCII digits.
func IsCorporateNumber(s string) bool {
	if len(s) != CorporateNumberLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
