package scope

import (
	"strings"

	"golang.org/x/text/cases"
)

// Normalize case-folds s for caseless comparison. Diacritics are kept, so
// "decoración" and "decoracion" stay distinct.
func Normalize(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Contains reports whether text contains any of the already normalized
// keywords.
func Contains(text string, keywords []string) bool {
	folded := Normalize(text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(folded, kw) {
			return true
		}
	}
	return false
}
