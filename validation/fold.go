package validation

import "golang.org/x/text/cases"

// fold returns the Unicode case-folded form of s. A Caser is stateful, so
// one is built per call.
func fold(s string) string {
	return cases.Fold().String(s)
}
