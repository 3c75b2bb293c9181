package merger

import "github.com/pmezard/go-difflib/difflib"

// Similarity is the Ratcliff/Obershelp ratio 2*M/T of a and b over runes,
// where M is the number of runes in matching blocks and T the total rune
// count.  Two empty strings are identical.
func Similarity(a, b string) float64 {
	ra, rb := splitRunes(a), splitRunes(b)
	if len(ra)+len(rb) == 0 {
		return 1.0
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	return difflib.NewMatcher(ra, rb).Ratio()
}

// splitRunes turns s into one element per rune so the matcher compares
// characters rather than lines.
func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
