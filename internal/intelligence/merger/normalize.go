package merger

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	sectionWord      = regexp.MustCompile(`\b[Ss]ection\b`)
	citationPunctGap = regexp.MustCompile(`\s*([.,§])\s*`)
)

// NormalizeEntityText lowercases s, collapses internal whitespace and strips
// leading and trailing punctuation.
func NormalizeEntityText(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}

// NormalizeCitationText applies NFKC, rewrites "Section"/"section" to "§",
// then normalizes like an entity and removes the spaces around '.', ',' and
// '§'.  A leading or trailing '§' is kept.
func NormalizeCitationText(s string) string {
	s = norm.NFKC.String(s)
	s = sectionWord.ReplaceAllString(s, "§")
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	s = citationPunctGap.ReplaceAllString(s, "$1")
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '§')
	})
}
