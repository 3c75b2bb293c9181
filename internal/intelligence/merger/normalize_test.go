package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEntityText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Chief Justice Roberts", "chief justice roberts"},
		{"  chief   justice\troberts, ", "chief justice roberts"},
		{"\"Justice Roberts.\"", "justice roberts"},
		{"O'Connor", "o'connor"},
		{"", ""},
		{"...", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeEntityText(tt.in))
		})
	}
}

func TestNormalizeCitationText(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"spaces around punctuation", "Brown v. Board, 347 U.S. 483", "brown v.board,347 u.s.483"},
		{"section word", "42 U.S.C. Section 1983", "42 u.s.c.§1983"},
		{"lowercase section word", "42 U.S.C. section 1983", "42 u.s.c.§1983"},
		{"section sign kept at start", "§ 1983.", "§1983"},
		{"longer words untouched", "Sections 2 and 3", "sections 2 and 3"},
		{"fullwidth digits folded", "347 U.S. ４８３", "347 u.s.483"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCitationText(tt.in))
		})
	}

	assert.Equal(t, NormalizeCitationText("42 U.S.C. §1983"), NormalizeCitationText("42 U.S.C. Section 1983"))
}
