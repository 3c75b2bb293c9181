package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1.0},
		{"abc", "", 0},
		{"abcd", "bcde", 0.75},
		{"chief justice roberts", "chief justice roberts", 1.0},
		{"judge roberts", "judge alito", 14.0 / 24.0},
		{"justice roberts", "justice robert", 28.0 / 29.0},
		{"roberts", "justice roberts", 14.0 / 22.0},
		{"smith", "smyth", 0.8},
		{"aaaa", "aa", 4.0 / 6.0},
		{"brown v.board,347u.s.483", "brown v.board,347u.s.484", 46.0 / 48.0},
	}
	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestSimilarity_Unicode(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("§1983", "§1983"))
	assert.InDelta(t, 0.8, Similarity("§1983", "§1984"), 1e-9)
}
