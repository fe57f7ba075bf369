package tokenize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerms_LowercasesAndDropsStopWords(t *testing.T) {
	a, err := Default()
	require.NoError(t, err)

	terms := Terms(a, "The Federal Reserve raised rates, and the markets fell.")

	assert.Equal(t, []string{"federal", "reserve", "raised", "rates", "markets", "fell"}, terms)
}

func TestTerms_Empty(t *testing.T) {
	a, err := NewAnalyzer()
	require.NoError(t, err)

	assert.Empty(t, Terms(a, ""))
	assert.Empty(t, Terms(a, "the and of"))
}

func TestNGrams(t *testing.T) {
	got := NGrams([]string{"oil", "price", "cut"}, 2)

	assert.Equal(t, []string{"oil", "price", "cut", "oil price", "price cut"}, got)
	assert.Equal(t, []string{"oil"}, NGrams([]string{"oil"}, 2))
	assert.Equal(t, []string{"a", "b"}, NGrams([]string{"a", "b"}, 0))
}

func TestJaccard(t *testing.T) {
	set := func(terms ...string) map[string]struct{} {
		m := make(map[string]struct{})
		for _, s := range terms {
			m[s] = struct{}{}
		}
		return m
	}

	tests := []struct {
		name string
		a, b map[string]struct{}
		want float64
	}{
		{"identical", set("a", "b"), set("a", "b"), 1},
		{"disjoint", set("a"), set("b"), 0},
		{"half", set("a", "b"), set("b", "c", "a", "d"), 0.5},
		{"both empty", set(), set(), 0},
		{"one empty", set("a"), set(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Jaccard(tt.a, tt.b), 1e-9)
			assert.InDelta(t, tt.want, Jaccard(tt.b, tt.a), 1e-9)
		})
	}
}

func TestSet(t *testing.T) {
	a, err := Default()
	require.NoError(t, err)

	s := Set(a, "Shell and BP: Shell wins")

	assert.Len(t, s, 3)
	assert.Contains(t, s, "shell")
	assert.Contains(t, s, "bp")
	assert.Contains(t, s, "wins")
}
