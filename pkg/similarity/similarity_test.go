package similarity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 2}, []float64{-1, -2}, -1},
		{"zero magnitude", []float64{0, 0}, []float64{1, 1}, 0},
		{"both zero", []float64{0, 0}, []float64{0, 0}, 0},
		{"empty", nil, []float64{1}, 0},
		{"scaled", []float64{1, 1}, []float64{3, 3}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func TestHeuristicEmbedding(t *testing.T) {
	h := HeuristicBagOfWordsEmbedding{Dimensions: 32}

	v := h.Embed("Acme Corp, acme!")
	require.Len(t, v, 32)
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	assert.InDelta(t, 1.0, norm, 1e-9, "vectors are unit length")
	acme := h.Embed("acme")
	assert.InDelta(t, 1.0, Cosine(acme, h.Embed("acme acme acme")), 1e-9, "repetition only scales the raw counts")
	assert.Equal(t, make([]float64, 32), h.Embed("  ,! "))

	assert.Equal(t, h.Embed("hello world"), h.Embed("HELLO   world"))
	assert.Len(t, HeuristicBagOfWordsEmbedding{}.Embed("x"), DefaultDimensions)
	assert.InDelta(t, 0, Cosine(h.Embed(""), h.Embed("x")), 1e-9)
}

func TestStructural(t *testing.T) {
	a := map[string]any{"industry": "SaaS", "size": 50, "title": "CTO"}
	b := map[string]any{"industry": "saas", "size": 50.0, "region": "EU"}

	// Equal: industry, size. Union: industry, size, title, region.
	assert.InDelta(t, 0.5, Structural(a, b), 1e-9)
	assert.InDelta(t, Structural(a, b), Structural(b, a), 1e-9)
	assert.Equal(t, 1.0, Structural(nil, map[string]any{}))
	assert.Equal(t, 0.0, Structural(map[string]any{"a": 1}, nil))
	assert.InDelta(t, 1.0/3, StructuralStrings(
		map[string]string{"industry": "saas", "title": "cto"},
		map[string]string{"industry": "saas", "title": "ceo", "pain_point": "churn"},
	), 1e-9)
}

func TestText(t *testing.T) {
	got := Text(map[string]any{
		"name":      "Sarah",
		"company":   "Acme",
		"employees": 50,
		"tags":      []any{"b2b", 3},
		"contact":   map[string]any{"city": "Rome"},
	})
	assert.Equal(t, "Acme Rome Sarah b2b", got)
}

func TestCompositeWeights(t *testing.T) {
	assert.InDelta(t, 1.0, Composite(1, 1), 1e-9)
	assert.InDelta(t, 0.7, Composite(1, 0), 1e-9)
	assert.InDelta(t, 0.3, Composite(-0.5, 1), 1e-9)
	assert.Equal(t, 1.0, TextWeight+StructuralWeight)
}

func TestScorerNearDuplicateInputs(t *testing.T) {
	s := NewScorer(nil)
	a := map[string]any{"name": "Sarah", "company": "Acme", "industry": "SaaS", "title": "CTO", "employees": 50}
	b := map[string]any{"name": "Sarah", "company": "Acme", "industry": "SaaS", "title": "CTO", "employees": 55}

	sim := s.Similarity(a, s.Embed(a), b, s.Embed(b))
	// Text cosine 1, structural 4/5.
	assert.InDelta(t, 0.94, sim, 1e-9)

	c := map[string]any{"name": "Marco", "company": "Globex", "industry": "Retail", "title": "Buyer", "employees": 5000}
	assert.Less(t, s.Similarity(a, s.Embed(a), c, s.Embed(c)), 0.5)
	assert.False(t, math.IsNaN(s.Similarity(nil, nil, nil, nil)))
}
