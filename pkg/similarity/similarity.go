// Package similarity scores how close two request inputs are.
//
// Semantic cache matching blends a text cosine over embeddings with a
// structural field-overlap score. The default embedding is a hashed
// bag-of-words, chosen for zero cost and latency over quality; a learned
// embedding model can replace it through the Embedder interface.
package similarity

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/guardian-crm/guardian/pkg/keys"
)

// Composite weights. They are policy constants, not fitted values.
const (
	TextWeight       = 0.7
	StructuralWeight = 0.3
)

// DefaultDimensions is the embedding width used when none is configured.
const DefaultDimensions = 64

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(text string) []float64
}

// HeuristicBagOfWordsEmbedding hashes each lower-cased token into one of
// Dimensions buckets, counts occurrences and scales the result to unit
// length. Text without tokens yields the zero vector. It is not a semantic embedding:
// synonyms land in unrelated buckets and unrelated words may collide.
type HeuristicBagOfWordsEmbedding struct {
	Dimensions int
}

// Embed implements Embedder.
func (h HeuristicBagOfWordsEmbedding) Embed(text string) []float64 {
	dims := h.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	vec := make([]float64, dims)
	for _, tok := range Tokenize(text) {
		vec[xxhash.Sum64String(tok)%uint64(dims)]++
	}
	var norm float64
	for _, x := range vec {
		norm += x * x
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// Tokenize splits text into lower-cased runs of letters and digits.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Cosine returns the cosine similarity of a and b over their common length.
// It is 0 when either vector is empty or has zero magnitude.
func Cosine(a, b []float64) float64 {
	n := min(len(a), len(b))
	var dot, normA, normB float64
	for i := range n {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	c := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp rounding drift so identical vectors score exactly 1.
	return math.Max(-1, math.Min(1, c))
}

// Structural returns the number of keys present in both maps with equal
// values divided by the number of distinct keys across both. Two empty maps
// are identical and score 1.
func Structural(a, b map[string]any) float64 {
	union := len(a)
	equal := 0
	for k, vb := range b {
		va, ok := a[k]
		if !ok {
			union++
			continue
		}
		if keys.Equal(va, vb) {
			equal++
		}
	}
	if union == 0 {
		return 1
	}
	return float64(equal) / float64(union)
}

// StructuralStrings is Structural for flat string maps.
func StructuralStrings(a, b map[string]string) float64 {
	return Structural(toAny(a), toAny(b))
}

func toAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Text flattens the string values of input, in sorted key order, into the
// document that gets embedded. Numbers and booleans are left to the
// structural score.
func Text(input map[string]any) string {
	names := make([]string, 0, len(input))
	for k := range input {
		names = append(names, k)
	}
	sort.Strings(names)

	var parts []string
	for _, k := range names {
		switch v := input[k].(type) {
		case string:
			parts = append(parts, v)
		case []string:
			parts = append(parts, v...)
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				}
			}
		case map[string]any:
			if nested := Text(v); nested != "" {
				parts = append(parts, nested)
			}
		}
	}
	return strings.Join(parts, " ")
}

// Composite blends a text cosine with a structural score. Negative cosines
// count as no text similarity.
func Composite(cosine, structural float64) float64 {
	return TextWeight*math.Max(cosine, 0) + StructuralWeight*structural
}

// Scorer embeds inputs and scores pairs of them.
type Scorer struct {
	embedder Embedder
}

// NewScorer returns a Scorer using e, or the bag-of-words heuristic when e is nil.
func NewScorer(e Embedder) *Scorer {
	if e == nil {
		e = HeuristicBagOfWordsEmbedding{Dimensions: DefaultDimensions}
	}
	return &Scorer{embedder: e}
}

// Embed returns the embedding of input's text.
func (s *Scorer) Embed(input map[string]any) []float64 {
	return s.embedder.Embed(Text(input))
}

// Similarity returns the composite similarity of two embedded inputs.
func (s *Scorer) Similarity(inputA map[string]any, embA []float64, inputB map[string]any, embB []float64) float64 {
	return Composite(Cosine(embA, embB), Structural(inputA, inputB))
}
