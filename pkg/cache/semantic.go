package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/guardian-crm/guardian/pkg/models"
)

// SemanticMatch is a semantic tier hit. Entry holds the adapted result.
type SemanticMatch struct {
	Entry      *models.CacheEntry
	Similarity float64
}

// LookupSemantic returns the most similar live entry whose similarity to
// input is strictly above the threshold. A threshold of 0 uses each entry's
// own stored threshold. Ties go to the entry with more hits, then the newer
// one. The returned result has been adapted to the similarity.
func (t *Tiered) LookupSemantic(_ context.Context, tenantID string, action models.ActionType, input map[string]any, threshold float64) (*SemanticMatch, bool) {
	if !t.policies.Policy(action).Semantic {
		return nil, false
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.tier(models.TierSemantic, action)
	bestKey, best, bestSim := t.closest(c, tenantID, input, threshold, now)
	if best == nil {
		t.counters[models.TierSemantic].misses++
		return nil, false
	}

	// Get refreshes recency for the winner only.
	c.Get(bestKey)
	out := t.hit(best, now)
	out.Result = Adapt(out.Result, bestSim)
	return &SemanticMatch{Entry: out, Similarity: bestSim}, true
}

// PeekSemantic is LookupSemantic without side effects: hit counts, tier
// counters and recency are left untouched.
func (t *Tiered) PeekSemantic(_ context.Context, tenantID string, action models.ActionType, input map[string]any, threshold float64) (*SemanticMatch, bool) {
	if !t.policies.Policy(action).Semantic {
		return nil, false
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	_, best, bestSim := t.closest(t.tier(models.TierSemantic, action), tenantID, input, threshold, now)
	if best == nil {
		return nil, false
	}
	out := best.Clone()
	out.Result = Adapt(out.Result, bestSim)
	return &SemanticMatch{Entry: out, Similarity: bestSim}, true
}

// closest scans a semantic tier without touching recency. t.mu must be held.
func (t *Tiered) closest(c *lru.Cache[string, *models.CacheEntry], tenantID string, input map[string]any, threshold float64, now time.Time) (string, *models.CacheEntry, float64) {
	query := Sanitize(input)
	emb := t.scorer.Embed(query)

	var (
		bestKey string
		best    *models.CacheEntry
		bestSim float64
	)
	for _, k := range c.Keys() {
		e, ok := c.Peek(k)
		if !ok || !t.live(e, tenantID, now) {
			continue
		}
		limit := threshold
		if limit <= 0 {
			limit = e.SimilarityThreshold
		}
		sim := t.scorer.Similarity(query, emb, e.Input, e.Embedding)
		if sim <= limit {
			continue
		}
		if best == nil || better(sim, e, bestSim, best) {
			bestKey, best, bestSim = k, e, sim
		}
	}
	return bestKey, best, bestSim
}

func better(sim float64, e *models.CacheEntry, bestSim float64, best *models.CacheEntry) bool {
	if sim != bestSim {
		return sim > bestSim
	}
	if e.Usage.HitCount != best.Usage.HitCount {
		return e.Usage.HitCount > best.Usage.HitCount
	}
	return e.CreatedAt.After(best.CreatedAt)
}

// Adapt scales the numeric score of a scored result by similarity and marks
// its reasoning as adapted. Results without a score are returned unchanged.
func Adapt(r models.Result, similarity float64) models.Result {
	out := r.Clone()
	note := fmt.Sprintf(" (adapted from similar input, similarity %.2f)", similarity)
	switch {
	case out.LeadScore != nil:
		out.LeadScore.Score = adaptScore(out.LeadScore.Score, similarity)
		out.LeadScore.Reasoning += note
		out.LeadScore.Confidence = similarity
	case out.Analysis != nil:
		out.Analysis.Score = adaptScore(out.Analysis.Score, similarity)
		out.Analysis.Reasoning += note
		out.Analysis.Confidence = similarity
	case out.Raw != nil:
		out.Raw = adaptRaw(out.Raw, similarity, note)
	}
	return out
}

func adaptScore(score int, similarity float64) int {
	return int(math.Round(float64(score) * similarity))
}

func adaptRaw(raw json.RawMessage, similarity float64, note string) json.RawMessage {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	score, ok := obj["score"].(float64)
	if !ok {
		return raw
	}
	obj["score"] = math.Round(score * similarity)
	if reasoning, ok := obj["reasoning"].(string); ok {
		obj["reasoning"] = reasoning + note
	}
	obj["confidence"] = similarity
	out, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return out
}

var sensitiveFragments = []string{"password", "token", "secret", "key", "phone", "email"}

const redacted = "[REDACTED]"

// Sanitize returns a copy of input with the values of sensitive fields
// replaced, recursing into nested objects. Semantic entries store the
// sanitized copy.
func Sanitize(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		if sensitive(k) {
			out[k] = redacted
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Sanitize(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func sensitive(field string) bool {
	lower := strings.ToLower(field)
	for _, f := range sensitiveFragments {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}
