// Package keys derives deterministic cache keys from request inputs.
package keys

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/guardian-crm/guardian/pkg/models"
)

// Normalize returns the cache key for an input scoped to tenant and action.
// Keys have the form "<tenant>:<action>:<16 hex digits>". Inputs that differ
// only in key order, letter case or surrounding whitespace of string values
// share a key.
func Normalize(tenantID string, action models.ActionType, input map[string]any) string {
	return fmt.Sprintf("%s:%s:%016x", tenantID, action, xxhash.Sum64(Canonical(input)))
}

// Prefix returns the key prefix shared by every key of tenant and action.
func Prefix(tenantID string, action models.ActionType) string {
	return tenantID + ":" + string(action) + ":"
}

// Canonical returns the canonical JSON encoding of input.
func Canonical(input map[string]any) []byte {
	// encoding/json writes map keys in sorted order.
	data, err := json.Marshal(canonicalValue(input))
	if err != nil {
		// Unencodable values (channels, funcs) fall back to their printed form.
		return []byte(fmt.Sprintf("%v", canonicalValue(input)))
	}
	return data
}

// Equal reports whether two values are equal after normalization, so that
// "Acme " equals "acme" and 50 equals 50.0.
func Equal(a, b any) bool {
	ea, errA := json.Marshal(canonicalValue(a))
	eb, errB := json.Marshal(canonicalValue(b))
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

func canonicalValue(v any) any {
	switch t := v.(type) {
	case string:
		return NormalizeString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = canonicalValue(val)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = NormalizeString(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = canonicalValue(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = NormalizeString(val)
		}
		return out
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

// NormalizeString trims, collapses inner whitespace and lower-cases s.
func NormalizeString(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
