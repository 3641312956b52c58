// Package schema validates provider results against per-action JSON schemas.
package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/guardian-crm/guardian/pkg/models"
)

var documents = map[models.ActionType]string{
	models.ActionLeadScoring: `{
  "type": "object",
  "required": ["score", "category", "reasoning"],
  "properties": {
    "score": {"type": "integer", "minimum": 0, "maximum": 100},
    "category": {"type": "string", "enum": ["Hot", "Warm", "Cold", "Unqualified"]},
    "reasoning": {"type": "string", "minLength": 1},
    "breakdown": {"type": "object", "additionalProperties": {"type": "integer"}},
    "next_actions": {"type": "array", "items": {"type": "string"}},
    "priority": {"type": "string", "enum": ["high", "medium", "low"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`,
	models.ActionEmailGeneration: `{
  "type": "object",
  "required": ["subject", "content"],
  "properties": {
    "subject": {"type": "string", "minLength": 1, "maxLength": 200},
    "content": {"type": "string", "minLength": 1},
    "tone": {"type": "string"},
    "call_to_action": {"type": "string"}
  }
}`,
	models.ActionWhatsAppGeneration: `{
  "type": "object",
  "required": ["message"],
  "properties": {
    "message": {"type": "string", "minLength": 1, "maxLength": 4096},
    "tone": {"type": "string"},
    "urgency": {"type": "string", "enum": ["high", "medium", "low"]}
  }
}`,
	models.ActionContentAnalysis: `{
  "type": "object",
  "required": ["summary", "score"],
  "properties": {
    "summary": {"type": "string", "minLength": 1},
    "sentiment": {"type": "string", "enum": ["positive", "neutral", "negative"]},
    "topics": {"type": "array", "items": {"type": "string"}},
    "score": {"type": "integer", "minimum": 0, "maximum": 100},
    "reasoning": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`,
}

// Document returns the JSON schema source for an action type.
func Document(action models.ActionType) (string, bool) {
	d, ok := documents[action]
	return d, ok
}

// Validator holds compiled schemas keyed by action type. It is safe for
// concurrent use.
type Validator struct {
	mu      sync.RWMutex
	schemas map[models.ActionType]*gojsonschema.Schema
}

// New compiles the built-in schemas.
func New() (*Validator, error) {
	v := &Validator{schemas: make(map[models.ActionType]*gojsonschema.Schema, len(documents))}
	for action, doc := range documents {
		if err := v.Register(action, doc); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// MustNew is like New but panics if a built-in schema does not compile.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Register compiles doc and uses it for action, replacing any existing schema.
func (v *Validator) Register(action models.ActionType, doc string) error {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return fmt.Errorf("compile %s schema: %w", action, err)
	}
	v.mu.Lock()
	v.schemas[action] = s
	v.mu.Unlock()
	return nil
}

// Validate returns the problems found in r, or nil when r conforms or no
// schema is registered for its action.
func (v *Validator) Validate(r models.Result) []string {
	v.mu.RLock()
	s, ok := v.schemas[r.Action]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	payload, err := r.PayloadJSON()
	if err != nil {
		return []string{fmt.Sprintf("encode result: %v", err)}
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return []string{fmt.Sprintf("validate result: %v", err)}
	}
	if res.Valid() {
		return nil
	}

	problems := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		problems = append(problems, e.String())
	}
	sort.Strings(problems)
	return problems
}
