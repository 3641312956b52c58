package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// LeadScore is the result of a lead scoring action.
type LeadScore struct {
	Score       int            `json:"score"`
	Category    string         `json:"category"`
	Reasoning   string         `json:"reasoning"`
	Breakdown   map[string]int `json:"breakdown,omitempty"`
	NextActions []string       `json:"next_actions,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	Confidence  float64        `json:"confidence,omitempty"`
}

// EmailContent is the result of an email generation action.
type EmailContent struct {
	Subject      string `json:"subject"`
	Content      string `json:"content"`
	Tone         string `json:"tone,omitempty"`
	CallToAction string `json:"call_to_action,omitempty"`
}

// WhatsAppMessage is the result of a WhatsApp generation action.
type WhatsAppMessage struct {
	Message string `json:"message"`
	Tone    string `json:"tone,omitempty"`
	Urgency string `json:"urgency,omitempty"`
}

// ContentAnalysis is the result of a content analysis action.
type ContentAnalysis struct {
	Summary    string   `json:"summary"`
	Sentiment  string   `json:"sentiment,omitempty"`
	Topics     []string `json:"topics,omitempty"`
	Score      int      `json:"score"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
}

// Result is a provider output tagged by action type. Exactly one of the
// variant fields is set; actions without a typed variant use Raw.
type Result struct {
	Action    ActionType       `json:"action"`
	LeadScore *LeadScore       `json:"lead_score,omitempty"`
	Email     *EmailContent    `json:"email,omitempty"`
	WhatsApp  *WhatsAppMessage `json:"whatsapp,omitempty"`
	Analysis  *ContentAnalysis `json:"analysis,omitempty"`
	Raw       json.RawMessage  `json:"raw,omitempty"`
}

// DecodeResult parses provider content into the variant for action.
func DecodeResult(action ActionType, content []byte) (Result, error) {
	r := Result{Action: action}
	var err error
	switch action {
	case ActionLeadScoring:
		r.LeadScore = &LeadScore{}
		err = json.Unmarshal(content, r.LeadScore)
	case ActionEmailGeneration:
		r.Email = &EmailContent{}
		err = json.Unmarshal(content, r.Email)
	case ActionWhatsAppGeneration:
		r.WhatsApp = &WhatsAppMessage{}
		err = json.Unmarshal(content, r.WhatsApp)
	case ActionContentAnalysis:
		r.Analysis = &ContentAnalysis{}
		err = json.Unmarshal(content, r.Analysis)
	default:
		if !json.Valid(content) {
			return Result{}, fmt.Errorf("decode %s result: invalid json", action)
		}
		r.Raw = slices.Clone(json.RawMessage(content))
	}
	if err != nil {
		return Result{}, fmt.Errorf("decode %s result: %w", action, err)
	}
	return r, nil
}

// Payload returns the populated variant, suitable for encoding on its own.
func (r Result) Payload() any {
	switch {
	case r.LeadScore != nil:
		return r.LeadScore
	case r.Email != nil:
		return r.Email
	case r.WhatsApp != nil:
		return r.WhatsApp
	case r.Analysis != nil:
		return r.Analysis
	case r.Raw != nil:
		return r.Raw
	}
	return nil
}

// PayloadJSON encodes the populated variant.
func (r Result) PayloadJSON() ([]byte, error) {
	p := r.Payload()
	if p == nil {
		return []byte("null"), nil
	}
	return json.Marshal(p)
}

// Text returns the primary generated text of content-generation results.
func (r Result) Text() string {
	switch {
	case r.Email != nil:
		return r.Email.Content
	case r.WhatsApp != nil:
		return r.WhatsApp.Message
	}
	return ""
}

// WithText returns a copy of r whose primary generated text is s.
func (r Result) WithText(s string) Result {
	c := r.Clone()
	switch {
	case c.Email != nil:
		c.Email.Content = s
	case c.WhatsApp != nil:
		c.WhatsApp.Message = s
	}
	return c
}

// Clone returns a deep copy of r.
func (r Result) Clone() Result {
	c := Result{Action: r.Action}
	if r.LeadScore != nil {
		ls := *r.LeadScore
		ls.Breakdown = maps.Clone(r.LeadScore.Breakdown)
		ls.NextActions = slices.Clone(r.LeadScore.NextActions)
		c.LeadScore = &ls
	}
	if r.Email != nil {
		e := *r.Email
		c.Email = &e
	}
	if r.WhatsApp != nil {
		w := *r.WhatsApp
		c.WhatsApp = &w
	}
	if r.Analysis != nil {
		a := *r.Analysis
		a.Topics = slices.Clone(r.Analysis.Topics)
		c.Analysis = &a
	}
	if r.Raw != nil {
		c.Raw = slices.Clone(r.Raw)
	}
	return c
}
