package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/bolt/v3"

	"github.com/guardian-crm/guardian/pkg/models"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  bolt.Level
	}{
		{"trace", bolt.TRACE},
		{"debug", bolt.DEBUG},
		{"info", bolt.INFO},
		{"warn", bolt.WARN},
		{"error", bolt.ERROR},
		{"bogus", bolt.INFO},
		{"", bolt.INFO},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInitJSONFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Warn().
		Add(Tenant("org-1")).
		Add(Action(models.ActionLeadScoring)).
		Add(Tier(models.TierSemantic)).
		Add(Duration(1500 * time.Millisecond)).
		Add(ErrorField(errors.New("boom"))).
		Add(ErrorField(nil)).
		Msg("lookup failed")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("unmarshal log line: %v\nraw: %s", err, buf.String())
	}
	if line["tenant"] != "org-1" {
		t.Errorf("tenant = %v", line["tenant"])
	}
	if line["action"] != "lead_scoring" {
		t.Errorf("action = %v", line["action"])
	}
	if line["tier"] != "semantic" {
		t.Errorf("tier = %v", line["tier"])
	}
	if line["duration_ms"] != float64(1500) {
		t.Errorf("duration_ms = %v", line["duration_ms"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "error", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Info().Add(Str("k", "v")).Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered, got %s", buf.String())
	}
	Error().Add(Int("n", 3)).Msg("kept")
	if buf.Len() == 0 {
		t.Error("expected error line to be written")
	}
}

func TestScopedUsesOwnLogger(t *testing.T) {
	var own, def bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &def})
	t.Cleanup(func() { Init(DefaultConfig()) })

	For(New(Config{Level: "info", Format: "json", Output: &own})).Info().Add(Str("k", "v")).Msg("scoped")
	if own.Len() == 0 || def.Len() != 0 {
		t.Errorf("expected line on the scoped logger only, own=%q default=%q", own.String(), def.String())
	}

	var zero Scoped
	zero.Info().Msg("default")
	if def.Len() == 0 {
		t.Error("zero Scoped should log through the default logger")
	}
}
