package keys

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDeterministic(t *testing.T) {
	input := map[string]any{"name": "Sarah", "company": "Acme"}
	k1 := Normalize("org-1", "lead_scoring", input)
	k2 := Normalize("org-1", "lead_scoring", input)
	assert.Equal(t, k1, k2)
	assert.True(t, strings.HasPrefix(k1, "org-1:lead_scoring:"))
	assert.Len(t, strings.TrimPrefix(k1, Prefix("org-1", "lead_scoring")), 16)
}

func TestNormalizeIgnoresOrderCaseAndWhitespace(t *testing.T) {
	var a, b map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"name":"Sarah","company":"Acme","meta":{"x":1,"y":"Hi  There"}}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"meta":{"y":" hi there ","x":1},"company":"ACME ","name":"  sarah"}`), &b))

	assert.Equal(t, Normalize("t", "a", a), Normalize("t", "a", b))
}

func TestNormalizeDistinguishesInputs(t *testing.T) {
	base := Normalize("t", "a", map[string]any{"name": "Sarah"})

	assert.NotEqual(t, base, Normalize("t", "a", map[string]any{"name": "Sara"}))
	assert.NotEqual(t, base, Normalize("t2", "a", map[string]any{"name": "Sarah"}))
	assert.NotEqual(t, base, Normalize("t", "b", map[string]any{"name": "Sarah"}))
}

func TestNormalizeNumericTypes(t *testing.T) {
	assert.Equal(t,
		Normalize("t", "a", map[string]any{"employees": 50}),
		Normalize("t", "a", map[string]any{"employees": 50.0}),
	)
	assert.Equal(t,
		Normalize("t", "a", map[string]any{"employees": json.Number("50")}),
		Normalize("t", "a", map[string]any{"employees": 50}),
	)
}

func TestCanonicalNested(t *testing.T) {
	got := Canonical(map[string]any{
		"tags":  []string{" B ", "a"},
		"attrs": map[string]string{"Z": "Up"},
	})
	assert.JSONEq(t, `{"attrs":{"Z":"up"},"tags":["b","a"]}`, string(got))
}

func TestNormalizeEmptyInput(t *testing.T) {
	assert.Equal(t, Normalize("t", "a", nil), Normalize("t", "a", map[string]any{}))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("Acme ", "acme"))
	assert.True(t, Equal(50, 50.0))
	assert.True(t, Equal(map[string]any{"a": "X"}, map[string]any{"a": "x"}))
	assert.False(t, Equal("acme", "acme inc"))
	assert.False(t, Equal(50, "50"))
}
