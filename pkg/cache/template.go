package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/guardian-crm/guardian/pkg/models"
	"github.com/guardian-crm/guardian/pkg/similarity"
)

// TemplateMinSimilarity is the structural similarity a template's variables
// must reach to be reused for a new input.
const TemplateMinSimilarity = 0.7

// Template variable names and their defaults.
var templateDefaults = map[string]string{
	"industry":     "general",
	"company_size": "unknown",
	"title":        "unknown",
	"pain_point":   "general",
}

// variable aliases in lookup order.
var templateAliases = map[string][]string{
	"industry":     {"industry"},
	"company_size": {"companySize", "company_size", "employees"},
	"title":        {"title"},
	"pain_point":   {"painPoint", "pain_point"},
}

// ExtractVariables pulls the template variables out of a request input,
// filling defaults for the ones it does not carry.
func ExtractVariables(input map[string]any) map[string]string {
	vars := make(map[string]string, len(templateDefaults))
	for name, def := range templateDefaults {
		vars[name] = def
		for _, alias := range templateAliases[name] {
			v, ok := input[alias]
			if !ok || v == nil {
				continue
			}
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				vars[name] = s
				break
			}
		}
	}
	return vars
}

// Templatize replaces occurrences of variable values in content with
// {{name}} placeholders. Default values and values shorter than three
// characters are left alone; longer values are replaced first so that one
// value contained in another does not split it.
func Templatize(content string, vars map[string]string) string {
	names := make([]string, 0, len(vars))
	for name, v := range vars {
		if len(v) < 3 || v == templateDefaults[name] {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(vars[names[i]]) != len(vars[names[j]]) {
			return len(vars[names[i]]) > len(vars[names[j]])
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		content = strings.ReplaceAll(content, vars[name], "{{"+name+"}}")
	}
	return content
}

// Render substitutes {{name}} placeholders in content with vars.
func Render(content string, vars map[string]string) string {
	pairs := make([]string, 0, 2*len(vars))
	for name, v := range vars {
		pairs = append(pairs, "{{"+name+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(content)
}

func variablesAsInput(vars map[string]string) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}

// TemplateMatch is a template tier hit. Entry holds the rendered result.
type TemplateMatch struct {
	Entry      *models.CacheEntry
	Similarity float64
}

// LookupTemplate finds a stored template whose variables are structurally
// close to the input's and renders it with the input's variables. Among
// candidates the most used wins, then the newest.
func (t *Tiered) LookupTemplate(_ context.Context, tenantID string, action models.ActionType, input map[string]any) (*TemplateMatch, bool) {
	if !t.policies.Policy(action).Template {
		return nil, false
	}
	vars := ExtractVariables(input)
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.tier(models.TierTemplate, action)
	type candidate struct {
		key   string
		entry *models.CacheEntry
		sim   float64
	}
	var candidates []candidate
	for _, k := range c.Keys() {
		e, ok := c.Peek(k)
		if !ok || !t.live(e, tenantID, now) {
			continue
		}
		if sim := similarity.StructuralStrings(vars, e.Variables); sim >= TemplateMinSimilarity {
			candidates = append(candidates, candidate{key: k, entry: e, sim: sim})
		}
	}
	if len(candidates) == 0 {
		t.counters[models.TierTemplate].misses++
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].entry, candidates[j].entry
		if a.Usage.HitCount != b.Usage.HitCount {
			return a.Usage.HitCount > b.Usage.HitCount
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	win := candidates[0]
	c.Get(win.key)
	out := t.hit(win.entry, now)
	out.Result = out.Result.WithText(Render(out.Content, vars))
	return &TemplateMatch{Entry: out, Similarity: win.sim}, true
}
