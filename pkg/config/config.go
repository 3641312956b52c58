package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/guardian-crm/guardian/pkg/logging"
	"github.com/guardian-crm/guardian/pkg/models"
)

// Config holds all Guardian configuration.
type Config struct {
	Listen    string                `yaml:"listen"`
	DBPath    string                `yaml:"db_path" validate:"required"`
	Log       logging.Config        `yaml:"log"`
	Store     StoreConfig           `yaml:"store"`
	Cache     CacheConfig           `yaml:"cache"`
	Actions   ActionPolicies        `yaml:"actions" validate:"dive"`
	Providers []ProviderConfig      `yaml:"providers" validate:"dive"`
	Router    RouterConfig          `yaml:"router"`
	Pricing   []models.ModelPricing `yaml:"pricing" validate:"dive"`
	Budget    BudgetConfig          `yaml:"budget"`
}

// ActionPolicy is the static per-action cache and breaker policy.
type ActionPolicy struct {
	TTL                 time.Duration          `yaml:"ttl" validate:"gte=0"`
	MaxEntries          int                    `yaml:"max_entries" validate:"gte=0"`
	SimilarityThreshold float64                `yaml:"similarity_threshold" validate:"gte=0,lte=1"`
	MinCostToCache      float64                `yaml:"min_cost_to_cache" validate:"gte=0"`
	FailureThreshold    int                    `yaml:"failure_threshold" validate:"gte=0"`
	RecoveryTimeout     time.Duration          `yaml:"recovery_timeout" validate:"gte=0"`
	SuccessThreshold    int                    `yaml:"success_threshold" validate:"gte=0"`
	MonitoringWindow    time.Duration          `yaml:"monitoring_window" validate:"gte=0"`
	DegradationMode     models.DegradationMode `yaml:"degradation_mode" validate:"omitempty,oneof=cache_only fallback_response queue_request"`
	Semantic            bool                   `yaml:"semantic"`
	Template            bool                   `yaml:"template"`
}

// ActionPolicies holds per-action policy overrides.
type ActionPolicies map[models.ActionType]ActionPolicy

// UnmarshalYAML decodes each action's override onto its current or built-in
// policy, so a partial override keeps the fields it does not mention.
func (a *ActionPolicies) UnmarshalYAML(node *yaml.Node) error {
	var raw map[models.ActionType]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if *a == nil {
		*a = make(ActionPolicies, len(raw))
	}
	builtin := DefaultActionPolicies()
	for action, n := range raw {
		p, ok := (*a)[action]
		if !ok {
			p = builtin[action]
		}
		if err := n.Decode(&p); err != nil {
			return fmt.Errorf("actions.%s: %w", action, err)
		}
		(*a)[action] = p
	}
	return nil
}

// RouterConfig maps action types to provider fallback chains.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes" validate:"dive"`
}

// RouteConfig maps an action type to an ordered list of targets.
type RouteConfig struct {
	Action  models.ActionType `yaml:"action" validate:"required"`
	Targets []RouteTarget     `yaml:"targets" validate:"min=1,dive"`
}

// RouteTarget identifies a specific provider and model in a fallback chain.
type RouteTarget struct {
	Provider string `yaml:"provider" validate:"required"`
	Model    string `yaml:"model"`
}

// ProviderConfig defines an upstream LLM provider.
// Type is "openai" (default) or "anthropic".
type ProviderConfig struct {
	Name    string        `yaml:"name" validate:"required"`
	URL     string        `yaml:"url" validate:"required,url"`
	APIKey  string        `yaml:"api_key"`
	Type    string        `yaml:"type" validate:"omitempty,oneof=openai anthropic"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// StoreConfig selects the persistent backing store for cache entries.
type StoreConfig struct {
	Backend string             `yaml:"backend" validate:"oneof=memory sqlite redis"`
	Redis   RedisConfig        `yaml:"redis"`
	Breaker StoreBreakerConfig `yaml:"breaker"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0"`
	KeyPrefix string `yaml:"key_prefix"`
}

// StoreBreakerConfig guards the persistent store against a failing backend.
type StoreBreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CacheConfig controls the tiered cache.
type CacheConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Version             string        `yaml:"version"`
	SweepInterval       time.Duration `yaml:"sweep_interval" validate:"gte=0"`
	EmbeddingDimensions int           `yaml:"embedding_dimensions" validate:"gte=0"`
	// Defaults applies to action types with no entry under actions.
	Defaults ActionPolicy `yaml:"defaults"`
}

// BudgetConfig controls budget enforcement.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies" validate:"dive"`
}

// DefaultActionPolicies returns the built-in policy table. Interactive,
// high-stakes actions trip sooner and recover faster than bulk ones.
func DefaultActionPolicies() map[models.ActionType]ActionPolicy {
	return map[models.ActionType]ActionPolicy{
		models.ActionLeadScoring: {
			TTL:                 24 * time.Hour,
			MaxEntries:          10000,
			SimilarityThreshold: 0.85,
			MinCostToCache:      0.001,
			FailureThreshold:    3,
			RecoveryTimeout:     30 * time.Second,
			SuccessThreshold:    3,
			MonitoringWindow:    5 * time.Minute,
			DegradationMode:     models.DegradeFallbackResponse,
			Semantic:            true,
		},
		models.ActionEmailGeneration: {
			TTL:                 7 * 24 * time.Hour,
			MaxEntries:          5000,
			SimilarityThreshold: 0.75,
			MinCostToCache:      0.002,
			FailureThreshold:    5,
			RecoveryTimeout:     60 * time.Second,
			SuccessThreshold:    3,
			MonitoringWindow:    5 * time.Minute,
			DegradationMode:     models.DegradeCacheOnly,
			Template:            true,
		},
		models.ActionWhatsAppGeneration: {
			TTL:                 3 * 24 * time.Hour,
			MaxEntries:          3000,
			SimilarityThreshold: 0.80,
			MinCostToCache:      0.0005,
			FailureThreshold:    5,
			RecoveryTimeout:     45 * time.Second,
			SuccessThreshold:    3,
			MonitoringWindow:    5 * time.Minute,
			DegradationMode:     models.DegradeFallbackResponse,
			Template:            true,
		},
		models.ActionContentAnalysis: {
			TTL:                 12 * time.Hour,
			MaxEntries:          2000,
			SimilarityThreshold: 0.90,
			MinCostToCache:      0.003,
			FailureThreshold:    5,
			RecoveryTimeout:     60 * time.Second,
			SuccessThreshold:    3,
			MonitoringWindow:    5 * time.Minute,
			DegradationMode:     models.DegradeCacheOnly,
			Semantic:            true,
		},
	}
}

// DefaultPolicy is used for action types with no configured policy.
func DefaultPolicy() ActionPolicy {
	return ActionPolicy{
		TTL:                 time.Hour,
		MaxEntries:          1000,
		SimilarityThreshold: 0.85,
		FailureThreshold:    5,
		RecoveryTimeout:     60 * time.Second,
		SuccessThreshold:    3,
		MonitoringWindow:    5 * time.Minute,
		DegradationMode:     models.DegradeCacheOnly,
	}
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "guardian.db",
		Log:    logging.DefaultConfig(),
		Store: StoreConfig{
			Backend: "memory",
			Redis:   RedisConfig{Addr: "localhost:6379", KeyPrefix: "guardian:cache:"},
			Breaker: StoreBreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second},
		},
		Cache: CacheConfig{
			Enabled:             true,
			Version:             "1",
			SweepInterval:       5 * time.Minute,
			EmbeddingDimensions: 64,
			Defaults:            DefaultPolicy(),
		},
		Actions: DefaultActionPolicies(),
	}
}

// Policy returns the effective policy for an action type. Fields left at
// their zero value fall back to the built-in table, then to cache defaults.
func (c *Config) Policy(action models.ActionType) ActionPolicy {
	base := c.Cache.Defaults
	if d, ok := DefaultActionPolicies()[action]; ok {
		base = d
	}
	p, ok := c.Actions[action]
	if !ok {
		return base
	}
	return p.withDefaults(base)
}

// Policies resolves every configured action type.
func (c *Config) Policies() map[models.ActionType]ActionPolicy {
	out := make(map[models.ActionType]ActionPolicy, len(c.Actions))
	for a := range DefaultActionPolicies() {
		out[a] = c.Policy(a)
	}
	for a := range c.Actions {
		out[a] = c.Policy(a)
	}
	return out
}

func (p ActionPolicy) withDefaults(d ActionPolicy) ActionPolicy {
	if p.TTL == 0 {
		p.TTL = d.TTL
	}
	if p.MaxEntries == 0 {
		p.MaxEntries = d.MaxEntries
	}
	if p.SimilarityThreshold == 0 {
		p.SimilarityThreshold = d.SimilarityThreshold
	}
	if p.FailureThreshold == 0 {
		p.FailureThreshold = d.FailureThreshold
	}
	if p.RecoveryTimeout == 0 {
		p.RecoveryTimeout = d.RecoveryTimeout
	}
	if p.SuccessThreshold == 0 {
		p.SuccessThreshold = d.SuccessThreshold
	}
	if p.MonitoringWindow == 0 {
		p.MonitoringWindow = d.MonitoringWindow
	}
	if p.DegradationMode == "" {
		p.DegradationMode = d.DegradationMode
	}
	return p
}

// Load reads a YAML config file, expands environment variables and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks field constraints and cross references between sections.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	providers := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p.Name] = true
	}
	for _, r := range cfg.Router.Routes {
		for _, t := range r.Targets {
			if !providers[t.Provider] {
				return fmt.Errorf("invalid config: route %q references unknown provider %q", r.Action, t.Provider)
			}
		}
	}
	if cfg.Store.Backend == "redis" && cfg.Store.Redis.Addr == "" {
		return errors.New("invalid config: store.redis.addr is required for the redis backend")
	}
	return nil
}
