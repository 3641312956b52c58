package router

import (
	"errors"
	"fmt"

	"github.com/guardian-crm/guardian/pkg/config"
	"github.com/guardian-crm/guardian/pkg/models"
)

// ErrNoProviders is returned when no provider is configured.
var ErrNoProviders = errors.New("no providers configured")

// Route represents a resolved provider and model to try.
type Route struct {
	Provider config.ProviderConfig
	Model    string
}

// Router resolves action types to ordered provider+model chains.
type Router struct {
	cfg *config.Config
}

// New creates a Router from the given configuration.
func New(cfg *config.Config) *Router {
	return &Router{cfg: cfg}
}

// Resolve returns an ordered list of routes for an action.
// If the action has a configured route, the route's targets are returned.
// Otherwise, the first provider is used. The model of each route is, in
// order of preference, the target's model, the requested model and the
// provider's default model.
func (r *Router) Resolve(action models.ActionType, requestedModel string) ([]Route, error) {
	if len(r.cfg.Providers) == 0 {
		return nil, ErrNoProviders
	}

	// Build provider index by name
	providerIndex := make(map[string]config.ProviderConfig, len(r.cfg.Providers))
	for _, p := range r.cfg.Providers {
		providerIndex[p.Name] = p
	}

	// Check configured routes
	for _, route := range r.cfg.Router.Routes {
		if route.Action != action {
			continue
		}
		var routes []Route
		for _, target := range route.Targets {
			provider, ok := providerIndex[target.Provider]
			if !ok {
				continue // skip unknown providers
			}
			routes = append(routes, Route{Provider: provider, Model: pick(target.Model, requestedModel, provider.Model)})
		}
		if len(routes) == 0 {
			return nil, fmt.Errorf("route %q: all providers unknown", action)
		}
		return routes, nil
	}

	// No matching route, default to the first provider
	p := r.cfg.Providers[0]
	return []Route{{Provider: p, Model: pick(requestedModel, p.Model)}}, nil
}

func pick(candidates ...string) string {
	for _, m := range candidates {
		if m != "" {
			return m
		}
	}
	return ""
}
