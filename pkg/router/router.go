package router

import (
	"fmt"
	"regexp"

	"github.com/eyecheck/gateway/pkg/config"
	"github.com/eyecheck/gateway/pkg/llm"
)

// Route is a resolved provider and model.
type Route struct {
	Provider llm.Provider
	Model    string
}

// Router resolves requested model names to providers.
type Router struct {
	cfg       config.RouterConfig
	providers map[string]llm.Provider
	first     llm.Provider
	alternate *regexp.Regexp
}

// New creates a Router over providers. The default provider is
// cfg.DefaultProvider, or the first provider when unset.
func New(cfg config.RouterConfig, providers []llm.Provider) (*Router, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	r := &Router{
		cfg:       cfg,
		providers: make(map[string]llm.Provider, len(providers)),
		first:     providers[0],
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}

	if cfg.DefaultProvider != "" {
		if _, ok := r.providers[cfg.DefaultProvider]; !ok {
			return nil, fmt.Errorf("default provider %q not configured", cfg.DefaultProvider)
		}
	}
	if cfg.AlternateProvider != "" && cfg.AlternatePattern != "" {
		if _, ok := r.providers[cfg.AlternateProvider]; !ok {
			return nil, fmt.Errorf("alternate provider %q not configured", cfg.AlternateProvider)
		}
		re, err := regexp.Compile(cfg.AlternatePattern)
		if err != nil {
			return nil, fmt.Errorf("alternate pattern: %w", err)
		}
		r.alternate = re
	}
	return r, nil
}

func (r *Router) defaultProvider() llm.Provider {
	if p, ok := r.providers[r.cfg.DefaultProvider]; ok {
		return p
	}
	return r.first
}

// Resolve returns the route for the requested model.
// An empty model resolves to the configured default model. Aliases are
// checked first, then the alternate provider pattern; everything else goes
// to the default provider with the model name unchanged.
func (r *Router) Resolve(requestedModel string) (Route, error) {
	model := requestedModel
	if model == "" {
		model = r.cfg.DefaultModel
	}

	for _, route := range r.cfg.Routes {
		if route.Model != model {
			continue
		}
		provider, ok := r.providers[route.Provider]
		if !ok {
			return Route{}, fmt.Errorf("route %q: unknown provider %q", model, route.Provider)
		}
		target := route.Target
		if target == "" {
			target = model
		}
		return Route{Provider: provider, Model: target}, nil
	}

	if r.alternate != nil && r.alternate.MatchString(model) {
		return Route{Provider: r.providers[r.cfg.AlternateProvider], Model: model}, nil
	}

	return Route{Provider: r.defaultProvider(), Model: model}, nil
}
