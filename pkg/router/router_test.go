package router

import (
	"testing"

	"github.com/eyecheck/gateway/pkg/config"
	"github.com/eyecheck/gateway/pkg/llm"
	"github.com/eyecheck/gateway/pkg/llm/llmtest"
)

func providers(names ...string) []llm.Provider {
	out := make([]llm.Provider, 0, len(names))
	for _, n := range names {
		f := llmtest.New()
		f.ProviderName = n
		out = append(out, f)
	}
	return out
}

func TestResolveDefault(t *testing.T) {
	r, err := New(config.RouterConfig{DefaultModel: "gpt-4o-mini"}, providers("openai"))
	if err != nil {
		t.Fatal(err)
	}

	route, err := r.Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if route.Provider.Name() != "openai" || route.Model != "gpt-4o-mini" {
		t.Errorf("unexpected route: %s %s", route.Provider.Name(), route.Model)
	}

	route, _ = r.Resolve("gpt-4.1")
	if route.Model != "gpt-4.1" {
		t.Errorf("expected model passed through, got %s", route.Model)
	}
}

func TestResolveAlternatePattern(t *testing.T) {
	r, err := New(config.RouterConfig{
		DefaultProvider:   "openai",
		DefaultModel:      "gpt-4o-mini",
		AlternateProvider: "google",
		AlternatePattern:  `^gemini-`,
	}, providers("google", "openai"))
	if err != nil {
		t.Fatal(err)
	}

	route, _ := r.Resolve("gemini-2.5-flash")
	if route.Provider.Name() != "google" {
		t.Errorf("expected google, got %s", route.Provider.Name())
	}

	route, _ = r.Resolve("gpt-4o")
	if route.Provider.Name() != "openai" {
		t.Errorf("expected configured default provider, got %s", route.Provider.Name())
	}
}

func TestResolveWithAlias(t *testing.T) {
	r, err := New(config.RouterConfig{
		Routes: []config.RouteConfig{
			{Model: "fast", Provider: "google", Target: "gemini-2.5-flash-lite"},
		},
	}, providers("openai", "google"))
	if err != nil {
		t.Fatal(err)
	}

	route, err := r.Resolve("fast")
	if err != nil {
		t.Fatal(err)
	}
	if route.Provider.Name() != "google" || route.Model != "gemini-2.5-flash-lite" {
		t.Errorf("unexpected route: %s %s", route.Provider.Name(), route.Model)
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(config.RouterConfig{}, nil); err == nil {
		t.Error("expected error for no providers")
	}
	if _, err := New(config.RouterConfig{DefaultProvider: "missing"}, providers("openai")); err == nil {
		t.Error("expected error for unknown default provider")
	}
	if _, err := New(config.RouterConfig{AlternateProvider: "openai", AlternatePattern: "("}, providers("openai")); err == nil {
		t.Error("expected error for bad pattern")
	}
}
