package main

import (
	"context"
	"fmt"
	"io"

	"github.com/eyecheck/gateway/pkg/config"
	"github.com/eyecheck/gateway/pkg/kvstore"
	"github.com/eyecheck/gateway/pkg/kvstore/sqlite"
	"github.com/eyecheck/gateway/pkg/kvstore/valkey"
	"github.com/eyecheck/gateway/pkg/llm"
)

// namespaces are the key prefixes written by the gateway services.
var namespaces = []string{"insight:", "conversation:", "ratelimit:", "breaker:"}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore opens the configured key-value store.
func openStore(cfg config.StoreConfig) (kvstore.Store, io.Closer, error) {
	switch cfg.Driver {
	case "memory":
		return kvstore.NewMemory(), nopCloser{}, nil
	case "valkey":
		s, err := valkey.New(valkey.Config{
			Address:   cfg.Address,
			Password:  cfg.Password,
			DB:        cfg.DB,
			KeyPrefix: cfg.KeyPrefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open valkey store: %w", err)
		}
		return s, s, nil
	case "sqlite", "":
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// buildProviders creates an llm.Provider for every configured provider.
func buildProviders(ctx context.Context, cfgs []config.ProviderConfig) ([]llm.Provider, error) {
	providers := make([]llm.Provider, 0, len(cfgs))
	for _, pc := range cfgs {
		switch pc.Type {
		case "gemini":
			p, err := llm.NewGemini(ctx, pc.Name, pc.APIKey)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
			}
			providers = append(providers, p)
		default:
			providers = append(providers, llm.NewOpenAI(pc.Name, pc.URL, pc.APIKey))
		}
	}
	return providers, nil
}
