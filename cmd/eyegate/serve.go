package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eyecheck/gateway/pkg/gateway"
	"github.com/eyecheck/gateway/pkg/telemetry"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg.Log)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, closer, err := openStore(cfg.Store)
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			tr, err := telemetry.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init usage tracker: %w", err)
			}
			defer func() { _ = tr.Close() }()

			providers, err := buildProviders(ctx, cfg.Providers)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			deps, err := gateway.NewDeps(cfg, store, providers, tr, reg, log)
			if err != nil {
				return err
			}

			log.WithFields(logrus.Fields{
				"config":    *configPath,
				"store":     cfg.Store.Driver,
				"providers": len(providers),
				"two_pass":  cfg.Generation.TwoPass,
			}).Info("starting eyegate")
			return gateway.New(cfg, deps).ListenAndServe(ctx)
		},
	}
}
