package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eyecheck/gateway/pkg/config"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "eyegate",
		Short:         "eyegate: AI request gateway for the vision-screening app",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "eyegate.yaml", "path to config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newCacheCmd(&configPath),
		newBreakerCmd(&configPath),
		newUsageCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file. A missing file at the default path
// falls back to the built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) && path == "eyegate.yaml" {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
