package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eyecheck/gateway/pkg/kvstore"
)

func newCacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear stored gateway state",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show stored entries per namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, c, err := openMaintainer(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx := context.Background()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAMESPACE\tENTRIES")
			var total int64
			for _, ns := range namespaces {
				n, err := m.Len(ctx, ns)
				if err != nil {
					return fmt.Errorf("count %s: %w", ns, err)
				}
				total += n
				fmt.Fprintf(w, "%s\t%s\n", ns, humanize.Comma(n))
			}
			fmt.Fprintf(w, "TOTAL\t%s\n", humanize.Comma(total))
			return w.Flush()
		},
	}

	var (
		expiredOnly bool
		namespace   string
	)
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear stored entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, c, err := openMaintainer(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			targets := namespaces
			if namespace != "" {
				targets = []string{namespace + ":"}
			}
			ctx := context.Background()
			for _, ns := range targets {
				if err := m.Clear(ctx, ns, expiredOnly); err != nil {
					return fmt.Errorf("clear %s: %w", ns, err)
				}
			}
			if expiredOnly {
				fmt.Println("Expired entries cleared.")
			} else {
				fmt.Println("All entries cleared.")
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")
	clearCmd.Flags().StringVar(&namespace, "namespace", "", "only clear one namespace (insight, conversation, ratelimit, breaker)")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

func openMaintainer(configPath string) (kvstore.Maintainer, io.Closer, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	store, c, err := openStore(cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	m, ok := store.(kvstore.Maintainer)
	if !ok {
		_ = c.Close()
		return nil, nil, fmt.Errorf("store driver %q does not support maintenance", cfg.Store.Driver)
	}
	return m, c, nil
}
