package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eyecheck/gateway/pkg/breaker"
	"github.com/eyecheck/gateway/pkg/gateway"
)

func newBreakerCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breaker",
		Short: "Inspect or reset the upstream circuit breaker",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show breaker state",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, done, err := openBreaker(*configPath)
			if err != nil {
				return err
			}
			defer done()

			st := b.Status(context.Background())
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BREAKER\tSTATE\tFAILURES\tOPEN UNTIL")
			until := "-"
			if !st.OpenUntil.IsZero() {
				until = fmt.Sprintf("%s (%s)", st.OpenUntil.Local().Format(time.DateTime), humanize.Time(st.OpenUntil))
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", st.Name, st.State, st.Failures, until)
			return w.Flush()
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Close the breaker and clear its failure count",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, done, err := openBreaker(*configPath)
			if err != nil {
				return err
			}
			defer done()

			b.Reset(context.Background())
			fmt.Printf("Breaker %s reset.\n", b.Name())
			return nil
		},
	}

	cmd.AddCommand(statusCmd, resetCmd)
	return cmd
}

func openBreaker(configPath string) (*breaker.Breaker, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	store, c, err := openStore(cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	log := newLogger(cfg.Log)
	b := breaker.New(store, gateway.BreakerConfig(cfg.Breaker), log, nil)
	return b, func() { _ = c.Close() }, nil
}
