package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eyecheck/gateway/pkg/telemetry"
)

func newUsageCmd(configPath *string) *cobra.Command {
	var (
		userID string
		since  time.Duration
		detail bool
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show upstream usage and estimated cost",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			tr, err := telemetry.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx := context.Background()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

			if detail {
				if userID == "" {
					return fmt.Errorf("--detail requires --user")
				}
				recs, err := tr.QueryByUser(ctx, userID, time.Now().Add(-since))
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Println("No usage recorded.")
					return nil
				}
				fmt.Fprintln(w, "TIME\tENDPOINT\tMODEL\tSTATUS\tIN\tOUT\tLATENCY\tCOST")
				for _, r := range recs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%dms\t$%.4f\n",
						humanize.Time(r.CreatedAt), r.Endpoint, r.Model, r.Status,
						humanize.Comma(int64(r.TokensIn)), humanize.Comma(int64(r.TokensOut)), r.LatencyMs, r.CostUSD)
				}
				return w.Flush()
			}

			summaries, err := tr.Summary(ctx, userID)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage recorded.")
				return nil
			}
			fmt.Fprintln(w, "USER\tENDPOINT\tMODEL\tREQUESTS\tTOKENS IN\tTOKENS OUT\tCOST")
			for _, s := range summaries {
				user := s.UserID
				if user == "" {
					user = "(anonymous)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t$%.4f\n",
					user, s.Endpoint, s.Model, humanize.Comma(int64(s.RequestCount)),
					humanize.Comma(s.TokensIn), humanize.Comma(s.TokensOut), s.CostUSD)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "filter by user id")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back --detail looks")
	cmd.Flags().BoolVar(&detail, "detail", false, "list individual requests for --user")
	return cmd
}
