package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abathur/swarm/internal/cli/render"
	"github.com/abathur/swarm/internal/repo/sqlite"
	"github.com/abathur/swarm/internal/tui"
)

var (
	watchPollInterval time.Duration
	watchPlain        bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the event log",
	Long: `Opens an interactive viewer over the event store, polling for new
events as they land, since swarmctl runs as a separate process from
swarmd and so cannot subscribe to its in-memory event bus directly.

With --plain, prints events line by line instead (suitable for piping).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}

		events := sqlite.NewEventStore(db)
		ctx := cmd.Context()

		if !watchPlain {
			return tui.RunWatch(ctx, events)
		}

		w := cmd.OutOrStdout()
		last, err := events.LatestSequence(ctx)
		if err != nil {
			return err
		}

		ticker := time.NewTicker(watchPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				batch, err := events.From(ctx, last, 100)
				if err != nil {
					return err
				}
				for _, e := range batch {
					fmt.Fprintf(w, "[%s] %-10s %-30s %s\n",
						e.Timestamp.Format(time.RFC3339), render.Severity(e.Severity), e.Category, e.PayloadKind)
					last = e.Sequence
				}
			}
		}
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchPollInterval, "interval", 2*time.Second, "poll interval for --plain mode")
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "print events line by line instead of the interactive viewer")
}
