package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dairyledger/internal/model"
)

// TrailOptions holds flags for the trail command.
type TrailOptions struct {
	*RootOptions
	EntityType string
	Limit      int
}

// NewTrailCommand creates the trail command.
func NewTrailCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TrailOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trail [entity-id]",
		Short: "Show audit events, newest first",
		Long: `Show the audit trail of one entity, or the most recent events across every
entity when no id is given.

Examples:
  dairyledger trail led_0192
  dairyledger trail --limit 50`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrail(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.EntityType, "entity-type", string(model.EntityLedgerEntry), "entity type of the id")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum events (0 for all)")

	return cmd
}

func runTrail(opts *TrailOptions, args []string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := opts.formatter(cmd)

	a, err := opts.openApp(ctx, cmd, f)
	if err != nil {
		return err
	}
	defer a.Close()

	var events []model.AuditEvent
	if len(args) == 1 {
		events, err = a.Audit.Trail(ctx, model.EntityType(opts.EntityType), args[0], opts.Limit)
	} else {
		events, err = a.Audit.Recent(ctx, opts.Limit)
	}
	if err != nil {
		return f.Fail("trail failed", err)
	}
	if events == nil {
		events = []model.AuditEvent{}
	}

	return f.Render(events, func(w io.Writer) {
		if len(events) == 0 {
			fmt.Fprintln(w, "No audit events")
			return
		}
		for _, ev := range events {
			fmt.Fprintf(w, "%s  %-12s %s %s/%s by %s\n",
				ev.Timestamp.Local().Format(time.DateTime), ev.Action, ev.AuditID,
				ev.EntityType, ev.EntityID, ev.OperatorID)
			if opts.Verbose && ev.After != "" {
				fmt.Fprintf(w, "    after: %s\n", ev.After)
			}
		}
	})
}
