package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dairyledger/internal/engine"
	"github.com/roach88/dairyledger/internal/model"
)

// StatusOutput is the result of the status command.
type StatusOutput struct {
	DeviceID string               `json:"device_id"`
	Queue    engine.Status        `json:"queue"`
	Liveness engine.LivenessState `json:"liveness"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync queue counts and connection health",
		Long: `Show how many records are pending, in flight, failed and synced, and
whether the remote store answers a ping right now.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			f := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(ctx, cmd, f)
			if err != nil {
				return err
			}
			defer a.Close()

			a.Monitor.Probe(ctx)
			st, err := a.Engine.Status(ctx)
			if err != nil {
				return f.Fail("status failed", err)
			}
			out := StatusOutput{DeviceID: a.DeviceID, Queue: st, Liveness: a.Monitor.State()}
			return f.Render(out, func(w io.Writer) {
				online := "offline"
				if st.Online {
					online = "online"
				}
				fmt.Fprintf(w, "Device %s (%s)\n", out.DeviceID, online)
				fmt.Fprintf(w, "  pending:   %d\n", st.PendingCount)
				fmt.Fprintf(w, "  in flight: %d\n", st.InFlightCount)
				fmt.Fprintf(w, "  failed:    %d\n", st.FailedCount)
				fmt.Fprintf(w, "  synced:    %d\n", st.SyncedCount)
				if out.Liveness.LastError != "" {
					fmt.Fprintf(w, "  last probe error: %s\n", out.Liveness.LastError)
				}
			})
		},
	}
}

func writeCycleText(w io.Writer, rep engine.CycleReport) {
	if rep.Skipped != "" {
		fmt.Fprintf(w, "Sync skipped: %s\n", rep.Skipped)
		return
	}
	fmt.Fprintf(w, "Synced %d, retrying %d, failed %d in %d drain(s)\n",
		rep.Synced, rep.Retried, rep.Failed, rep.Drains)
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Sync pending records now",
		Long: `Run one reconciliation cycle in the foreground: recover interrupted sends,
re-enqueue orphaned entries, then drain the queue until nothing is due.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			f := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(ctx, cmd, f)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.SyncNow(ctx)
			if err != nil {
				return f.Fail("drain failed", err)
			}
			return f.Render(rep, func(w io.Writer) { writeCycleText(w, rep) })
		},
	}
}

// FailedItem is one row of the failed command.
type FailedItem struct {
	ID         string           `json:"id"`
	EntityType model.EntityType `json:"entity_type"`
	Attempts   int              `json:"attempts"`
	LastError  string           `json:"last_error"`
	LastTried  time.Time        `json:"last_attempt_at"`
}

// NewFailedCommand creates the failed command.
func NewFailedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "failed",
		Short:         "List records that exhausted their retries",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			f := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(ctx, cmd, f)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.Queue.Failed(ctx)
			if err != nil {
				return f.Fail("failed list", err)
			}
			out := make([]FailedItem, len(items))
			for i, it := range items {
				out[i] = FailedItem{
					ID:         it.ID,
					EntityType: it.EntityType,
					Attempts:   it.RetryCount,
					LastError:  it.LastError,
					LastTried:  it.LastAttemptAt,
				}
			}
			return f.Render(out, func(w io.Writer) {
				if len(out) == 0 {
					fmt.Fprintln(w, "No failed records")
					return
				}
				for _, it := range out {
					fmt.Fprintf(w, "%s (%s) after %d attempt(s): %s\n", it.ID, it.EntityType, it.Attempts, it.LastError)
				}
			})
		},
	}
}

// RetryOptions holds flags for the retry command.
type RetryOptions struct {
	*RootOptions
	All bool
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RetryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "retry [item-id...]",
		Short: "Return failed records to the queue",
		Long: `Move failed records back to pending with a fresh retry budget. The next
drain sends them again.

Examples:
  dairyledger retry led_0192
  dairyledger retry --all`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetry(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "retry every failed record")

	return cmd
}

func runRetry(opts *RetryOptions, ids []string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := opts.formatter(cmd)

	if opts.All == (len(ids) > 0) {
		_ = f.Error(ErrCodeValidation, "pass item ids or --all, not both", nil)
		return NewExitError(ExitCommandError, "pass item ids or --all")
	}

	a, err := opts.openApp(ctx, cmd, f)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.All {
		ids = nil
	}
	ids, err = a.RetryFailed(ctx, ids)
	if err != nil {
		return f.Fail("retry failed", err)
	}
	if ids == nil {
		ids = []string{}
	}

	out := map[string]any{"requeued": ids}
	return f.Render(out, func(w io.Writer) {
		fmt.Fprintf(w, "Requeued %d record(s)\n", len(ids))
	})
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep the device syncing until interrupted",
		Long: `Run the sync loop in the foreground. The remote store is probed on the
liveness interval and the queue is drained on the sync interval, when the
connection comes back, and whenever a high-priority record is committed.

On Unix, SIGUSR1 requests a sync immediately and SIGUSR2 toggles the
device's reported network state between online and offline.

Example:
  dairyledger run --config ./dairy.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(rootOpts, cmd)
		},
	}
}

func runLoop(opts *RootOptions, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	f := opts.formatter(cmd)
	a, err := opts.openApp(ctx, cmd, f)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.Logger.Error("error closing device", "error", closeErr)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, append([]os.Signal{os.Interrupt, syscall.SIGTERM}, controlSignals...)...)
	defer signal.Stop(sigChan)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				if handleControlSignal(a, sig) {
					continue
				}
				a.Logger.Info("received signal, shutting down", "signal", sig)
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	a.Logger.Info("sync loop starting",
		"db", a.Config.Database.Path,
		"remote", a.Config.Remote.Kind,
		"interval", a.Config.Sync.Interval)
	fmt.Fprintln(cmd.OutOrStdout(), "Sync loop started. Press Ctrl-C to stop.")

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "sync loop error", err)
	}

	a.Logger.Info("sync loop stopped")
	return nil
}
