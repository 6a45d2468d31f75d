package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/spf13/cobra"

	"github.com/roach88/dairyledger/internal/remote"
)

// StubRemoteOptions holds flags for the stub-remote command.
type StubRemoteOptions struct {
	*RootOptions
	Addr string

	// Listener overrides Addr (for testing).
	Listener net.Listener
}

// NewStubRemoteCommand creates the stub-remote command.
func NewStubRemoteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StubRemoteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stub-remote",
		Short: "Serve an in-memory remote store over HTTP",
		Long: `Serve the HTTP remote contract from memory, for trying the sync loop
without a real backend. Records are lost when the process stops.

Example:
  dairyledger stub-remote --addr :8088
  DAIRY_REMOTE_KIND=http DAIRY_REMOTE_HTTP_BASE_URL=http://localhost:8088 dairyledger run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStubRemote(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8088", "listen address")

	return cmd
}

func runStubRemote(opts *StubRemoteOptions, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	cfg, err := opts.loadConfig()
	if err != nil {
		_ = opts.formatter(cmd).Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := cfg.Log.NewLogger(cmd.ErrOrStderr(), opts.Verbose)

	ln := opts.Listener
	if ln == nil {
		ln, err = net.Listen("tcp", opts.Addr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to listen", err)
		}
	}

	srv := &http.Server{
		Handler:           handlers.LoggingHandler(cmd.ErrOrStderr(), remote.NewServer(remote.NewMemory(), logger)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
		case <-ctx.Done():
		}
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("stub remote listening", "addr", ln.Addr().String())
	fmt.Fprintf(cmd.OutOrStdout(), "Stub remote listening on %s\n", ln.Addr())

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "stub remote error", err)
	}
	return nil
}
