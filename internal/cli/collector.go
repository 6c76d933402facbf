package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/beacon/internal/collector"
)

// CollectorOptions holds flags for the collector command.
type CollectorOptions struct {
	*RootOptions
	Addr    string
	APIKeys []string

	// Ready, if set, receives the bound address once the server listens.
	Ready chan<- string
}

// NewCollectorCommand creates the collector command.
func NewCollectorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CollectorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "collector",
		Short: "Run an in-memory collector for local testing",
		Long: `Run a collector that accepts uploads, checks their API key and checksum,
and keeps the received events in memory.

Received events are listed at GET /admin/events. POST
/admin/fail?outcome=<token> makes the next upload fail with that token.

Example:
  beacon collector --addr 127.0.0.1:8080 --api-key dev-key
  BEACON_ENDPOINT=http://127.0.0.1:8080/ BEACON_API_KEY=dev-key beacon log app_open`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollector(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringSliceVar(&opts.APIKeys, "api-key", nil, "accepted API key (repeatable; none accepts any key)")

	return cmd
}

func runCollector(cmd *cobra.Command, opts *CollectorOptions) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	c := collector.New(slog.Default(), opts.APIKeys...)
	srv := &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("collector listening", "addr", ln.Addr().String(), "keys", len(opts.APIKeys))
	fmt.Fprintf(cmd.OutOrStdout(), "Collector listening on http://%s/\n", ln.Addr().String())
	if opts.Ready != nil {
		opts.Ready <- ln.Addr().String()
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "collector stopped", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "collector shutdown", err)
	}
	slog.Info("collector stopped", "received", len(c.Events()))
	return nil
}
