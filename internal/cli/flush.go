package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/beacon/internal/dispatch"
	"github.com/roach88/beacon/internal/store"
	"github.com/roach88/beacon/internal/upload"
)

// FlushOptions holds flags for the flush command.
type FlushOptions struct {
	*RootOptions
	Timeout time.Duration
}

// FlushResult is the flush command's output.
type FlushResult struct {
	Before  int    `json:"before"`
	Pending int    `json:"pending"`
	Error   string `json:"error,omitempty"`
}

// NewFlushCommand creates the flush command.
func NewFlushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FlushOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Upload every pending event",
		Long: `Upload every event waiting in the local database in a single batch.

No session events are logged. Exits with status 1 if anything is left
pending.

Example:
  beacon flush --db ./beacon.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlush(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "how long to wait for the upload")

	return cmd
}

func runFlush(cmd *cobra.Command, opts *FlushOptions) error {
	formatter := formatterFor(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error())
		return err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error())
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, opts.Timeout)
	defer cancel()

	before, err := st.Count(ctx)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error())
		return WrapExitError(ExitCommandError, "failed to count events", err)
	}

	var mu sync.Mutex
	var lastFailure error

	logQ := dispatch.New("log", slog.Default())
	httpQ := dispatch.New("http", slog.Default())
	pipeline := upload.New(upload.Config{
		APIKey:    cfg.APIKey,
		Threshold: cfg.UploadThreshold,
		MaxBatch:  cfg.MaxBatch,
	}, st, upload.NewHTTPSender(cfg.Endpoint, cfg.HTTPTimeout), logQ, httpQ,
		upload.WithLogger(slog.Default()),
		upload.WithFailureHandler(func(err error) {
			mu.Lock()
			defer mu.Unlock()
			lastFailure = err
		}),
	)
	defer pipeline.Close()

	runCtx, stop := context.WithCancel(parent)
	defer stop()
	go func() { _ = logQ.Run(runCtx) }()
	go func() { _ = httpQ.Run(runCtx) }()

	logQ.Submit(func(ctx context.Context) { pipeline.ScheduleFlush(ctx, true) })
	if err := dispatch.WaitIdle(ctx, logQ, httpQ); err != nil {
		_ = formatter.Error(ErrCodePending, err.Error())
		return WrapExitError(ExitFailure, "flush did not finish", err)
	}

	pending, err := st.Count(ctx)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error())
		return WrapExitError(ExitCommandError, "failed to count events", err)
	}

	result := FlushResult{Before: before, Pending: pending}
	mu.Lock()
	if lastFailure != nil {
		result.Error = lastFailure.Error()
	}
	mu.Unlock()

	if err := formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Uploaded %d of %d event(s)\n", before-pending, before)
		if result.Error != "" {
			fmt.Fprintf(w, "Last failure: %s\n", result.Error)
		}
	}); err != nil {
		return err
	}

	if pending > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d event(s) not uploaded", pending))
	}
	return nil
}
