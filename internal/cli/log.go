package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/beacon/internal/config"
	"github.com/roach88/beacon/internal/store"
	"github.com/roach88/beacon/internal/tracker"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Props   string
	UserID  string
	Timeout time.Duration
}

// LogResult is the log command's output.
type LogResult struct {
	EventType string `json:"event_type"`
	DeviceID  string `json:"device_id"`
	Pending   int    `json:"pending"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log <event-type>",
		Short: "Log one event and upload everything pending",
		Long: `Log an event through a tracker, then upload every pending event and wait
for the result.

The event is stored before any network call, so it is kept for a later
upload if the collector cannot be reached.

Example:
  beacon log app_open
  beacon log purchase --props '{"sku":"A1","price":9.99}' --user u-42`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Props, "props", "", "event properties as a JSON object")
	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id to set before logging")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "how long to wait for the upload")

	return cmd
}

func runLog(cmd *cobra.Command, opts *LogOptions, eventType string) error {
	formatter := formatterFor(opts.RootOptions, cmd)

	props, err := parseProps(opts.Props)
	if err != nil {
		_ = formatter.Error(ErrCodeInput, err.Error())
		return WrapExitError(ExitCommandError, "invalid --props", err)
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error())
		return err
	}

	var result LogResult
	err = withTracker(cmd.Context(), cfg, opts.Timeout, func(ctx context.Context, t *tracker.Tracker, st *store.Store) error {
		if opts.UserID != "" {
			t.SetUserID(opts.UserID)
		}
		t.LogEvent(eventType, props)
		t.Flush(true)
		if err := t.Wait(ctx); err != nil {
			return err
		}

		pending, err := st.Count(ctx)
		if err != nil {
			return err
		}
		result = LogResult{EventType: eventType, DeviceID: t.DeviceID(), Pending: pending}
		return nil
	})
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error())
		return err
	}

	if err := formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Logged %q (device %s)\n", result.EventType, result.DeviceID)
		if result.Pending > 0 {
			fmt.Fprintf(w, "%d event(s) still pending upload\n", result.Pending)
		}
	}); err != nil {
		return err
	}

	if result.Pending > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d event(s) not uploaded", result.Pending))
	}
	return nil
}

// parseProps decodes a JSON object. An empty string means no properties.
func parseProps(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var props map[string]any
	if err := dec.Decode(&props); err != nil {
		return nil, fmt.Errorf("props must be a JSON object: %w", err)
	}
	if props == nil {
		return nil, fmt.Errorf("props must be a JSON object")
	}
	return props, nil
}

// withTracker opens the store, runs a tracker around fn and shuts both
// down. fn gets a context bounded by timeout.
func withTracker(parent context.Context, cfg config.Config, timeout time.Duration, fn func(ctx context.Context, t *tracker.Tracker, st *store.Store) error) error {
	if parent == nil {
		parent = context.Background()
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	t, err := tracker.New(cfg, tracker.WithStore(st))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start tracker", err)
	}

	runCtx, cancel := context.WithCancel(parent)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- t.Run(runCtx) }()

	ctx, cancelWait := context.WithTimeout(parent, timeout)
	fnErr := fn(ctx, t, st)
	cancelWait()

	if err := t.Close(); err != nil {
		slog.Error("error closing tracker", "error", err)
	}
	<-done

	if fnErr != nil {
		return WrapExitError(ExitFailure, "tracker did not finish", fnErr)
	}
	return nil
}
