package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/beacon/internal/config"
	"github.com/roach88/beacon/internal/settings"
	"github.com/roach88/beacon/internal/store"
)

// StatusResult is the status command's output.
type StatusResult struct {
	Database          string `json:"database"`
	Pending           int    `json:"pending"`
	OldestID          int64  `json:"oldest_id"`
	NewestID          int64  `json:"newest_id"`
	DeviceID          string `json:"device_id,omitempty"`
	UserID            string `json:"user_id,omitempty"`
	LastEventTime     int64  `json:"last_event_time,omitempty"`
	PreviousSessionID int64  `json:"previous_session_id,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pending events and stored identity",
		Long: `Show how many events are waiting for upload, the range of their ids and
the identity and session values kept in the settings table.

Does not need an API key and makes no network calls.

Example:
  beacon status --db ./beacon.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, rootOpts)
		},
	}
	return cmd
}

func runStatus(cmd *cobra.Command, opts *RootOptions) error {
	formatter := formatterFor(opts, cmd)

	cfg, err := config.Layer(opts.Config)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error())
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
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

	result, err := readStatus(cmd.Context(), cfg.DBPath, st)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error())
		return WrapExitError(ExitCommandError, "failed to read status", err)
	}

	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Database:   %s\n", result.Database)
		fmt.Fprintf(w, "Pending:    %d\n", result.Pending)
		if result.Pending > 0 {
			fmt.Fprintf(w, "Id range:   %d..%d\n", result.OldestID, result.NewestID)
		}
		fmt.Fprintf(w, "Device id:  %s\n", orNone(result.DeviceID))
		fmt.Fprintf(w, "User id:    %s\n", orNone(result.UserID))
		if result.PreviousSessionID > 0 {
			fmt.Fprintf(w, "Session id: %d\n", result.PreviousSessionID)
		}
	})
}

func readStatus(ctx context.Context, dbPath string, st *store.Store) (StatusResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := StatusResult{Database: dbPath}

	var err error
	if result.Pending, err = st.Count(ctx); err != nil {
		return result, err
	}
	if result.OldestID, result.NewestID, err = st.Bounds(ctx); err != nil {
		return result, err
	}

	kv := st.Settings()
	if result.DeviceID, _, err = settings.Get[string](kv, settings.KeyDeviceID); err != nil {
		return result, err
	}
	if result.UserID, _, err = settings.Get[string](kv, settings.KeyUserID); err != nil {
		return result, err
	}
	if result.LastEventTime, _, err = settings.Get[int64](kv, settings.KeyLastEventTime); err != nil {
		return result, err
	}
	if result.PreviousSessionID, _, err = settings.Get[int64](kv, settings.KeyPreviousSessionID); err != nil {
		return result, err
	}
	return result, nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
