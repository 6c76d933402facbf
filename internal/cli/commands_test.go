package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/beacon/internal/collector"
	"github.com/roach88/beacon/internal/upload"
)

// collectorEnv points BEACON_* at a fresh in-memory collector and returns
// it with a temp database path.
func collectorEnv(t *testing.T) (*collector.Collector, string) {
	t.Helper()
	c := collector.New(nil, "cli-key")
	srv := httptest.NewServer(c.Handler())
	t.Cleanup(srv.Close)

	t.Setenv("BEACON_API_KEY", "cli-key")
	t.Setenv("BEACON_ENDPOINT", srv.URL+"/")
	return c, filepath.Join(t.TempDir(), "beacon.db")
}

func decodeResponse(t *testing.T, buf *bytes.Buffer, data any) CLIResponse {
	t.Helper()
	resp := CLIResponse{Data: data}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp), "output: %s", buf.String())
	return resp
}

func TestLog_UploadsEvent(t *testing.T) {
	c, dbPath := collectorEnv(t)

	buf := &bytes.Buffer{}
	cmd := NewLogCommand(&RootOptions{Format: "json", Database: dbPath})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"purchase", "--props", `{"sku":"A1","qty":2}`, "--user", "u-42"})

	require.NoError(t, cmd.Execute())

	var result LogResult
	resp := decodeResponse(t, buf, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "purchase", result.EventType)
	assert.Equal(t, 0, result.Pending)
	assert.NotEmpty(t, result.DeviceID)

	var purchase map[string]any
	for _, ev := range c.Events() {
		if ev["event_type"] == "purchase" {
			purchase = ev
		}
	}
	require.NotNil(t, purchase, "collector received the event")
	assert.Equal(t, "u-42", purchase["user_id"])
	assert.Equal(t, result.DeviceID, purchase["device_id"])
	assert.Equal(t, map[string]any{"sku": "A1", "qty": json.Number("2")}, purchase["event_properties"])
}

func TestLog_InvalidProps(t *testing.T) {
	_, dbPath := collectorEnv(t)

	buf := &bytes.Buffer{}
	cmd := NewLogCommand(&RootOptions{Format: "json", Database: dbPath})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"purchase", "--props", `[1,2]`})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	resp := decodeResponse(t, buf, nil)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeInput, resp.Error.Code)
}

func TestLog_MissingAPIKey(t *testing.T) {
	t.Setenv("BEACON_API_KEY", "")

	buf := &bytes.Buffer{}
	cmd := NewLogCommand(&RootOptions{Format: "text", Database: filepath.Join(t.TempDir(), "b.db")})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"open"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [E_CONFIG]")
}

func TestLogFailureThenStatusThenFlush(t *testing.T) {
	c, dbPath := collectorEnv(t)
	c.FailNext(upload.OutcomeDBWriteFailed)

	// log: the upload is rejected, so both events stay pending.
	buf := &bytes.Buffer{}
	logCmd := NewLogCommand(&RootOptions{Format: "json", Database: dbPath})
	logCmd.SetOut(buf)
	logCmd.SetErr(buf)
	logCmd.SetArgs([]string{"offline_event", "--user", "u-1"})

	err := logCmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	var logged LogResult
	decodeResponse(t, buf, &logged)
	assert.Equal(t, 2, logged.Pending, "start_session and the event")

	// status reports the backlog and the stored identity.
	buf.Reset()
	statusCmd := NewStatusCommand(&RootOptions{Format: "json", Database: dbPath})
	statusCmd.SetOut(buf)
	statusCmd.SetErr(buf)
	statusCmd.SetArgs(nil)
	require.NoError(t, statusCmd.Execute())

	var status StatusResult
	decodeResponse(t, buf, &status)
	assert.Equal(t, 2, status.Pending)
	assert.Equal(t, int64(1), status.OldestID)
	assert.Equal(t, int64(2), status.NewestID)
	assert.Equal(t, logged.DeviceID, status.DeviceID)
	assert.Equal(t, "u-1", status.UserID)
	assert.Positive(t, status.PreviousSessionID)
	assert.Positive(t, status.LastEventTime)

	// flush delivers the backlog.
	buf.Reset()
	flushCmd := NewFlushCommand(&RootOptions{Format: "json", Database: dbPath})
	flushCmd.SetOut(buf)
	flushCmd.SetErr(buf)
	flushCmd.SetArgs(nil)
	require.NoError(t, flushCmd.Execute())

	var flushed FlushResult
	decodeResponse(t, buf, &flushed)
	assert.Equal(t, 2, flushed.Before)
	assert.Equal(t, 0, flushed.Pending)
	assert.Len(t, c.Events(), 2)
}

func TestFlush_ReportsFailure(t *testing.T) {
	c, dbPath := collectorEnv(t)
	c.FailNext(upload.OutcomeBadChecksum)
	c.FailNext(upload.OutcomeBadChecksum)

	logCmd := NewLogCommand(&RootOptions{Format: "json", Database: dbPath})
	logCmd.SetOut(&bytes.Buffer{})
	logCmd.SetArgs([]string{"e"})
	require.Error(t, logCmd.Execute())

	buf := &bytes.Buffer{}
	flushCmd := NewFlushCommand(&RootOptions{Format: "text", Database: dbPath})
	flushCmd.SetOut(buf)
	flushCmd.SetArgs(nil)

	err := flushCmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "Uploaded 0 of 2 event(s)")
	assert.Contains(t, buf.String(), "bad checksum")
}

func TestStatus_EmptyDatabaseText(t *testing.T) {
	t.Setenv("BEACON_API_KEY", "")

	buf := &bytes.Buffer{}
	cmd := NewStatusCommand(&RootOptions{Format: "text", Database: filepath.Join(t.TempDir(), "empty.db")})
	cmd.SetOut(buf)
	cmd.SetArgs(nil)

	require.NoError(t, cmd.Execute(), "status works without an API key")
	assert.Contains(t, buf.String(), "Pending:    0")
	assert.Contains(t, buf.String(), "Device id:  (none)")
	assert.NotContains(t, buf.String(), "Id range")
}

func TestCollectorCommand_ServesUploads(t *testing.T) {
	ready := make(chan string, 1)
	opts := &CollectorOptions{
		RootOptions: &RootOptions{Format: "text"},
		Addr:        "127.0.0.1:0",
		APIKeys:     []string{"k"},
		Ready:       ready,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := NewCollectorCommand(opts.RootOptions)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetContext(ctx)

	done := make(chan error, 1)
	go func() { done <- runCollector(cmd, opts) }()

	var addr string
	select {
	case addr = <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not start")
	}

	sender := upload.NewHTTPSender("http://"+addr+"/", time.Second)
	body, err := sender.Send(ctx, upload.Form("k", `[{"event_id":1,"event_type":"x"}]`, 1))
	require.NoError(t, err)
	assert.Equal(t, upload.OutcomeSuccess, upload.ParseResponse(body))

	body, err = sender.Send(ctx, upload.Form("wrong", `[]`, 1))
	require.NoError(t, err)
	assert.Equal(t, upload.OutcomeInvalidAPIKey, upload.ParseResponse(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("collector did not stop")
	}
}

func TestParseProps(t *testing.T) {
	props, err := parseProps("")
	require.NoError(t, err)
	assert.Nil(t, props)

	props, err = parseProps(`{"n":1.25,"s":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, json.Number("1.25"), props["n"])

	_, err = parseProps("null")
	assert.Error(t, err)
	_, err = parseProps("{")
	assert.Error(t, err)
}
