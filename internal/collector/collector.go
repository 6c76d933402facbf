// Package collector is an in-memory stand-in for the event collector.
//
// It speaks the same form-encoded upload protocol as the real endpoint:
// it checks the API key and checksum, stores the decoded events and
// answers with a plain-text outcome token. Admin routes expose what was
// received and let tests inject failure responses.
package collector

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/beacon/internal/upload"
)

// Collector receives uploads and keeps them in memory.
type Collector struct {
	mu       sync.Mutex
	keys     map[string]bool
	events   []map[string]any
	faults   []upload.Outcome
	requests int
	logger   *slog.Logger
}

// New creates a collector that accepts the given API keys. With no keys
// every non-empty key is accepted.
func New(logger *slog.Logger, apiKeys ...string) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	keys := make(map[string]bool, len(apiKeys))
	for _, k := range apiKeys {
		keys[k] = true
	}
	return &Collector{
		keys:   keys,
		events: []map[string]any{},
		logger: logger.With("component", "collector"),
	}
}

// Handler returns the collector's routes.
func (c *Collector) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	c.Routes(r)
	return r
}

// Routes mounts the upload endpoint and the admin extras on r.
func (c *Collector) Routes(r chi.Router) {
	r.Post("/", c.Ingest)

	r.Get("/admin/events", c.AdminListEvents)
	r.Delete("/admin/events", c.AdminReset)
	r.Post("/admin/fail", c.AdminFailNext)
}

// FailNext makes the next upload answer outcome regardless of its
// content. Calls queue up in order.
func (c *Collector) FailNext(outcome upload.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = append(c.faults, outcome)
}

// Events returns a copy of every stored event in arrival order.
func (c *Collector) Events() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.events...)
}

// Requests returns the number of upload requests received.
func (c *Collector) Requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

// Reset forgets stored events, request counts and pending faults.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = []map[string]any{}
	c.faults = nil
	c.requests = 0
}

// Ingest handles POST / with an upload form.
func (c *Collector) Ingest(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.requests++
	var fault upload.Outcome
	if len(c.faults) > 0 {
		fault = c.faults[0]
		c.faults = c.faults[1:]
	}
	c.mu.Unlock()

	if fault != "" {
		c.logger.Debug("injected failure", "outcome", string(fault))
		reply(w, http.StatusOK, string(fault))
		return
	}

	if err := r.ParseForm(); err != nil {
		reply(w, http.StatusBadRequest, "bad_request")
		return
	}

	version := r.PostForm.Get(upload.FieldVersion)
	apiKey := r.PostForm.Get(upload.FieldClient)
	events := r.PostForm.Get(upload.FieldEvents)
	uploadTime := r.PostForm.Get(upload.FieldUploadTime)
	checksum := r.PostForm.Get(upload.FieldChecksum)

	if !c.acceptsKey(apiKey) {
		reply(w, http.StatusOK, string(upload.OutcomeInvalidAPIKey))
		return
	}
	if version != strconv.Itoa(upload.ProtocolVersion) {
		reply(w, http.StatusBadRequest, "unsupported_version")
		return
	}
	if upload.Checksum(version, apiKey, events, uploadTime) != checksum {
		reply(w, http.StatusOK, string(upload.OutcomeBadChecksum))
		return
	}

	docs, err := decodeEvents(events)
	if err != nil {
		reply(w, http.StatusBadRequest, "invalid_event_json")
		return
	}

	c.mu.Lock()
	c.events = append(c.events, docs...)
	total := len(c.events)
	c.mu.Unlock()

	c.logger.Debug("events received", "count", len(docs), "total", total)
	reply(w, http.StatusOK, string(upload.OutcomeSuccess))
}

// AdminListEvents handles GET /admin/events.
// Supports ?event_type={name} and ?device_id={id} query parameters.
func (c *Collector) AdminListEvents(w http.ResponseWriter, r *http.Request) {
	typeFilter := r.URL.Query().Get("event_type")
	deviceFilter := r.URL.Query().Get("device_id")

	events := c.Events()
	if typeFilter != "" || deviceFilter != "" {
		filtered := []map[string]any{}
		for _, evt := range events {
			if typeFilter != "" && evt["event_type"] != typeFilter {
				continue
			}
			if deviceFilter != "" && evt["device_id"] != deviceFilter {
				continue
			}
			filtered = append(filtered, evt)
		}
		events = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  len(events),
	})
}

// AdminReset handles DELETE /admin/events.
func (c *Collector) AdminReset(w http.ResponseWriter, r *http.Request) {
	c.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// AdminFailNext handles POST /admin/fail?outcome={token}.
func (c *Collector) AdminFailNext(w http.ResponseWriter, r *http.Request) {
	outcome := r.URL.Query().Get("outcome")
	if outcome == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "outcome is required"})
		return
	}
	c.FailNext(upload.Outcome(outcome))
	w.WriteHeader(http.StatusNoContent)
}

func (c *Collector) acceptsKey(key string) bool {
	if key == "" {
		return false
	}
	if len(c.keys) == 0 {
		return true
	}
	return c.keys[key]
}

func decodeEvents(events string) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(events)))
	dec.UseNumber()
	var docs []map[string]any
	if err := dec.Decode(&docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func reply(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
