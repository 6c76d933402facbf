package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultEndpoint is the collector URL used when none is configured.
const DefaultEndpoint = "https://api.amplitude.com/"

// DefaultTimeout bounds one upload request.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 64 << 10

// Sender posts one upload form and returns the raw response body.
// A non-nil error means no usable response was received.
type Sender interface {
	Send(ctx context.Context, form url.Values) (string, error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, form url.Values) (string, error)

// Send calls f(ctx, form).
func (f SenderFunc) Send(ctx context.Context, form url.Values) (string, error) {
	return f(ctx, form)
}

// HTTPSender posts forms to a collector endpoint.
type HTTPSender struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSender creates a sender. An empty endpoint uses DefaultEndpoint
// and a non-positive timeout uses DefaultTimeout.
func NewHTTPSender(endpoint string, timeout time.Duration) *HTTPSender {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSender{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the collector URL.
func (s *HTTPSender) Endpoint() string {
	return s.endpoint
}

// Send implements Sender. The response status is not inspected; the
// collector reports its outcome in the body.
func (s *HTTPSender) Send(ctx context.Context, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post events: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(body), nil
}
