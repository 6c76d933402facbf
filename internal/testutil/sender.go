package testutil

import (
	"context"
	"net/url"
	"sync"
)

// Response is one scripted reply of a ScriptedSender.
type Response struct {
	Body string
	Err  error
}

// ScriptedSender records every form it is given and answers from a script.
// Once the script runs out it answers Default.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ScriptedSender struct {
	mu      sync.Mutex
	script  []Response
	forms   []url.Values
	Default Response
}

// NewScriptedSender creates a sender that answers "success" after the
// scripted responses are used up.
func NewScriptedSender(script ...Response) *ScriptedSender {
	return &ScriptedSender{
		script:  script,
		Default: Response{Body: "success"},
	}
}

// Send records form and returns the next scripted response.
func (s *ScriptedSender) Send(_ context.Context, form url.Values) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forms = append(s.forms, cloneForm(form))
	if len(s.script) == 0 {
		return s.Default.Body, s.Default.Err
	}
	r := s.script[0]
	s.script = s.script[1:]
	return r.Body, r.Err
}

// Calls returns the number of Send calls so far.
func (s *ScriptedSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.forms)
}

// Forms returns copies of every form sent, in call order.
func (s *ScriptedSender) Forms() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]url.Values, len(s.forms))
	for i, f := range s.forms {
		out[i] = cloneForm(f)
	}
	return out
}

// GatedSender blocks every Send until Release is called, so tests can hold
// an upload in flight.
type GatedSender struct {
	entered chan url.Values
	gate    chan struct{}
	once    sync.Once
	body    string
}

// NewGatedSender creates a sender that answers body once released.
func NewGatedSender(body string) *GatedSender {
	return &GatedSender{
		entered: make(chan url.Values, 16),
		gate:    make(chan struct{}),
		body:    body,
	}
}

// Send reports the call on Entered and waits for Release or ctx.
func (g *GatedSender) Send(ctx context.Context, form url.Values) (string, error) {
	select {
	case g.entered <- cloneForm(form):
	default:
	}
	select {
	case <-g.gate:
		return g.body, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Entered receives the form of each call as it starts.
func (g *GatedSender) Entered() <-chan url.Values {
	return g.entered
}

// Release unblocks every pending and future Send.
func (g *GatedSender) Release() {
	g.once.Do(func() { close(g.gate) })
}

func cloneForm(form url.Values) url.Values {
	out := make(url.Values, len(form))
	for k, v := range form {
		out[k] = append([]string(nil), v...)
	}
	return out
}
