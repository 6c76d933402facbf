// Package settings defines the key/value capability the tracker uses to
// persist its small amount of durable state across process restarts.
package settings

import (
	"fmt"
	"strconv"
	"sync"
)

// Keys persisted by the tracker.
const (
	KeyDeviceID          = "deviceId"
	KeyUserID            = "userId"
	KeyLastEventTime     = "lastEventTime"
	KeyPreviousSessionID = "previousSessionId"
)

// Store is an atomic string key/value store. Implementations must make each
// Save durable before returning; they need not be safe for concurrent use,
// since the tracker only touches settings from its log dispatcher.
type Store interface {
	Load(key string) (value string, ok bool, err error)
	Save(key, value string) error
}

// Value is the set of types settings can hold.
type Value interface {
	string | int64
}

// Get loads key and decodes it as T. ok is false when the key is absent.
func Get[T Value](s Store, key string) (value T, ok bool, err error) {
	var zero T
	raw, ok, err := s.Load(key)
	if err != nil || !ok {
		return zero, false, err
	}

	switch any(zero).(type) {
	case string:
		return any(raw).(T), true, nil
	case int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return zero, false, fmt.Errorf("setting %q: %w", key, err)
		}
		return any(n).(T), true, nil
	}
	return zero, false, fmt.Errorf("setting %q: unsupported type %T", key, zero)
}

// Set encodes value and saves it under key.
func Set[T Value](s Store, key string, value T) error {
	var raw string
	switch v := any(value).(type) {
	case string:
		raw = v
	case int64:
		raw = strconv.FormatInt(v, 10)
	}
	return s.Save(key, raw)
}

// Memory is an in-process Store. Nothing survives a restart; it is meant
// for tests and for hosts that opt out of persistence.
type Memory struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Load implements Store.
func (m *Memory) Load(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Save implements Store.
func (m *Memory) Save(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
