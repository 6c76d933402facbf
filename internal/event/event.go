// Package event builds the JSON document stored for each logged event.
//
// The document layout is the collector's: one flat object with the event
// type, three property maps, identity fields, the session id and the device
// fields, plus a library descriptor. The upload pipeline later adds the
// local event_id to each document.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/beacon/internal/device"
)

// Library identifies this client in every event.
const (
	LibraryName    = "beacon-go"
	LibraryVersion = "0.1.0"
)

// API property keys.
const (
	// SpecialKey marks session boundary events.
	SpecialKey = "special"
	// AdvertiserIDKey carries the device advertiser id when one is known.
	AdvertiserIDKey = "wp_adid"
)

// Library is the library descriptor embedded in each event.
type Library struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Event is the stored document. Nil property maps encode as null.
type Event struct {
	EventType       string         `json:"event_type"`
	EventProperties map[string]any `json:"event_properties"`
	APIProperties   map[string]any `json:"api_properties"`
	UserProperties  map[string]any `json:"user_properties"`
	Timestamp       int64          `json:"timestamp"`
	UserID          string         `json:"user_id,omitempty"`
	DeviceID        string         `json:"device_id"`
	SessionID       int64          `json:"session_id"`

	Platform           string `json:"platform,omitempty"`
	VersionName        string `json:"version_name,omitempty"`
	OSName             string `json:"os_name,omitempty"`
	OSVersion          string `json:"os_version,omitempty"`
	DeviceManufacturer string `json:"device_manufacturer,omitempty"`
	DeviceModel        string `json:"device_model,omitempty"`
	Carrier            string `json:"carrier,omitempty"`
	Country            string `json:"country,omitempty"`
	Language           string `json:"language,omitempty"`

	Library Library `json:"library"`
}

// Params are the inputs to New.
type Params struct {
	Type           string
	Properties     map[string]any
	APIProperties  map[string]any
	UserProperties map[string]any
	Timestamp      int64
	UserID         string
	DeviceID       string
	SessionID      int64
	Device         device.Info
}

// New builds an event document. The event type is NFC-normalized so that
// visually identical names group together on the collector. APIProperties
// is copied before the advertiser id is added, so the caller's map is never
// mutated.
func New(p Params) Event {
	api := make(map[string]any, len(p.APIProperties)+1)
	for k, v := range p.APIProperties {
		api[k] = v
	}
	if p.Device.AdvertiserID != "" {
		api[AdvertiserIDKey] = p.Device.AdvertiserID
	}

	return Event{
		EventType:          NormalizeType(p.Type),
		EventProperties:    p.Properties,
		APIProperties:      api,
		UserProperties:     p.UserProperties,
		Timestamp:          p.Timestamp,
		UserID:             p.UserID,
		DeviceID:           p.DeviceID,
		SessionID:          p.SessionID,
		Platform:           p.Device.Platform,
		VersionName:        p.Device.AppVersion,
		OSName:             p.Device.OSName,
		OSVersion:          p.Device.OSVersion,
		DeviceManufacturer: p.Device.Manufacturer,
		DeviceModel:        p.Device.Model,
		Carrier:            p.Device.Carrier,
		Country:            p.Device.Country,
		Language:           p.Device.Language,
		Library:            Library{Name: LibraryName, Version: LibraryVersion},
	}
}

// Marshal encodes the event as compact JSON without HTML escaping.
func (e Event) Marshal() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return "", fmt.Errorf("marshal event %q: %w", e.EventType, err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// NormalizeType returns the NFC form of an event type.
func NormalizeType(eventType string) string {
	return norm.NFC.String(eventType)
}

// MergeProperties returns the union of base and overlay; keys in overlay
// win. When either side is nil the other is returned as is.
func MergeProperties(base, overlay map[string]any) map[string]any {
	if base == nil {
		return overlay
	}
	if overlay == nil {
		return base
	}
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
