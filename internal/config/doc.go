// Package config loads tracker settings.
//
// Values are layered: Default, then an optional YAML file (Load), then
// BEACON_* environment variables (FromEnv). Validate checks the result
// against an embedded CUE schema.
package config
