package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// FromEnv overlays BEACON_* environment variables onto cfg. Every
// variable that fails to parse is reported; the others are still applied.
func FromEnv(cfg *Config) error {
	if v := os.Getenv("BEACON_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("BEACON_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("BEACON_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("BEACON_APP_VERSION"); v != "" {
		cfg.AppVersion = v
	}

	return errors.Join(
		envInt("BEACON_UPLOAD_THRESHOLD", &cfg.UploadThreshold),
		envInt("BEACON_MAX_BATCH", &cfg.MaxBatch),
		envInt("BEACON_MAX_COUNT", &cfg.MaxCount),
		envInt("BEACON_REMOVE_BATCH", &cfg.RemoveBatch),

		envDuration("BEACON_UPLOAD_PERIOD", &cfg.UploadPeriod),
		envDuration("BEACON_MIN_TIME_BETWEEN_SESSIONS", &cfg.MinTimeBetweenSessions),
		envDuration("BEACON_SESSION_TIMEOUT", &cfg.SessionTimeout),
		envDuration("BEACON_HTTP_TIMEOUT", &cfg.HTTPTimeout),
	)
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}
