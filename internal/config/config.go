package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/beacon/internal/upload"
)

// Defaults.
const (
	DefaultEndpoint               = upload.DefaultEndpoint
	DefaultDBPath                 = "beacon.db"
	DefaultUploadThreshold        = 30
	DefaultMaxBatch               = 100
	DefaultMaxCount               = 1000
	DefaultRemoveBatch            = 20
	DefaultUploadPeriod           = 5 * time.Second
	DefaultMinTimeBetweenSessions = 15 * time.Second
	DefaultSessionTimeout         = 30 * time.Minute
	DefaultHTTPTimeout            = 30 * time.Second
)

// Config holds everything a tracker needs to run.
type Config struct {
	// APIKey identifies the project to the collector.
	APIKey string `yaml:"api_key" json:"api_key"`

	// Endpoint is the collector URL uploads are posted to.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// DBPath is the SQLite file holding pending events and settings.
	DBPath string `yaml:"db_path" json:"db_path"`

	// AppVersion is reported as version_name on every event.
	AppVersion string `yaml:"app_version" json:"app_version"`

	UploadThreshold int `yaml:"upload_threshold" json:"upload_threshold"`
	MaxBatch        int `yaml:"max_batch" json:"max_batch"`
	MaxCount        int `yaml:"max_count" json:"max_count"`
	RemoveBatch     int `yaml:"remove_batch" json:"remove_batch"`

	UploadPeriod           time.Duration `yaml:"upload_period" json:"upload_period"`
	MinTimeBetweenSessions time.Duration `yaml:"min_time_between_sessions" json:"min_time_between_sessions"`
	SessionTimeout         time.Duration `yaml:"session_timeout" json:"session_timeout"`
	HTTPTimeout            time.Duration `yaml:"http_timeout" json:"http_timeout"`
}

// Default returns a config with every field but APIKey set.
func Default() Config {
	return Config{
		Endpoint:               DefaultEndpoint,
		DBPath:                 DefaultDBPath,
		UploadThreshold:        DefaultUploadThreshold,
		MaxBatch:               DefaultMaxBatch,
		MaxCount:               DefaultMaxCount,
		RemoveBatch:            DefaultRemoveBatch,
		UploadPeriod:           DefaultUploadPeriod,
		MinTimeBetweenSessions: DefaultMinTimeBetweenSessions,
		SessionTimeout:         DefaultSessionTimeout,
		HTTPTimeout:            DefaultHTTPTimeout,
	}
}

// WithDefaults returns c with every zero numeric field, and an empty
// endpoint or database path, replaced by its default.
func (c Config) WithDefaults() Config {
	d := Default()
	if c.Endpoint == "" {
		c.Endpoint = d.Endpoint
	}
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if c.UploadThreshold == 0 {
		c.UploadThreshold = d.UploadThreshold
	}
	if c.MaxBatch == 0 {
		c.MaxBatch = d.MaxBatch
	}
	if c.MaxCount == 0 {
		c.MaxCount = d.MaxCount
	}
	if c.RemoveBatch == 0 {
		c.RemoveBatch = d.RemoveBatch
	}
	if c.UploadPeriod == 0 {
		c.UploadPeriod = d.UploadPeriod
	}
	if c.MinTimeBetweenSessions == 0 {
		c.MinTimeBetweenSessions = d.MinTimeBetweenSessions
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = d.HTTPTimeout
	}
	return c
}

// Load reads a YAML file over Default. Keys absent from the file keep
// their default values. Durations use Go syntax ("5s", "30m").
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Layer builds the config from Default, the YAML file at path when path
// is non-empty, and the environment, without validating it.
func Layer(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if err := FromEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}
	return cfg, nil
}

// Resolve is Layer followed by Validate.
func Resolve(path string) (Config, error) {
	cfg, err := Layer(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
