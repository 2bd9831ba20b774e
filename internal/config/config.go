// Package config holds the client configuration of the sync layer
package config

import (
	"path/filepath"
	"time"
)

// Config holds all configuration for the fieldsync client
type Config struct {
	SyncEndpoint string            `mapstructure:"syncEndpoint" json:"syncEndpoint"`
	APIURL       string            `mapstructure:"apiUrl" json:"apiUrl"` // direct API; defaults to SyncEndpoint
	DataDir      string            `mapstructure:"dataDir" json:"dataDir"`
	DevMode      bool              `mapstructure:"devMode" json:"devMode"` // sends X-Debug-Sub instead of a token
	DevSubject   string            `mapstructure:"devSubject" json:"devSubject,omitempty"`
	LogLevel     string            `mapstructure:"logLevel" json:"logLevel"`
	LogFile      string            `mapstructure:"logFile" json:"logFile,omitempty"`
	Auth         AuthConfig        `mapstructure:"auth" json:"auth"`
	Sync         SyncConfig        `mapstructure:"sync" json:"sync"`
	Offline      OfflineConfig     `mapstructure:"offline" json:"offline"`
	Network      NetworkConfig     `mapstructure:"network" json:"network"`
	Diagnostics  DiagnosticsConfig `mapstructure:"diagnostics" json:"diagnostics"`
	Tracing      TracingConfig     `mapstructure:"tracing" json:"tracing"`
	DirectDB     DirectDBConfig    `mapstructure:"directDb" json:"directDb"`
}

// AuthConfig configures sign-in and session refresh
type AuthConfig struct {
	Email         string        `mapstructure:"email" json:"email,omitempty"`
	RefreshBuffer time.Duration `mapstructure:"refreshBuffer" json:"refreshBuffer"`
}

// SyncConfig configures replication
type SyncConfig struct {
	BatchSize            int           `mapstructure:"batchSize" json:"batchSize"`
	RetryDelay           time.Duration `mapstructure:"retryDelay" json:"retryDelay"`
	PollInterval         time.Duration `mapstructure:"pollInterval" json:"pollInterval"`
	UploadInterval       time.Duration `mapstructure:"uploadInterval" json:"uploadInterval"`
	RefreshCheckInterval time.Duration `mapstructure:"refreshCheckInterval" json:"refreshCheckInterval"`
	DisableFeed          bool          `mapstructure:"disableFeed" json:"disableFeed"`
	// FatalCodes are extra "name=pattern" rules added to the default fatal codes
	FatalCodes []string `mapstructure:"fatalCodes" json:"fatalCodes,omitempty"`
}

// OfflineConfig configures the offline write guarantee
type OfflineConfig struct {
	MaxRetries    int           `mapstructure:"maxRetries" json:"maxRetries"`
	RetryInterval time.Duration `mapstructure:"retryInterval" json:"retryInterval"`
}

// NetworkConfig configures the reachability monitor
type NetworkConfig struct {
	CheckInterval time.Duration `mapstructure:"checkInterval" json:"checkInterval"`
}

// DiagnosticsConfig configures the local debug endpoint
type DiagnosticsConfig struct {
	Addr string `mapstructure:"addr" json:"addr"` // empty disables it
}

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled" json:"enabled"`
	Exporter   string  `mapstructure:"exporter" json:"exporter"`
	Endpoint   string  `mapstructure:"endpoint" json:"endpoint,omitempty"`
	SampleRate float64 `mapstructure:"sampleRate" json:"sampleRate"`
}

// DirectDBConfig lets a trusted deployment replay mutations straight into
// the backend database instead of the table REST API
type DirectDBConfig struct {
	URL   string `mapstructure:"url" json:"url,omitempty"`
	Owner string `mapstructure:"owner" json:"owner,omitempty"` // owner_id stamped on written rows
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.SyncEndpoint == "" {
		return ErrMissingSyncEndpoint
	}
	if c.DataDir == "" {
		return ErrMissingDataDir
	}
	if c.Sync.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.Offline.MaxRetries <= 0 {
		return ErrInvalidMaxRetries
	}
	if c.DirectDB.URL != "" && c.DirectDB.Owner == "" {
		return ErrMissingDirectDBOwner
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return ErrInvalidExporter
	}
	return nil
}

// DirectAPIURL returns the base URL of the direct API
func (c *Config) DirectAPIURL() string {
	if c.APIURL != "" {
		return c.APIURL
	}
	return c.SyncEndpoint
}

// ReplicaPath is the local store file
func (c *Config) ReplicaPath() string {
	return filepath.Join(c.DataDir, "replica.db")
}

// KVPath is the key-value file holding the session and pending writes
func (c *Config) KVPath() string {
	return filepath.Join(c.DataDir, "kv.db")
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		SyncEndpoint: "http://localhost:8081",
		DataDir:      ".fieldsync",
		LogLevel:     "info",
		Auth: AuthConfig{
			RefreshBuffer: 5 * time.Minute,
		},
		Sync: SyncConfig{
			BatchSize:            100,
			RetryDelay:           5 * time.Second,
			PollInterval:         30 * time.Second,
			UploadInterval:       10 * time.Second,
			RefreshCheckInterval: 30 * time.Second,
		},
		Offline: OfflineConfig{
			MaxRetries:    3,
			RetryInterval: time.Minute,
		},
		Network: NetworkConfig{
			CheckInterval: 15 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter:   "none",
			SampleRate: 1.0,
		},
	}
}
