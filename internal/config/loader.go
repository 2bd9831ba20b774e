package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FIELDSYNC_SYNCENDPOINT
// or FIELDSYNC_SYNC_BATCHSIZE
const EnvPrefix = "FIELDSYNC"

// Load loads configuration from a file path (JSON, YAML or TOML by
// extension) and applies environment variable overrides.
// Validation is deferred to allow CLI flag overrides to be applied first.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			if os.IsNotExist(err) {
				return nil, ErrConfigFileNotFound
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, ErrConfigFileNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
	}
	return cfg, nil
}

// LoadFromEnvironment loads defaults plus environment overrides and validates
func LoadFromEnvironment() (*Config, error) {
	cfg, err := Load("")
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newViper registers every key with its default so AutomaticEnv can
// override nested values
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	defaults := map[string]any{
		"syncEndpoint":              d.SyncEndpoint,
		"apiUrl":                    d.APIURL,
		"dataDir":                   d.DataDir,
		"devMode":                   d.DevMode,
		"devSubject":                d.DevSubject,
		"logLevel":                  d.LogLevel,
		"logFile":                   d.LogFile,
		"auth.email":                d.Auth.Email,
		"auth.refreshBuffer":        d.Auth.RefreshBuffer,
		"sync.batchSize":            d.Sync.BatchSize,
		"sync.retryDelay":           d.Sync.RetryDelay,
		"sync.pollInterval":         d.Sync.PollInterval,
		"sync.uploadInterval":       d.Sync.UploadInterval,
		"sync.refreshCheckInterval": d.Sync.RefreshCheckInterval,
		"sync.disableFeed":          d.Sync.DisableFeed,
		"sync.fatalCodes":           []string{},
		"offline.maxRetries":        d.Offline.MaxRetries,
		"offline.retryInterval":     d.Offline.RetryInterval,
		"network.checkInterval":     d.Network.CheckInterval,
		"diagnostics.addr":          d.Diagnostics.Addr,
		"tracing.enabled":           d.Tracing.Enabled,
		"tracing.exporter":          d.Tracing.Exporter,
		"tracing.endpoint":          d.Tracing.Endpoint,
		"tracing.sampleRate":        d.Tracing.SampleRate,
		"directDb.url":              d.DirectDB.URL,
		"directDb.owner":            d.DirectDB.Owner,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}
