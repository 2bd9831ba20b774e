package config

import "errors"

var (
	// ErrMissingSyncEndpoint indicates that the sync endpoint is not configured
	ErrMissingSyncEndpoint = errors.New("syncEndpoint is required in configuration")

	// ErrMissingDataDir indicates that no local data directory is configured
	ErrMissingDataDir = errors.New("dataDir is required in configuration")

	// ErrInvalidBatchSize indicates a non-positive download batch size
	ErrInvalidBatchSize = errors.New("sync.batchSize must be positive")

	// ErrInvalidMaxRetries indicates a non-positive offline retry limit
	ErrInvalidMaxRetries = errors.New("offline.maxRetries must be positive")

	// ErrInvalidExporter indicates an unknown tracing exporter
	ErrInvalidExporter = errors.New("tracing.exporter must be one of none, stdout, otlp")

	// ErrMissingDirectDBOwner indicates a direct database without an owner for written rows
	ErrMissingDirectDBOwner = errors.New("directDb.owner is required when directDb.url is set")

	// ErrConfigFileNotFound indicates that the config file was not found
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates that the config file could not be parsed
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")
)
