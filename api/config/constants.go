package config

import "time"

// Application constants
const (
	// Storage layout
	DefaultFolderPath = "defect-metadata/"
	MetadataExt       = ".json"
	ImageExt          = ".jpg"

	// Fetch configuration
	DefaultFetchLimit = 1000
	MaxFetchLimit     = 10000
	FetchBatchSize    = 16

	// Sync engine
	DefaultSyncInterval = 30 * time.Second
	DefaultSignTTL      = time.Hour

	// Local watcher
	FileStabilityDelay = 100 * time.Millisecond
	WatcherDebounce    = 5 * time.Second
)
