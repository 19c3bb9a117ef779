// Package core provides shared constants, configuration and helpers for the
// clan-stats CLI.
package core

import (
	"os"
	"path/filepath"
	"time"
)

// API configuration
const (
	APIBaseURL   = "https://www.bungie.net/Platform"
	APIKeyHeader = "X-API-Key"
	APIKeyEnvVar = "CLAN_STATS_BUNGIE_API_KEY"
	DefaultTZ    = "UTC"
)

// Date formats
const (
	APIDateFmt     = "2006-01-02"
	APIDatetimeFmt = "2006-01-02 15:04:05"
)

// Pagination and retries
const (
	ActivityPageSize = 250
	MemberPageSize   = 100
	MaxRetries       = 3
	RequestTimeout   = 30 * time.Second
)

// Cache lifetimes
const (
	PlayerCacheLifetime       = time.Hour
	ActivityStaleness         = time.Hour
	ForbiddenBackoff          = 24 * time.Hour
	DefaultActivityWindowDays = 30
)

// Report fan-out
const (
	MaxConcurrentMembers = 4
)

// Cache backend names
const (
	CacheBackendMemory     = "memory"
	CacheBackendFilesystem = "filesystem"
	CacheBackendSQLite     = "sqlite"
	CacheBackendValkey     = "valkey"
)

// Files
const (
	ConfigFileName        = "clan_stats_config.yaml"
	DefaultDiscordMapping = "clan_list.csv"
	EnvPrefix             = "CLAN_STATS"
)

// CacheRoot returns the default cache directory path.
func CacheRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".clan-stats", "cache")
}

// Version is the current CLI version.
const Version = "0.4.0"
