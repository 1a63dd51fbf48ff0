package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer string // Issuer claim for session tokens

	DatabaseFile     string // Path to the central SQLite database file (default: ./centralid.db)
	SiteRegistryFile string // Path to the JSON site registry (default: ./sites.json)
	PepperFile       string // Path to the password-hashing pepper file (default: ./pepper)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
	Port      int    // HTTP server port (default: 8080)

	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)

	TokenTTL     time.Duration // One-time token TTL (default: 60s)
	BlacklistTTL time.Duration // Session-kill blacklist TTL (default: 24h)

	FanOutTimeout     time.Duration // Per-site timeout during scatter/gather (default: 3s)
	FanOutConcurrency int           // Concurrent per-site calls (default: 8)
	RenameWorkers     int           // Rename task worker count (default: 4)

	HomeTieBreak string // Home site tie-break: registration | edits (default: registration)

	AutoNew              bool // Newly registered names become global immediately
	AutoMigrate          bool // Attempt migration synchronously at login
	AutoMigrateNonGlobal bool // Queue deferred migration for unattached accounts
	Strict               bool // Reject unattached local logins outright
	PreventUnattached    bool // Refuse registration when unattached locals exist
	DryRun               bool // Disable actual merging
	RenameConfirmation   bool // Enable the rename-detection retry at login
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:           getEnvOrDefault("CENTRALID_ISSUER", "centralid"),
		DatabaseFile:     getEnvOrDefault("CENTRALID_DATABASE_FILE", "centralid.db"),
		SiteRegistryFile: getEnvOrDefault("CENTRALID_SITE_REGISTRY", "sites.json"),
		PepperFile:       getEnvOrDefault("CENTRALID_PEPPER_FILE", "pepper"),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		Port:      getEnvIntOrDefault("PORT", 8080),

		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),

		TokenTTL:     getEnvDurationOrDefault("CENTRALID_TOKEN_TTL", 60*time.Second),
		BlacklistTTL: getEnvDurationOrDefault("CENTRALID_BLACKLIST_TTL", 24*time.Hour),

		FanOutTimeout:     getEnvDurationOrDefault("CENTRALID_FANOUT_TIMEOUT", 3*time.Second),
		FanOutConcurrency: getEnvIntOrDefault("CENTRALID_FANOUT_CONCURRENCY", 8),
		RenameWorkers:     getEnvIntOrDefault("CENTRALID_RENAME_WORKERS", 4),

		HomeTieBreak: getEnvOrDefault("CENTRALID_HOME_TIE_BREAK", "registration"),

		AutoNew:              getEnvBoolOrDefault("CENTRALID_AUTO_NEW", true),
		AutoMigrate:          getEnvBoolOrDefault("CENTRALID_AUTO_MIGRATE", true),
		AutoMigrateNonGlobal: getEnvBoolOrDefault("CENTRALID_AUTO_MIGRATE_NON_GLOBAL", false),
		Strict:               getEnvBoolOrDefault("CENTRALID_STRICT", false),
		PreventUnattached:    getEnvBoolOrDefault("CENTRALID_PREVENT_UNATTACHED", false),
		DryRun:               getEnvBoolOrDefault("CENTRALID_DRY_RUN", false),
		RenameConfirmation:   getEnvBoolOrDefault("CENTRALID_RENAME_CONFIRMATION", true),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Integer seconds for convenience
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
