package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Ops HTTP server timeouts
const (
	OpsReadTimeout     = 15 * time.Second
	OpsIdleTimeout     = 120 * time.Second
	OpsShutdownTimeout = 10 * time.Second
)

// Notifier delivery policy; rate and attempt count are env-tunable
const (
	NotifierAttemptTimeout = 10 * time.Second
	NotifierBackoffBase    = 250 * time.Millisecond
	NotifierBackoffCap     = 4 * time.Second
)

// Retention job interval
const RetentionJobInterval = 6 * time.Hour

// Store write retry policy for the presence loop
const (
	StoreWriteAttempts = 3
	StoreWriteBackoff  = 100 * time.Millisecond
)

// Shutdown budget for final session closes
const DrainTimeout = 30 * time.Second
