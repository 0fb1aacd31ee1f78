package config

import "time"

// TimeoutConfig bounds the operations that touch the underlying store.
// These can be tuned via CLI flags for slow filesystems (network mounts).
type TimeoutConfig struct {
	// Connect bounds the initial open/ping of the catalog database.
	Connect time.Duration

	// Query bounds individual routing and maintenance operations started
	// by the daemon itself (callers pass their own contexts).
	Query time.Duration
}

// DefaultTimeoutConfig returns the default timeout configuration.
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Connect: 10 * time.Second,
		Query:   30 * time.Second,
	}
}

// global instance set once at startup
var globalTimeouts = DefaultTimeoutConfig()

// SetGlobalTimeouts sets the global timeout configuration.
func SetGlobalTimeouts(cfg *TimeoutConfig) {
	globalTimeouts = cfg
}

// GetTimeouts returns the global timeout configuration.
func GetTimeouts() *TimeoutConfig {
	return globalTimeouts
}
