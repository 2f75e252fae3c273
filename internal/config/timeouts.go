package config

import "time"

// TimeoutConfig holds timeout settings for various operations.
// These can be configured via CLI flags to tune performance for different environments.
type TimeoutConfig struct {
	// HTTPClient is the timeout for outbound HTTP requests (webhook providers). Default: 30s
	HTTPClient time.Duration

	// Request bounds a single RPC call, including its database work. Default: 30s
	Request time.Duration

	// Shutdown is how long in-flight requests get to finish on SIGTERM. Default: 30s
	Shutdown time.Duration
}

// DefaultTimeoutConfig returns the default timeout configuration
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPClient: 30 * time.Second,
		Request:    30 * time.Second,
		Shutdown:   30 * time.Second,
	}
}

// global instance that can be set at startup
var globalTimeouts = DefaultTimeoutConfig()

// SetGlobalTimeouts sets the global timeout configuration
func SetGlobalTimeouts(cfg *TimeoutConfig) {
	globalTimeouts = cfg
}

// GetTimeouts returns the global timeout configuration
func GetTimeouts() *TimeoutConfig {
	return globalTimeouts
}
