package resilience

import (
	"time"
)

// FromRetryConfig converts second-granularity config values to a fixed-delay
// RetryConfig. Non-positive values keep the defaults of 3 attempts, 5s
// between attempts and twice that after a 429.
func FromRetryConfig(maxAttempts, retryDelaySecs, rateLimitBackoffSecs int) RetryConfig {
	cfg := FixedRetryConfig(3, 5*time.Second, 10*time.Second)
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if retryDelaySecs > 0 {
		cfg.InitialBackoff = time.Duration(retryDelaySecs) * time.Second
		cfg.MaxBackoff = cfg.InitialBackoff
		cfg.RateLimitBackoff = 2 * cfg.InitialBackoff
	}
	if rateLimitBackoffSecs > 0 {
		cfg.RateLimitBackoff = time.Duration(rateLimitBackoffSecs) * time.Second
	}
	return cfg
}
