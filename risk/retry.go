// risk/retry.go
package risk

import (
	"errors"
	"fmt"
	"time"

	"zone_recovery_go/broker"
	"zone_recovery_go/logs"
)

// RetryConfig bounds a retried broker operation by attempt count and by
// wall-clock time.
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxTotalTime      time.Duration
}

// DefaultRetryConfig matches the broker-operation defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxTotalTime:      10 * time.Second,
	}
}

// RetryWithBackoff runs op with exponential backoff. A
// broker.ErrPositionNotFound result short-circuits immediately: the target is
// gone and retrying cannot bring it back.
func RetryWithBackoff(name string, cfg RetryConfig, op func() error) error {
	delay := cfg.InitialDelay
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if time.Since(start) > cfg.MaxTotalTime {
			logs.Errorf("[Retry] %s timeout exceeded (%.1fs)", name, cfg.MaxTotalTime.Seconds())
			return fmt.Errorf("%s: %w", name, ErrRetryTimeout)
		}

		lastErr = op()
		if lastErr == nil {
			if attempt > 1 {
				logs.Infof("[Retry] %s succeeded on attempt %d/%d", name, attempt, cfg.MaxAttempts)
			}
			return nil
		}

		if errors.Is(lastErr, broker.ErrPositionNotFound) {
			logs.Infof("[Retry] %s - position no longer exists, aborting retries", name)
			return lastErr
		}

		if attempt < cfg.MaxAttempts {
			logs.Warnf("[Retry] %s failed (attempt %d/%d), retrying in %.1fs: %v",
				name, attempt, cfg.MaxAttempts, delay.Seconds(), lastErr)
			time.Sleep(delay)
			delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		}
	}

	logs.Errorf("[Retry] %s failed after %d attempts: %v", name, cfg.MaxAttempts, lastErr)
	return lastErr
}
