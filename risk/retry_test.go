package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zone_recovery_go/broker"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxTotalTime:      time.Second,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := RetryWithBackoff("test op", fastRetryConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("broker down")
	err := RetryWithBackoff("test op", fastRetryConfig(), func() error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 3, calls)
}

func TestRetryPositionGoneShortCircuits(t *testing.T) {
	calls := 0
	err := RetryWithBackoff("close op", fastRetryConfig(), func() error {
		calls++
		return broker.ErrPositionNotFound
	})
	require.ErrorIs(t, err, broker.ErrPositionNotFound)
	require.Equal(t, 1, calls, "a missing position must never be retried")
}

func TestRetryWallClockBudget(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:       10,
		InitialDelay:      30 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxTotalTime:      50 * time.Millisecond,
	}
	calls := 0
	err := RetryWithBackoff("slow op", cfg, func() error {
		calls++
		return errors.New("still failing")
	})
	require.ErrorIs(t, err, ErrRetryTimeout)
	require.Less(t, calls, 10)
}
