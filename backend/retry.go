package backend

import (
	"context"
	"strings"
	"time"
)

// retryConfig controls write retries when SQLite reports the database is
// busy under concurrent writers.
type retryConfig struct {
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxRetries:        3,
		initialBackoff:    5 * time.Millisecond,
		maxBackoff:        100 * time.Millisecond,
		backoffMultiplier: 2.0,
	}
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *sqliteBackend) withBusyRetry(ctx context.Context, fn func() error) error {
	cfg := s.retry
	var err error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(calculateBackoff(attempt-1, cfg)):
			}
		}
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
	}
	return err
}

func calculateBackoff(attempt int, cfg retryConfig) time.Duration {
	backoff := float64(cfg.initialBackoff)
	for range attempt {
		backoff *= cfg.backoffMultiplier
	}
	if d := time.Duration(backoff); d < cfg.maxBackoff {
		return d
	}
	return cfg.maxBackoff
}
