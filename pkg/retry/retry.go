package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0

	// OnRetry, if set, is called before each wait with the failed attempt number (1-based).
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns defaults for database operations:
// 3 retries with 100ms initial delay, capped at 5s, doubling each time, with 10% jitter
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// applyJitter returns delay +/- (delay * jitterFactor * random(-1 to +1)).
func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// wait sleeps for the current delay and returns the next one.
func (cfg *Config) wait(ctx context.Context, delay time.Duration) (time.Duration, error) {
	select {
	case <-time.After(applyJitter(delay, cfg.JitterFactor)):
		next := time.Duration(float64(delay) * cfg.Multiplier)
		if next > cfg.MaxDelay {
			next = cfg.MaxDelay
		}
		return next, nil
	case <-ctx.Done():
		return delay, ctx.Err()
	}
}

// Do executes fn with exponential backoff retry logic.
// Returns nil on success, or the last error after all retries are exhausted.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes fn and returns both result and error.
// Used for pool creation where the value is needed.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	return doWithResult(ctx, cfg, func(error) bool { return true }, fn)
}

// DoIfRetryable retries only transient errors (see IsRetryable).
// Permanent errors such as constraint violations are returned immediately.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := doWithResult(ctx, cfg, IsRetryable, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func doWithResult[T any](ctx context.Context, cfg *Config, shouldRetry func(error) bool, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var result T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		result, lastErr = r, err

		if !shouldRetry(err) {
			return result, err
		}

		if attempt < cfg.MaxRetries {
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt+1, err)
			}
			if delay, err = cfg.wait(ctx, delay); err != nil {
				return result, err
			}
		}
	}

	return result, lastErr
}

// retryableSQLStates are PostgreSQL errors where rerunning the whole transaction can succeed.
var retryableSQLStates = map[string]bool{
	pgerrcode.LockNotAvailable:                        true, // lock_timeout expired
	pgerrcode.DeadlockDetected:                        true,
	pgerrcode.SerializationFailure:                    true,
	pgerrcode.TooManyConnections:                      true,
	pgerrcode.CannotConnectNow:                        true,
	pgerrcode.AdminShutdown:                           true,
	pgerrcode.ConnectionFailure:                       true,
	pgerrcode.ConnectionException:                     true,
	pgerrcode.SQLClientUnableToEstablishSQLConnection: true,
}

// IsRetryable determines if an error is transient and worth retrying.
//
// PostgreSQL errors are classified by SQLSTATE. Network errors and timeouts are retryable.
// Anything else (constraint violations, bad SQL, validation errors) is permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableSQLStates[pgErr.Code]
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "broken pipe", "i/o timeout"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
