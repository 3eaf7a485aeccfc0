package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"sonarharvest/sonar"
)

// RetryConfig bounds retries of transient failures.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps the wait between attempts, backoff.DefaultMaxInterval when zero.
	MaxDelay time.Duration
}

// DefaultRetryConfig returns three retries starting at one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

type retrier struct {
	cfg RetryConfig
}

func newRetrier(cfg RetryConfig) retrier {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	return retrier{cfg: cfg}
}

// backOff doubles the wait from BaseDelay up to MaxDelay, without jitter.
func (r retrier) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	if r.cfg.MaxDelay > 0 {
		b.MaxInterval = r.cfg.MaxDelay
	}
	b.Reset()
	return b
}

// classify maps an attempt's error onto the backoff vocabulary: permanent
// unless transient, and a fixed wait when the service sent Retry-After.
func classify(err error) error {
	if !sonar.IsTransient(err) {
		return backoff.Permanent(err)
	}
	if ra := sonar.RetryAfter(err); ra > 0 {
		return backoff.RetryAfter(int(math.Ceil(ra.Seconds())))
	}
	return err
}

// do runs op until it succeeds, fails permanently or runs out of retries.
func (r retrier) do(ctx context.Context, log *zap.Logger, op func() error) error {
	var lastTransient error
	attempts := 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := op()
		if err == nil {
			return struct{}{}, nil
		}
		if sonar.IsTransient(err) {
			lastTransient = err
		}
		return struct{}{}, classify(err)
	},
		backoff.WithBackOff(r.backOff()),
		backoff.WithMaxTries(uint(r.cfg.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, wait time.Duration) {
			log.Warn("Retrying after transient error",
				zap.Int("attempt", attempts),
				zap.Duration("wait", wait),
				zap.Error(lastTransient))
		}),
	)
	if err == nil {
		return nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	var retryAfter *backoff.RetryAfterError
	if lastTransient != nil && (errors.Is(err, lastTransient) || errors.As(err, &retryAfter)) {
		return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastTransient)
	}
	return err
}
