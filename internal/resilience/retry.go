package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig controls exponential backoff for upstream API calls.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt. Zero means one attempt.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns the retry policy used for OpenAI calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Retry runs op until it succeeds, returns an error rejected by retryable,
// exhausts MaxRetries, or ctx is done. The last error is returned unwrapped.
func Retry(ctx context.Context, cfg RetryConfig, retryable func(error) bool, op func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	b.MaxElapsedTime = 0

	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	return backoff.Retry(func() error {
		err := op(ctx)
		if err != nil && retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
