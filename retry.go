package llmprovider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls retries while opening a stream. Retries stop once the
// first response byte has been received; a stream is never replayed.
// The zero value disables retries.
type RetryPolicy struct {
	MaxRetries      uint64        `yaml:"max_retries" toml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval" toml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" toml:"max_interval"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time" toml:"max_elapsed_time"`
}

const (
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
	defaultMaxElapsedTime  = time.Minute
)

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = defaultInitialInterval
	eb.MaxInterval = defaultMaxInterval
	eb.MaxElapsedTime = defaultMaxElapsedTime
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	if p.MaxElapsedTime > 0 {
		eb.MaxElapsedTime = p.MaxElapsedTime
	}
	eb.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)
}

// Retry runs op until it succeeds, returns an error that IsRetryable rejects,
// or the policy is exhausted. notify, if non-nil, is called before each wait.
func Retry(ctx context.Context, policy RetryPolicy, op func() error, notify func(err error, wait time.Duration)) error {
	wrapped := func() error {
		err := op()
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(wrapped, policy.backOff(ctx), notify)
}
