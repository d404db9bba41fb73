// Package retry wraps remote operations with bounded exponential backoff.
//
// Only errors classified as transient are retried. Everything else fails on
// the first attempt. Running out of attempts yields a RetryExhaustedError that
// carries the last underlying error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	dserrors "github.com/systmms/secrets-replicator/internal/errors"
	"github.com/systmms/secrets-replicator/internal/logging"
)

// Config holds backoff parameters.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
	Jitter          float64
}

// DefaultConfig returns 2s initial wait doubling up to 32s, five attempts and
// 10% jitter.
func DefaultConfig() Config {
	return Config{
		InitialInterval: 2 * time.Second,
		MaxInterval:     32 * time.Second,
		Multiplier:      2,
		MaxAttempts:     5,
		Jitter:          0.1,
	}
}

// Policy retries transient failures.
type Policy struct {
	config    Config
	logger    *logging.Logger
	retryable func(error) bool
}

// Option configures a Policy.
type Option func(*Policy)

// WithLogger logs each retry at warn level
func WithLogger(logger *logging.Logger) Option {
	return func(p *Policy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClassifier replaces the transient check
func WithClassifier(retryable func(error) bool) Option {
	return func(p *Policy) {
		if retryable != nil {
			p.retryable = retryable
		}
	}
}

// New creates a Policy. Zero or invalid fields fall back to DefaultConfig.
func New(config Config, opts ...Option) *Policy {
	defaults := DefaultConfig()
	if config.InitialInterval <= 0 {
		config.InitialInterval = defaults.InitialInterval
	}
	if config.MaxInterval < config.InitialInterval {
		config.MaxInterval = maxDuration(defaults.MaxInterval, config.InitialInterval)
	}
	if config.Multiplier < 1 {
		config.Multiplier = defaults.Multiplier
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.Jitter < 0 || config.Jitter >= 1 {
		config.Jitter = defaults.Jitter
	}

	p := &Policy{
		config:    config,
		logger:    logging.NewNop(),
		retryable: IsTransient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective configuration
func (p *Policy) Config() Config {
	return p.config
}

// IsTransient reports whether err is classified as transient
func IsTransient(err error) bool {
	return dserrors.KindOf(err) == dserrors.KindTransient
}

// Do runs fn until it succeeds, fails permanently, the context ends or the
// attempt budget is spent. It returns the number of attempts made.
func (p *Policy) Do(ctx context.Context, op string, fn func(context.Context) error) (int, error) {
	attempts := 0
	permanent := false

	operation := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !p.retryable(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		p.logger.Warn("%s: attempt %d failed, retrying in %s: %v", op, attempts, wait.Round(time.Millisecond), err)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(p.newBackOff(), ctx), notify)
	switch {
	case err == nil, permanent:
		return attempts, err
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return attempts, err
	}
	return attempts, &RetryExhaustedError{Op: op, Attempts: attempts, Err: err}
}

func (p *Policy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.InitialInterval
	b.MaxInterval = p.config.MaxInterval
	b.Multiplier = p.config.Multiplier
	b.RandomizationFactor = p.config.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.config.MaxAttempts-1))
}

// Delays returns the nominal wait before each retry, without jitter.
func (p *Policy) Delays() []time.Duration {
	delays := make([]time.Duration, 0, p.config.MaxAttempts-1)
	next := p.config.InitialInterval
	for i := 1; i < p.config.MaxAttempts; i++ {
		delays = append(delays, next)
		next = time.Duration(float64(next) * p.config.Multiplier)
		if next > p.config.MaxInterval {
			next = p.config.MaxInterval
		}
	}
	return delays
}

// RetryExhaustedError reports a transient failure that persisted through every
// attempt.
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// Kind implements errors.Classified
func (e *RetryExhaustedError) Kind() dserrors.Kind {
	return dserrors.KindRetryExhausted
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
