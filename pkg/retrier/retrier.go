// Package retrier repeats exchange calls with capped exponential backoff.
package retrier

import (
	"context"
	"math/rand/v2"
	"time"
)

// Retrier holds a backoff policy. The zero value is not usable, see New.
type Retrier struct {
	base     time.Duration
	ceiling  time.Duration
	factor   float64
	attempts int // retries after the first call
	jitter   float64
	retryIf  func(error) bool
	onRetry  func(attempt int, wait time.Duration, err error)
}

type Option func(*Retrier)

func WithInitialInterval(d time.Duration) Option { return func(r *Retrier) { r.base = d } }

func WithMaxInterval(d time.Duration) Option { return func(r *Retrier) { r.ceiling = d } }

func WithMultiplier(m float64) Option { return func(r *Retrier) { r.factor = m } }

func WithMaxRetries(n int) Option { return func(r *Retrier) { r.attempts = n } }

// WithJitter spreads every wait by up to ±j of its length.
func WithJitter(j float64) Option { return func(r *Retrier) { r.jitter = j } }

// WithRetryIf limits retries to the errors fn accepts. Any other error is
// returned as is.
func WithRetryIf(fn func(error) bool) Option { return func(r *Retrier) { r.retryIf = fn } }

// WithOnRetry registers fn to be called before every wait.
func WithOnRetry(fn func(attempt int, wait time.Duration, err error)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

func New(opts ...Option) *Retrier {
	r := &Retrier{
		base:     time.Second,
		ceiling:  30 * time.Second,
		factor:   2,
		attempts: 5,
		jitter:   0.1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// wait returns the pause before retry n, counting from 1.
func (r *Retrier) wait(n int) time.Duration {
	d := float64(r.base)
	for i := 1; i < n && d < float64(r.ceiling); i++ {
		d *= r.factor
	}
	d = min(d, float64(r.ceiling))
	if r.jitter > 0 {
		d += (rand.Float64()*2 - 1) * r.jitter * d
	}
	return time.Duration(max(d, 0))
}

// Do calls fn until it succeeds, returns a non retryable error, runs out of
// retries or ctx is done.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	for n := 1; err != nil && n <= r.attempts; n++ {
		if r.retryIf != nil && !r.retryIf(err) {
			return err
		}

		pause := r.wait(n)
		if r.onRetry != nil {
			r.onRetry(n, pause, err)
		}

		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}

		err = fn(ctx)
	}
	return err
}

// DoWithData is Do for functions returning a value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
