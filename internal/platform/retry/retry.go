// Package retry wraps fallible operations in bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Base         float64
	Jitter       bool
}

// Attempt describes one finished invocation of the wrapped operation.
type Attempt struct {
	Op       string
	Number   int // zero based
	Err      error
	Duration time.Duration
	// NextDelay is the sleep before the following attempt; zero when no attempt follows.
	NextDelay time.Duration
}

type Observer func(Attempt)

type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

type Option func(*runner)

func WithObserver(obs Observer) Option {
	return func(r *runner) {
		if obs != nil {
			r.observers = append(r.observers, obs)
		}
	}
}

// WithSleep replaces the context aware sleep. Tests use it to record delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *runner) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// WithRand replaces the jitter source; fn must return values in [0,1).
func WithRand(fn func() float64) Option {
	return func(r *runner) {
		if fn != nil {
			r.rand = fn
		}
	}
}

type runner struct {
	observers []Observer
	sleep     func(ctx context.Context, d time.Duration) error
	rand      func() float64
}

// Normalize fills unset fields with usable values.
func (p Policy) Normalize() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.Base <= 1 {
		p.Base = 2
	}
	if p.MaxDelay <= 0 || p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	return p
}

func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("retry: max retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.Base <= 1 {
		return fmt.Errorf("retry: exponential base must be > 1, got %v", p.Base)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("retry: delays must be >= 0")
	}
	return nil
}

// Do runs fn until it succeeds, returns a Permanent error, the context ends,
// or MaxRetries+1 attempts have failed.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error, opts ...Option) error {
	_, err := DoValue(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}

func DoValue[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	r := &runner{sleep: sleepCtx, rand: rand.Float64}
	for _, o := range opts {
		o(r)
	}
	p = p.Normalize()

	delay := p.InitialDelay
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		start := time.Now()
		v, err := fn(ctx)
		attempts++
		if err == nil {
			r.notify(Attempt{Op: op, Number: attempt, Duration: time.Since(start)})
			return v, nil
		}
		lastErr = err

		var perm *permanentError
		last := attempt == p.MaxRetries || errors.As(err, &perm)
		sleepFor := time.Duration(0)
		if !last {
			sleepFor = delay
			if p.Jitter {
				sleepFor = time.Duration(float64(delay) * (0.5 + 0.5*r.rand()))
			}
		}
		r.notify(Attempt{Op: op, Number: attempt, Err: err, Duration: time.Since(start), NextDelay: sleepFor})
		if last {
			if perm != nil {
				lastErr = perm.err
			}
			break
		}
		if err := r.sleep(ctx, sleepFor); err != nil {
			break
		}
		delay = nextDelay(delay, p)
	}
	return zero, &ExhaustedError{Op: op, Attempts: attempts, Err: lastErr}
}

func nextDelay(cur time.Duration, p Policy) time.Duration {
	next := time.Duration(float64(cur) * p.Base)
	if next > p.MaxDelay || next < 0 {
		return p.MaxDelay
	}
	return next
}

func (r *runner) notify(a Attempt) {
	for _, obs := range r.observers {
		obs(a)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
