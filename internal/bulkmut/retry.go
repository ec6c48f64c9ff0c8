package bulkmut

import (
	"context"
	"time"
)

// SleepFunc blocks for the given delay or until the context ends. Tests
// substitute a recording implementation so backoff paths run instantly.
type SleepFunc func(ctx context.Context, delay time.Duration) error

// ContextSleep is the production SleepFunc.
func ContextSleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Policy bounds how a transient failure is retried. Backoff returns the delay
// before retry number attempt (1-based); a nil Backoff retries immediately.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Sleep       SleepFunc
}

// FixedPolicy retries up to attempts times with no delay between tries.
func FixedPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts}
}

// LinearPolicy waits attempt*base before each retry, so successive waits grow
// arithmetically.
func LinearPolicy(attempts int, base time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * base
		},
	}
}

// Do runs fn until it succeeds, fails permanently, or the attempt budget is
// spent. Only transient failures are retried.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts || !IsTransient(err) {
			return err
		}
		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
}
