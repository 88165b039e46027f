// Package retry computes exponential backoff for transient failures.
package retry

import (
	"context"
	"time"

	"orderhub/internal/apperr"
)

// Policy is exponential backoff: Base * 2^attempt, capped at Max.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
	// Retryable classifies errors; defaults to apperr.Retryable.
	Retryable func(error) bool
}

// Default is the delivery policy: 1s doubling to one hour.
func Default() Policy {
	return Policy{Base: time.Second, Max: time.Hour, MaxAttempts: 10}
}

// NextDelay returns the wait before retry number attempt (0-based).
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base
	if d <= 0 {
		d = time.Second
	}
	for i := 0; i < attempt; i++ {
		if p.Max > 0 && d >= p.Max {
			break
		}
		if d > time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// ShouldRetry reports whether another attempt is allowed after attempt
// (0-based) failed with err.
func (p Policy) ShouldRetry(attempt int, err error) bool {
	if err == nil {
		return false
	}
	if p.MaxAttempts > 0 && attempt+1 >= p.MaxAttempts {
		return false
	}
	classify := p.Retryable
	if classify == nil {
		classify = apperr.Retryable
	}
	return classify(err)
}

// Do runs fn until it succeeds, fails permanently, runs out of attempts or ctx ends.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if !p.ShouldRetry(attempt, err) {
			return err
		}
		t := time.NewTimer(p.NextDelay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}
