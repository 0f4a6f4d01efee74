// Package retry runs an operation under a fixed-backoff policy.
//
// The bootstrap loops of the node (network association, broker session)
// retry forever with a constant delay between attempts. Policy makes the
// attempt bound and delay explicit, and Sleeper lets tests run the loops
// without waiting.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrExhausted = errors.New("retry attempts exhausted")

// Sleeper blocks for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type RealSleeper struct{}

func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
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

// Policy describes how many times to try and how long to wait between
// tries. MaxAttempts of zero retries until the context is cancelled.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func Unbounded(backoff time.Duration) Policy {
	return Policy{Backoff: backoff}
}

// Do calls fn with a 1-based attempt number until it returns nil. The
// backoff is slept after every failed attempt except the last one.
func (p Policy) Do(ctx context.Context, s Sleeper, fn func(attempt int) error) error {
	if s == nil {
		s = RealSleeper{}
	}
	var last error
	for attempt := 1; p.MaxAttempts == 0 || attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(err, last)
		}
		last = fn(attempt)
		if last == nil {
			return nil
		}
		if p.MaxAttempts != 0 && attempt == p.MaxAttempts {
			break
		}
		if err := s.Sleep(ctx, p.Backoff); err != nil {
			return errors.Join(err, last)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, last)
}
