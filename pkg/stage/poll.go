package stage

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
)

var ErrPollTimeout = errors.New("timed out waiting")

// Poller polls a condition with exponential backoff.
type Poller struct {
	Clock    clockwork.Clock
	Interval time.Duration
	// MaxInterval caps the delay between attempts; zero means the
	// delay never grows.
	MaxInterval time.Duration
}

// Until calls f until it reports done, returns an error, the context
// is done, or the timeout elapses (ErrPollTimeout). f is always called
// at least once, and once more at the deadline. It returns the number
// of times f was called.
func (p Poller) Until(ctx context.Context, timeout time.Duration, f func() (bool, error)) (int, error) {
	finish := p.Clock.Now().Add(timeout)
	delay := p.Interval
	maxDelay := p.MaxInterval
	if maxDelay < delay {
		maxDelay = delay
	}
	for n := 1; ; n++ {
		done, err := f()
		if done || err != nil {
			return n, err
		}
		left := finish.Sub(p.Clock.Now())
		if left <= 0 {
			return n, ErrPollTimeout
		}
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-p.Clock.After(min(delay, left)):
		}
		delay = min(delay*2, maxDelay)
	}
}

func min(t1, t2 time.Duration) time.Duration {
	if t1 < t2 {
		return t1
	}
	return t2
}
