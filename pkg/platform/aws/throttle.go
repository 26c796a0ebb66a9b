package aws

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/go-kit/kit/log"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	InitialBackoff = 500 * time.Millisecond
	MaxBackoff     = 10 * time.Second
	MaxAttempts    = 8

	minLimit  = 0.1
	backOffBy = 2.0
	recoverBy = 1.5
)

var throttlingCodes = map[string]bool{
	"Throttling":                true,
	"ThrottlingException":       true,
	"RequestLimitExceeded":      true,
	"TooManyRequestsException":  true,
	"RequestThrottled":          true,
	"RequestThrottledException": true,
}

// IsThrottling reports whether err is AWS telling us to slow down.
func IsThrottling(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		return throttlingCodes[aerr.Code()]
	}
	return false
}

// Throttle keeps a rate limit per AWS API (ecs, elbv2, ecr), and
// retries throttled calls with exponential backoff. A throttled call
// also halves the limit for its API; successful calls bring it back
// up towards RPS.
type Throttle struct {
	RPS            float64
	Burst          int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	Clock          clockwork.Clock
	Logger         log.Logger

	mu     sync.Mutex
	perAPI map[string]*rate.Limiter
}

// NewThrottle returns a throttle with the given steady-state rate
// and burst, defaulting to 10 requests a second with bursts of 20.
func NewThrottle(rps float64, burst int, clock clockwork.Clock, logger log.Logger) *Throttle {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &Throttle{
		RPS:            rps,
		Burst:          burst,
		InitialBackoff: InitialBackoff,
		MaxBackoff:     MaxBackoff,
		MaxAttempts:    MaxAttempts,
		Clock:          clock,
		Logger:         logger,
	}
}

func (t *Throttle) clip(limit float64) float64 {
	if limit < minLimit {
		return minLimit
	}
	if limit > t.RPS {
		return t.RPS
	}
	return limit
}

func (t *Throttle) limiter(api string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.perAPI == nil {
		t.perAPI = map[string]*rate.Limiter{}
	}
	rl, ok := t.perAPI[api]
	if !ok {
		rl = rate.NewLimiter(rate.Limit(t.RPS), t.Burst)
		t.perAPI[api] = rl
	}
	return rl
}

func (t *Throttle) adjust(api string, by float64, what string) {
	limiter := t.limiter(api)
	t.mu.Lock()
	defer t.mu.Unlock()
	oldLimit := float64(limiter.Limit())
	newLimit := t.clip(oldLimit * by)
	if oldLimit != newLimit && t.Logger != nil {
		t.Logger.Log("info", what+" rate limit", "api", api, "limit", strconv.FormatFloat(newLimit, 'f', 2, 64))
	}
	limiter.SetLimit(rate.Limit(newLimit))
}

func (t *Throttle) clock() clockwork.Clock {
	if t.Clock == nil {
		return clockwork.NewRealClock()
	}
	return t.Clock
}

// Do calls f under the API's rate limit, retrying while it is
// throttled. Any other error is returned at once.
func (t *Throttle) Do(ctx context.Context, api string, f func() error) error {
	if t == nil {
		return f()
	}
	b := &backoff{initial: t.InitialBackoff, max: t.MaxBackoff}
	if b.initial == 0 {
		b.initial = InitialBackoff
	}
	if b.max == 0 {
		b.max = MaxBackoff
	}
	attempts := t.MaxAttempts
	if attempts == 0 {
		attempts = MaxAttempts
	}
	limiter := t.limiter(api)
	clock := t.clock()
	for attempt := 1; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		err := f()
		if !IsThrottling(err) {
			if err == nil && float64(limiter.Limit()) < t.RPS {
				t.adjust(api, recoverBy, "increasing")
			}
			return err
		}
		if attempt == 1 {
			t.adjust(api, 1/backOffBy, "reducing")
		}
		if attempt >= attempts {
			return err
		}
		b.Failure()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(b.Wait()):
		}
	}
}

// backoff calculates an exponential backoff. This is used to
// calculate wait times for future requests.
type backoff struct {
	initial time.Duration
	max     time.Duration

	current time.Duration
}

// Failure should be called each time a request fails.
func (b *backoff) Failure() {
	b.current *= 2
	if b.current == 0 {
		b.current = b.initial
	} else if b.current > b.max {
		b.current = b.max
	}
}

// Wait how long to sleep before *actually* starting the request.
func (b *backoff) Wait() time.Duration {
	return b.current
}
