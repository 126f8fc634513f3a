// Package politeness spaces outbound origin requests. Two independent
// mechanisms: per-bucket minimum spacing between any two requests, and a
// randomized delay between pages of one pagination walk so the request
// pattern never looks perfectly periodic to the origin.
package politeness

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// minPageDelay is the floor applied after wobble; a walk never hits the
// origin back-to-back even with a tiny configured base delay.
const minPageDelay = 100 * time.Millisecond

// Scheduler enforces a minimum interval between grants per bucket. Buckets
// partition requests by target resource (one per monitored user, one for
// the standings page) so unrelated polls do not serialize behind each other.
type Scheduler struct {
	minInterval time.Duration
	pageDelay   time.Duration
	wobble      float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewScheduler creates a Scheduler with the given per-bucket minimum
// interval and page-delay parameters. wobble is a fraction in [0,1): a page
// delay of 3s with wobble 0.2 yields delays uniform in [2.4s, 3.6s].
func NewScheduler(minInterval, pageDelay time.Duration, wobble float64) *Scheduler {
	return &Scheduler{
		minInterval: minInterval,
		pageDelay:   pageDelay,
		wobble:      wobble,
		limiters:    make(map[string]*rate.Limiter),
	}
}

func (s *Scheduler) limiter(bucket string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[bucket]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.minInterval), 1)
		s.limiters[bucket] = lim
	}
	return lim
}

// Acquire blocks until at least the minimum interval has elapsed since the
// last grant for the bucket. The very first acquisition on a bucket is
// granted immediately. Cancelling ctx unblocks the wait.
func (s *Scheduler) Acquire(ctx context.Context, bucket string) error {
	if err := s.limiter(bucket).Wait(ctx); err != nil {
		return eris.Wrapf(err, "politeness: acquire %s", bucket)
	}
	return nil
}

// PageDelay returns base * (1 + uniform(-wobble, +wobble)), floored so the
// result is never degenerate.
func (s *Scheduler) PageDelay() time.Duration {
	w := (rand.Float64()*2 - 1) * s.wobble
	d := time.Duration(float64(s.pageDelay) * (1 + w))
	if d < minPageDelay {
		d = minPageDelay
	}
	return d
}

// SleepPage waits one page delay between pagination requests, returning
// early if ctx is cancelled.
func (s *Scheduler) SleepPage(ctx context.Context) error {
	t := time.NewTimer(s.PageDelay())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "politeness: page delay")
	case <-t.C:
		return nil
	}
}
