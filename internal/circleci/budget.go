package circleci

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RequestBudget throttles outgoing API calls when the provider signals
// pressure. Acquire blocks while a cooldown from a Retry-After header (or a
// bare 429) is in effect; UpdateFromResponse feeds provider responses back
// into the budget.
type RequestBudget struct {
	mu       sync.Mutex
	cooldown time.Time
	notifyCh chan struct{}
	now      func() time.Time
}

// defaultThrottleBackoff applies when the provider rate-limits a call
// without saying for how long.
const defaultThrottleBackoff = 10 * time.Second

func NewRequestBudget() *RequestBudget {
	return &RequestBudget{
		notifyCh: make(chan struct{}),
		now:      time.Now,
	}
}

// Acquire blocks until the budget allows one request or ctx is done.
func (b *RequestBudget) Acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := b.now()
		if !now.Before(b.cooldown) {
			b.mu.Unlock()
			return nil
		}
		until := b.cooldown
		ch := b.notifyCh
		b.mu.Unlock()

		timer := time.NewTimer(until.Sub(now))
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return ctx.Err()
		case <-ch:
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
		}
	}
}

// UpdateFromResponse records throttling signals from a provider response.
func (b *RequestBudget) UpdateFromResponse(resp *http.Response) {
	if b == nil || resp == nil {
		return
	}

	var backoff time.Duration
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
			backoff = time.Duration(seconds) * time.Second
		}
	}
	if backoff == 0 && resp.StatusCode == http.StatusTooManyRequests {
		backoff = defaultThrottleBackoff
	}
	if backoff == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	until := b.now().Add(backoff)
	if until.After(b.cooldown) {
		b.cooldown = until
		// Wake any waiter so it re-reads the new deadline.
		close(b.notifyCh)
		b.notifyCh = make(chan struct{})
	}
}
