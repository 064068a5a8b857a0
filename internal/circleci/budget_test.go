package circleci

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestBudget_NoCooldownAcquiresImmediately(t *testing.T) {
	b := NewRequestBudget()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
}

func TestBudget_RetryAfterSetsCooldown(t *testing.T) {
	now := time.Now()
	b := NewRequestBudget()
	b.now = func() time.Time { return now }

	resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}}
	resp.Header.Set("Retry-After", "30")
	b.UpdateFromResponse(resp)

	// Inside the cooldown window, Acquire must block until ctx expires.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := b.Acquire(ctx); err != context.DeadlineExceeded {
		t.Errorf("Acquire during cooldown = %v, want deadline exceeded", err)
	}

	// Past the window, Acquire proceeds.
	b.now = func() time.Time { return now.Add(31 * time.Second) }
	if err := b.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire after cooldown: %v", err)
	}
}

func TestBudget_BareTooManyRequestsBacksOff(t *testing.T) {
	now := time.Now()
	b := NewRequestBudget()
	b.now = func() time.Time { return now }

	b.UpdateFromResponse(&http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := b.Acquire(ctx); err != context.DeadlineExceeded {
		t.Errorf("Acquire during default backoff = %v, want deadline exceeded", err)
	}
}

func TestBudget_SuccessResponseDoesNotThrottle(t *testing.T) {
	b := NewRequestBudget()
	b.UpdateFromResponse(&http.Response{StatusCode: http.StatusOK, Header: http.Header{}})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Acquire(ctx); err != nil {
		t.Errorf("Acquire: %v", err)
	}
}
