package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mmcdole/reel/internal/domain"
)

func testPolicy() Policy {
	return Policy{Initial: time.Millisecond, Multiplier: 2, MaxInterval: 4 * time.Millisecond, MaxRetries: 3}
}

func TestDoRetriesNetworkErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), testPolicy(), nil, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: connection refused", domain.ErrNetwork)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoDoesNotRetryAuth(t *testing.T) {
	calls := 0
	err := Do(context.Background(), testPolicy(), nil, func() error {
		calls++
		return fmt.Errorf("%w: 401", domain.ErrAuthRequired)
	})
	if !errors.Is(err, domain.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), testPolicy(), nil, func() error {
		calls++
		return domain.ErrNetwork
	})
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 1 attempt plus 3 retries, got %d", calls)
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := testPolicy()
	p.MaxRetries = 100
	calls := 0
	err := Do(ctx, p, nil, func() error {
		calls++
		cancel()
		return domain.ErrNetwork
	})
	if err == nil {
		t.Fatal("expected an error after cancel")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestBackOffIsMonotonicAndCapped(t *testing.T) {
	p := Policy{Initial: time.Second, Multiplier: 2, MaxInterval: 10 * time.Second}
	b := p.NewBackOff()

	want := []time.Duration{1, 2, 4, 8, 10, 10}
	var prev time.Duration
	for i, w := range want {
		got := b.NextBackOff()
		if got != w*time.Second {
			t.Fatalf("step %d: expected %v, got %v", i, w*time.Second, got)
		}
		if got < prev {
			t.Fatalf("step %d: interval decreased from %v to %v", i, prev, got)
		}
		prev = got
	}

	b.Reset()
	if got := b.NextBackOff(); got != time.Second {
		t.Fatalf("expected reset to %v, got %v", time.Second, got)
	}
}
