package poller

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestPollReturnsTerminalObservation(t *testing.T) {
	p := New(time.Millisecond, 10).WithSleep(noSleep)

	attempts := 0
	result, err := Poll(context.Background(), p, func(ctx context.Context) (string, bool, error) {
		attempts++
		if attempts == 3 {
			return "completed", true, nil
		}
		return "processing", false, nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result != "completed" {
		t.Fatalf("expected terminal observation, got %q", result)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 fetches, got %d", attempts)
	}
}

func TestPollExhaustsAttempts(t *testing.T) {
	p := New(time.Millisecond, 4).WithSleep(noSleep)

	attempts := 0
	result, err := Poll(context.Background(), p, func(ctx context.Context) (string, bool, error) {
		attempts++
		return "processing", false, nil
	})

	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if attempts != 4 {
		t.Fatalf("expected 4 fetches, got %d", attempts)
	}
	if result != "processing" {
		t.Fatalf("expected last observation, got %q", result)
	}
}

func TestPollStopsOnFetchError(t *testing.T) {
	p := New(time.Millisecond, 10).WithSleep(noSleep)

	boom := errors.New("boom")
	attempts := 0
	_, err := Poll(context.Background(), p, func(ctx context.Context) (int, bool, error) {
		attempts++
		return 0, false, boom
	})

	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("fetch errors should not be retried, got %d attempts", attempts)
	}
}

func TestPollSleepsBetweenAttempts(t *testing.T) {
	p := New(7*time.Millisecond, 5)

	sleeps := 0
	p.WithSleep(func(ctx context.Context, d time.Duration) error {
		if d != 7*time.Millisecond {
			t.Fatalf("unexpected sleep interval %v", d)
		}
		sleeps++
		return nil
	})

	_, err := Poll(context.Background(), p, func(ctx context.Context) (struct{}, bool, error) {
		return struct{}{}, false, nil
	})

	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if sleeps != 4 {
		t.Fatalf("expected a sleep between each of 5 attempts, got %d", sleeps)
	}
}

func TestPollHonorsContextCancellation(t *testing.T) {
	p := New(time.Minute, 10)

	ctx, cancel := context.WithCancel(context.Background())
	p.WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})

	_, err := Poll(ctx, p, func(ctx context.Context) (string, bool, error) {
		return "processing", false, nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	p := New(0, 0)
	if p.Interval != 2*time.Second {
		t.Fatalf("unexpected default interval %v", p.Interval)
	}
	if p.MaxAttempts != 30 {
		t.Fatalf("unexpected default attempt budget %d", p.MaxAttempts)
	}
}
