package pipeline

import (
	"context"
	"errors"
	"testing"
)

func TestWithRetryStopsOnAccept(t *testing.T) {
	calls := 0
	got, ok, err := WithRetry(context.Background(), 3,
		func(_ context.Context, attempt int) (int, error) {
			calls++
			return attempt * 10, nil
		},
		func(_ context.Context, _ int, v int) (bool, error) { return v >= 20, nil },
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || got != 20 || calls != 2 {
		t.Fatalf("got=%d ok=%v calls=%d", got, ok, calls)
	}
}

func TestWithRetryReturnsLastResultWhenExhausted(t *testing.T) {
	calls := 0
	got, ok, err := WithRetry(context.Background(), 2,
		func(_ context.Context, attempt int) (string, error) {
			calls++
			if attempt == 1 {
				return "first", nil
			}
			return "second", nil
		},
		func(context.Context, int, string) (bool, error) { return false, nil },
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected result not to be accepted")
	}
	if got != "second" || calls != 2 {
		t.Fatalf("got=%q calls=%d", got, calls)
	}
}

func TestWithRetryPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")

	_, _, err := WithRetry(context.Background(), 2,
		func(context.Context, int) (int, error) { return 0, boom },
		func(context.Context, int, int) (bool, error) {
			t.Fatalf("accept must not run after an action error")
			return false, nil
		},
	)
	if !errors.Is(err, boom) {
		t.Fatalf("expected action error, got %v", err)
	}

	calls := 0
	_, _, err = WithRetry(context.Background(), 2,
		func(context.Context, int) (int, error) {
			calls++
			return 1, nil
		},
		func(context.Context, int, int) (bool, error) { return false, boom },
	)
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected predicate error after one call, got %v (calls=%d)", err, calls)
	}
}

func TestWithRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, _, err := WithRetry(ctx, 5,
		func(context.Context, int) (int, error) {
			calls++
			cancel()
			return 0, nil
		},
		func(context.Context, int, int) (bool, error) { return false, nil },
	)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one attempt before cancellation, got %d", calls)
	}
}

func TestWithRetryClampsAttempts(t *testing.T) {
	calls := 0
	_, _, _ = WithRetry(context.Background(), 0,
		func(context.Context, int) (int, error) {
			calls++
			return 0, nil
		},
		func(context.Context, int, int) (bool, error) { return false, nil },
	)
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}
