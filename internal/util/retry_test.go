package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryStopsOnFirstSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("fn ran %d times, want 2", calls)
	}
}

func TestRetryReturnsLastErrorWithoutFinalBackoff(t *testing.T) {
	wantErr := errors.New("upload refused")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	// Cancelling on the last attempt distinguishes an immediate return
	// from a post-failure wait, which would surface ctx.Err() instead.
	err := Retry(ctx, 2, time.Millisecond, func() error {
		calls++
		if calls == 2 {
			cancel()
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want the final attempt's error", err)
	}
	if calls != 2 {
		t.Fatalf("fn ran %d times, want 2", calls)
	}
}

func TestRetryHonorsCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, 5, time.Hour, func() error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("fn ran %d times after cancellation, want 1", calls)
	}
}
