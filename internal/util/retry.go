package util

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times, sleeping backoff between failures.
// The last failure returns immediately instead of burning a final backoff,
// and cancellation during a backoff wins over the pending attempt.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
