package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"order-engine/internal/domain"
)

// bound applies the per-operation deadline unless the caller already set a
// tighter one.
func bound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// mapTimeout reports an expired deadline as a storage timeout.
func mapTimeout(err error) error {
	if err == nil || errors.Is(err, domain.ErrExternalFailure) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrStorageTimeout, err)
	}
	return err
}

// retryOnConflict runs fn up to attempts times while it fails with
// ErrConflict, backing off with jitter between attempts.
func retryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); !errors.Is(err, domain.ErrConflict) {
			return err
		}
		backoff := time.Duration(i+1)*10*time.Millisecond + time.Duration(rand.Int63n(int64(10*time.Millisecond)))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}
