package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/viralgo/credits/internal/model"
)

// RetryConfig bounds store calls made through WithRetry.
type RetryConfig struct {
	// Timeout bounds each individual backend call.
	Timeout time.Duration
	// ReadRetries is the number of extra attempts for reads that fail with ErrUnavailable.
	ReadRetries uint64
	// BaseDelay is the first backoff delay between read attempts.
	BaseDelay time.Duration
}

// DefaultRetryConfig returns the client defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Timeout:     3 * time.Second,
		ReadRetries: 2,
		BaseDelay:   50 * time.Millisecond,
	}
}

// Retrying wraps a RecordStore with per-call timeouts and read retries.
// Writes are never retried here: a write whose outcome is unknown must be
// resolved by the caller re-reading the record.
type Retrying struct {
	next RecordStore
	cfg  RetryConfig
}

// WithRetry decorates next.
func WithRetry(next RecordStore, cfg RetryConfig) *Retrying {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRetryConfig().Timeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryConfig().BaseDelay
	}
	return &Retrying{next: next, cfg: cfg}
}

// Get reads the record, retrying transient failures with jittered exponential backoff.
func (r *Retrying) Get(ctx context.Context, userID string) (*model.Record, error) {
	b := retry.NewExponential(r.cfg.BaseDelay)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithMaxRetries(r.cfg.ReadRetries, b)

	var rec *model.Record
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()

		got, err := r.next.Get(callCtx, userID)
		if err != nil {
			err = classify(callCtx, err)
			if errors.Is(err, ErrUnavailable) && ctx.Err() == nil {
				return retry.RetryableError(err)
			}
			return err
		}
		rec = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update performs a single bounded conditional write.
func (r *Retrying) Update(ctx context.Context, userID string, expected, next *model.Record) (*model.Record, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	rec, err := r.next.Update(callCtx, userID, expected, next)
	if err != nil {
		return nil, classify(callCtx, err)
	}
	return rec, nil
}

// Capabilities reports the wrapped backend's capabilities.
func (r *Retrying) Capabilities() Capabilities {
	return r.next.Capabilities()
}

// classify turns deadline and cancellation errors into ErrUnavailable.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPreconditionFailed) || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnavailable, context.DeadlineExceeded)
	}
	return err
}
