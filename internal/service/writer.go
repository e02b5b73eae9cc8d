package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/viralgo/credits/internal/clock"
	"github.com/viralgo/credits/internal/metrics"
	"github.com/viralgo/credits/internal/model"
	"github.com/viralgo/credits/internal/store"
)

// DefaultMaxAttempts bounds read-verify-write attempts per operation.
const DefaultMaxAttempts = 3

// conflictDelays are the base pauses after a lost conditional write.
// Attempt 1: 10ms, attempt 2: 25ms, then 50ms.
var conflictDelays = []time.Duration{
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
}

// jitterFactor is the ±fraction of jitter applied to conflict delays.
const jitterFactor = 0.5

// conflictDelay returns the pause before retrying after attempt (0-indexed).
func conflictDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(conflictDelays) {
		attempt = len(conflictDelays) - 1
	}

	base := conflictDelays[attempt]
	jitterRange := float64(base) * jitterFactor
	jitter := (rand.Float64()*2 - 1) * jitterRange
	return time.Duration(float64(base) + jitter)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mutation edits rec in place. created is true when rec was just built for a
// user without a stored record. It returns whether rec must be written.
type mutation func(rec *model.Record, created bool, now time.Time) (write bool, err error)

// recordWriter runs read-modify-write cycles against a RecordStore with
// conditional writes and a bounded number of attempts.
type recordWriter struct {
	store       store.RecordStore
	clock       clock.Clock
	metrics     metrics.Recorder
	logger      *slog.Logger
	maxAttempts int
	newRecord   func(userID string, now time.Time) *model.Record
	sleep       func(ctx context.Context, d time.Duration) error
}

// apply reads the user's record, runs fn and writes the result conditioned on
// the record that was read. A lost update restarts from the read. It returns
// the record as stored after the operation.
func (w *recordWriter) apply(ctx context.Context, op, userID string, fn mutation) (*model.Record, error) {
	for attempt := 0; ; attempt++ {
		now := w.clock.Now().UTC()

		current, err := w.store.Get(ctx, userID)
		created := false
		switch {
		case errors.Is(err, store.ErrNotFound):
			current, created = nil, true
		case err != nil:
			return nil, err
		}

		var next *model.Record
		if created {
			next = w.newRecord(userID, now)
		} else {
			next = current.Clone()
		}

		write, err := fn(next, created, now)
		if err != nil {
			return nil, err
		}
		if !write && !created {
			return current, nil
		}

		written, err := w.store.Update(ctx, userID, current, next)
		if err == nil {
			w.verify(ctx, op, userID, written)
			return written, nil
		}

		switch {
		case errors.Is(err, store.ErrPreconditionFailed):
			w.metrics.IncConflict(op)
			w.logger.Debug("conditional write lost, retrying",
				"operation", op,
				"user_id", userID,
				"attempt", attempt+1,
			)
			if attempt+1 >= w.maxAttempts {
				return nil, fmt.Errorf("%s: %w", op, ErrConflict)
			}
			if err := w.sleep(ctx, conflictDelay(attempt)); err != nil {
				return nil, err
			}
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%s: %w: %w", op, ErrWriteOutcomeUnknown, err)
		default:
			return nil, err
		}
	}
}

// verify re-reads after a write on stores whose preconditions are not atomic.
// A mismatch means a concurrent writer overwrote this one; it is reported and
// never retried, since the write may already have been observed.
func (w *recordWriter) verify(ctx context.Context, op, userID string, written *model.Record) {
	if w.store.Capabilities().AtomicPreconditions {
		return
	}
	got, err := w.store.Get(ctx, userID)
	if err != nil {
		w.logger.Warn("post-write verification read failed",
			"operation", op,
			"user_id", userID,
			"error", err,
		)
		return
	}
	if !got.Equal(written) {
		w.metrics.IncSupersededWrite(op)
		w.logger.Warn("write superseded by concurrent writer",
			"operation", op,
			"user_id", userID,
			"written_version", written.Version,
			"stored_version", got.Version,
			"stored_credits", got.Credits,
		)
	}
}
