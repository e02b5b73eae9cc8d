// Package store defines the record store contract used by the ledger and
// the reconciler, plus a client-side decorator that bounds and retries reads.
package store

import (
	"context"
	"errors"

	"github.com/viralgo/credits/internal/model"
)

var (
	// ErrNotFound is returned when no record exists for the user.
	ErrNotFound = errors.New("record not found")
	// ErrPreconditionFailed is returned when the stored record no longer matches
	// the record the caller read before writing.
	ErrPreconditionFailed = errors.New("record precondition failed")
	// ErrUnavailable is returned when the backend cannot be reached or times out.
	ErrUnavailable = errors.New("record store unavailable")
)

// Capabilities describes the guarantees a backend gives for conditional writes.
type Capabilities struct {
	// AtomicPreconditions is true when Update compares and writes in one
	// atomic step. When false, the precondition is only checked shortly
	// before the write and a concurrent writer may still slip in between.
	AtomicPreconditions bool
}

// RecordStore persists one credit record per user.
type RecordStore interface {
	// Get returns the stored record or ErrNotFound.
	Get(ctx context.Context, userID string) (*model.Record, error)

	// Update replaces the stored record with next if the stored record still
	// matches expected. A nil expected means the record must not exist yet.
	// The returned record carries the new version.
	Update(ctx context.Context, userID string, expected, next *model.Record) (*model.Record, error)

	Capabilities() Capabilities
}

// NextVersion returns the version the record written after expected must carry.
func NextVersion(expected *model.Record) int64 {
	if expected == nil {
		return 1
	}
	return expected.Version + 1
}

// Matches reports whether current still satisfies the precondition expected.
func Matches(current, expected *model.Record) bool {
	if expected == nil {
		return current == nil
	}
	if current == nil {
		return false
	}
	return current.Version == expected.Version
}
