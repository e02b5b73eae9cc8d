// Package memory is an in-process RecordStore used in development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/viralgo/credits/internal/model"
	"github.com/viralgo/credits/internal/store"
)

// Store keeps records in a map guarded by a mutex.
type Store struct {
	mu      sync.Mutex
	records map[string]*model.Record

	// lastWriteWins disables precondition checks, modelling a metadata API
	// that blindly overwrites.
	lastWriteWins bool
}

// Option configures a Store.
type Option func(*Store)

// WithLastWriteWins makes Update ignore preconditions.
func WithLastWriteWins() Option {
	return func(s *Store) { s.lastWriteWins = true }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{records: make(map[string]*model.Record)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the stored record.
func (s *Store) Get(ctx context.Context, userID string) (*model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Clone(), nil
}

// Update stores next if the current record still matches expected.
func (s *Store) Update(ctx context.Context, userID string, expected, next *model.Record) (*model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.records[userID]
	if !s.lastWriteWins && !store.Matches(current, expected) {
		return nil, store.ErrPreconditionFailed
	}

	written := next.Clone()
	written.UserID = userID
	if current != nil && s.lastWriteWins {
		written.Version = current.Version + 1
	} else {
		written.Version = store.NextVersion(expected)
	}
	s.records[userID] = written
	return written.Clone(), nil
}

// Capabilities reports atomic preconditions unless running last-write-wins.
func (s *Store) Capabilities() store.Capabilities {
	return store.Capabilities{AtomicPreconditions: !s.lastWriteWins}
}

// Put seeds a record unconditionally.
func (s *Store) Put(rec *model.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = rec.Clone()
}
