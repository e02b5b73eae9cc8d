package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/viralgo/credits/internal/clock"
	"github.com/viralgo/credits/internal/entitlement"
	"github.com/viralgo/credits/internal/metrics"
	"github.com/viralgo/credits/internal/model"
	"github.com/viralgo/credits/internal/store"
	"github.com/viralgo/credits/internal/store/memory"
	"github.com/viralgo/credits/internal/testutil"
	"github.com/viralgo/credits/internal/usage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var newYork = mustLocation("America/New_York")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func newTestPolicy(t *testing.T) *entitlement.Policy {
	t.Helper()
	p, err := entitlement.NewPolicy(entitlement.DefaultConfig(), clock.NewResolverIn(newYork))
	require.NoError(t, err)
	return p
}

func noSleep(context.Context, time.Duration) error { return nil }

type ledgerEnv struct {
	ledger  *Ledger
	store   *memory.Store
	clock   *fakeClock
	metrics *metrics.InMemoryRecorder
	usage   *recordingSink
}

func newLedgerEnv(t *testing.T, records store.RecordStore, now time.Time) *ledgerEnv {
	t.Helper()
	mem, _ := records.(*memory.Store)
	if records == nil {
		mem = memory.New()
		records = mem
	}
	env := &ledgerEnv{
		store:   mem,
		clock:   newFakeClock(now),
		metrics: metrics.NewInMemory(),
		usage:   &recordingSink{},
	}
	env.ledger = NewLedger(records, newTestPolicy(t), env.clock, LedgerConfig{},
		testutil.DiscardLogger(), env.metrics,
		WithSleep(noSleep), WithUsageSink(env.usage))
	return env
}

type recordingSink struct {
	mu     sync.Mutex
	events []usage.Event
}

func (s *recordingSink) PublishAsync(e usage.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) Events() []usage.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]usage.Event(nil), s.events...)
}

// scriptedStore wraps a RecordStore and lets tests intercept Update.
type scriptedStore struct {
	store.RecordStore
	mu       sync.Mutex
	updates  int
	onUpdate func(n int, userID string, expected, next *model.Record) (*model.Record, bool, error)
	atomic   *bool
}

func (s *scriptedStore) Update(ctx context.Context, userID string, expected, next *model.Record) (*model.Record, error) {
	s.mu.Lock()
	s.updates++
	n := s.updates
	hook := s.onUpdate
	s.mu.Unlock()

	if hook != nil {
		if rec, handled, err := hook(n, userID, expected, next); handled {
			return rec, err
		}
	}
	return s.RecordStore.Update(ctx, userID, expected, next)
}

func (s *scriptedStore) Capabilities() store.Capabilities {
	if s.atomic != nil {
		return store.Capabilities{AtomicPreconditions: *s.atomic}
	}
	return s.RecordStore.Capabilities()
}

func (s *scriptedStore) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}
