package metrics

import (
	"sync"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	Debits           map[string]uint64
	Resets           map[string]uint64
	Grants           uint64
	Conflicts        map[string]uint64
	SupersededWrites map[string]uint64
	WebhookEvents    map[string]uint64 // keyed "type/outcome"
	StoreCalls       map[string]uint64
	StoreDurationNs  map[string]int64
	UsagePublished   map[string]uint64
	UsageProcessed   map[string]uint64
	UsageQueueDepth  int64
	UsageBatches     uint64
	RateLimited      map[string]uint64
}

// InMemoryRecorder stores metrics in memory for tests and the JSON metrics endpoint.
type InMemoryRecorder struct {
	mu sync.Mutex
	s  Snapshot
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{s: Snapshot{
		Debits:           map[string]uint64{},
		Resets:           map[string]uint64{},
		Conflicts:        map[string]uint64{},
		SupersededWrites: map[string]uint64{},
		WebhookEvents:    map[string]uint64{},
		StoreCalls:       map[string]uint64{},
		StoreDurationNs:  map[string]int64{},
		UsagePublished:   map[string]uint64{},
		UsageProcessed:   map[string]uint64{},
		RateLimited:      map[string]uint64{},
	}}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Debits:           copyCounts(m.s.Debits),
		Resets:           copyCounts(m.s.Resets),
		Grants:           m.s.Grants,
		Conflicts:        copyCounts(m.s.Conflicts),
		SupersededWrites: copyCounts(m.s.SupersededWrites),
		WebhookEvents:    copyCounts(m.s.WebhookEvents),
		StoreCalls:       copyCounts(m.s.StoreCalls),
		StoreDurationNs:  copyCounts(m.s.StoreDurationNs),
		UsagePublished:   copyCounts(m.s.UsagePublished),
		UsageProcessed:   copyCounts(m.s.UsageProcessed),
		UsageQueueDepth:  m.s.UsageQueueDepth,
		UsageBatches:     m.s.UsageBatches,
		RateLimited:      copyCounts(m.s.RateLimited),
	}
}

func (m *InMemoryRecorder) inc(counts map[string]uint64, key string) {
	m.mu.Lock()
	counts[key]++
	m.mu.Unlock()
}

// IncDebit counts a debit attempt by outcome.
func (m *InMemoryRecorder) IncDebit(outcome string) { m.inc(m.s.Debits, outcome) }

// IncReset counts an applied daily reset.
func (m *InMemoryRecorder) IncReset(trigger string) { m.inc(m.s.Resets, trigger) }

// IncGrant counts a test top-up.
func (m *InMemoryRecorder) IncGrant() {
	m.mu.Lock()
	m.s.Grants++
	m.mu.Unlock()
}

// IncConflict counts a lost conditional write.
func (m *InMemoryRecorder) IncConflict(operation string) { m.inc(m.s.Conflicts, operation) }

// IncSupersededWrite counts a write overwritten before it could be verified.
func (m *InMemoryRecorder) IncSupersededWrite(operation string) {
	m.inc(m.s.SupersededWrites, operation)
}

// IncWebhookEvent counts a processed billing event.
func (m *InMemoryRecorder) IncWebhookEvent(eventType, outcome string) {
	m.inc(m.s.WebhookEvents, eventType+"/"+outcome)
}

// ObserveStoreDuration records a store call.
func (m *InMemoryRecorder) ObserveStoreDuration(operation string, duration time.Duration) {
	m.mu.Lock()
	m.s.StoreCalls[operation]++
	m.s.StoreDurationNs[operation] += duration.Nanoseconds()
	m.mu.Unlock()
}

// IncUsagePublished counts usage stream publishes.
func (m *InMemoryRecorder) IncUsagePublished(status string) { m.inc(m.s.UsagePublished, status) }

// IncUsageProcessed counts rolled-up usage entries.
func (m *InMemoryRecorder) IncUsageProcessed(status string) { m.inc(m.s.UsageProcessed, status) }

// SetUsageQueueDepth records the consumer group backlog.
func (m *InMemoryRecorder) SetUsageQueueDepth(depth int64) {
	m.mu.Lock()
	m.s.UsageQueueDepth = depth
	m.mu.Unlock()
}

// ObserveUsageBatch counts a committed rollup batch.
func (m *InMemoryRecorder) ObserveUsageBatch(size int, duration time.Duration) {
	m.mu.Lock()
	m.s.UsageBatches++
	m.mu.Unlock()
}

// IncRateLimited counts rejected requests.
func (m *InMemoryRecorder) IncRateLimited(scope string) { m.inc(m.s.RateLimited, scope) }

func copyCounts[V uint64 | int64](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
