package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/viralgo/credits/internal/billing"
)

// Memory is an in-process Journal and CustomerIndex.
type Memory struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	byEvent   map[string]string
	customers map[string]string
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{
		entries:   make(map[string]*Entry),
		byEvent:   make(map[string]string),
		customers: make(map[string]string),
	}
}

func eventKey(provider, id string) string { return provider + "/" + id }

// Record stores evt once per provider event id.
func (m *Memory) Record(_ context.Context, evt *billing.Event) (*Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := eventKey(evt.Provider, evt.ID)
	if id, ok := m.byEvent[key]; ok {
		c := *m.entries[id]
		return &c, true, nil
	}

	e := NewEntry(evt, time.Now())
	m.entries[e.ID] = e
	m.byEvent[key] = e.ID
	c := *e
	return &c, false, nil
}

// MarkProcessed sets the final status of an entry.
func (m *Memory) MarkProcessed(_ context.Context, id string, status Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	e.Status = status
	e.Error = errMsg
	e.ProcessedAt = &now
	return nil
}

// ListByUser lists a user's events, newest first.
func (m *Memory) ListByUser(_ context.Context, userID string, statuses []Status, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	want := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	m.mu.Lock()
	var out []*Entry
	for _, e := range m.entries {
		if e.UserID != userID {
			continue
		}
		if len(want) > 0 && !want[e.Status] {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	m.mu.Unlock()

	// ulids sort by creation time
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PutCustomer stores a customer mapping. The first mapping for a customer wins.
func (m *Memory) PutCustomer(_ context.Context, provider, customerID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := eventKey(provider, customerID)
	if _, ok := m.customers[key]; !ok {
		m.customers[key] = userID
	}
	return nil
}

// LookupUser resolves the user of a billing customer.
func (m *Memory) LookupUser(_ context.Context, provider, customerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.customers[eventKey(provider, customerID)]
	if !ok {
		return "", ErrNotFound
	}
	return userID, nil
}
