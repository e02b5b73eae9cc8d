// Package journal records every verified billing event and the mapping from
// billing customers to users.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/viralgo/credits/internal/billing"
)

// ErrNotFound is returned when a journal entry or customer mapping is absent.
var ErrNotFound = errors.New("journal entry not found")

// Status is the processing state of a journaled event.
type Status string

const (
	StatusReceived Status = "received"
	StatusApplied  Status = "applied"
	StatusStale    Status = "stale"
	StatusIgnored  Status = "ignored"
	StatusFailed   Status = "failed"
)

// Entry is one journaled billing event.
type Entry struct {
	ID              string
	Provider        string
	ProviderEventID string
	EventType       string
	UserID          string
	CustomerID      string
	SubscriptionID  string
	Seq             int64
	Status          Status
	Error           string
	Payload         []byte
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
}

// Journal stores billing events.
type Journal interface {
	// Record stores evt. When the provider already delivered an event with
	// the same id, the existing entry is returned with duplicate set.
	Record(ctx context.Context, evt *billing.Event) (entry *Entry, duplicate bool, err error)
	MarkProcessed(ctx context.Context, id string, status Status, errMsg string) error
	// ListByUser returns the newest entries first. An empty statuses slice matches all.
	ListByUser(ctx context.Context, userID string, statuses []Status, limit int) ([]*Entry, error)
}

// CustomerIndex maps billing customers to users.
type CustomerIndex interface {
	PutCustomer(ctx context.Context, provider, customerID, userID string) error
	// LookupUser returns ErrNotFound for an unknown customer.
	LookupUser(ctx context.Context, provider, customerID string) (string, error)
}

// NewEntry builds a received entry for evt.
func NewEntry(evt *billing.Event, now time.Time) *Entry {
	return &Entry{
		ID:              ulid.Make().String(),
		Provider:        evt.Provider,
		ProviderEventID: evt.ID,
		EventType:       evt.ProviderType,
		UserID:          evt.UserID,
		CustomerID:      evt.CustomerID,
		SubscriptionID:  evt.SubscriptionID,
		Seq:             evt.Seq,
		Status:          StatusReceived,
		Payload:         evt.Payload,
		ReceivedAt:      now.UTC(),
	}
}

// ParseStatus validates a status filter value.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusReceived, StatusApplied, StatusStale, StatusIgnored, StatusFailed:
		return st, true
	}
	return "", false
}
