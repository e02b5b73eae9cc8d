// Package model defines domain entities for the application.
package model

import (
	"time"
)

// SubscriptionStatus is the entitlement state of a user's paid plan.
type SubscriptionStatus string

const (
	SubscriptionNone     SubscriptionStatus = "none"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionInactive SubscriptionStatus = "inactive"
)

// IsValid reports whether s is one of the known statuses.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionNone, SubscriptionActive, SubscriptionInactive:
		return true
	}
	return false
}

// Record is the per-user credit and subscription state.
// It is persisted as one metadata blob; writers always replace the whole blob.
type Record struct {
	UserID              string
	Credits             int
	LastResetAt         time.Time
	SubscriptionStatus  SubscriptionStatus
	SubscriptionID      string
	BillingCustomerID   string
	LastAppliedEventSeq int64

	// Version is incremented on every write and used as the optimistic
	// concurrency token by the record stores.
	Version int64
}

// NewRecord builds the record a user gets on first read.
func NewRecord(userID string, credits int, now time.Time) *Record {
	return &Record{
		UserID:             userID,
		Credits:            credits,
		LastResetAt:        now.UTC(),
		SubscriptionStatus: SubscriptionNone,
	}
}

// Clone returns a copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Equal reports whether two records hold the same state.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.UserID == o.UserID &&
		r.Credits == o.Credits &&
		r.LastResetAt.Equal(o.LastResetAt) &&
		r.SubscriptionStatus == o.SubscriptionStatus &&
		r.SubscriptionID == o.SubscriptionID &&
		r.BillingCustomerID == o.BillingCustomerID &&
		r.LastAppliedEventSeq == o.LastAppliedEventSeq &&
		r.Version == o.Version
}

// Status returns the subscription status, treating an empty value as none.
func (r *Record) Status() SubscriptionStatus {
	if r.SubscriptionStatus == "" {
		return SubscriptionNone
	}
	return r.SubscriptionStatus
}
