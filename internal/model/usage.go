package model

import "time"

// UsageEvent is one committed debit as stored for reporting.
type UsageEvent struct {
	ID        string
	EventID   string // stream entry id, unique per delivery
	UserID    string
	Action    string
	Cost      int
	Remaining int
	Status    SubscriptionStatus
	DebitedAt time.Time
}

// DailyUsage aggregates a user's debits for one UTC day.
type DailyUsage struct {
	UserID       string
	Date         time.Time
	Debits       int64
	CreditsSpent int64
	ByAction     map[string]int64
	UpdatedAt    time.Time
}
