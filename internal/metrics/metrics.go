// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus or keep them in memory.
type Recorder interface {
	// Ledger metrics
	IncDebit(outcome string) // outcome: "success", "insufficient", "invalid", "conflict", "error"
	IncReset(trigger string) // trigger: "read", "debit", "initialize"
	IncGrant()
	IncConflict(operation string)
	IncSupersededWrite(operation string)

	// Billing metrics
	IncWebhookEvent(eventType, outcome string)

	// Store metrics
	ObserveStoreDuration(operation string, duration time.Duration)

	// Usage stream metrics
	IncUsagePublished(status string) // status: "success" or "dropped"
	IncUsageProcessed(status string) // status: "success", "failed", "dead_lettered"
	SetUsageQueueDepth(depth int64)
	ObserveUsageBatch(size int, duration time.Duration)

	IncRateLimited(scope string)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
