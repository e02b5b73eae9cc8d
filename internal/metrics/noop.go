package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncDebit is a no-op.
func (n *NoopRecorder) IncDebit(outcome string) {}

// IncReset is a no-op.
func (n *NoopRecorder) IncReset(trigger string) {}

// IncGrant is a no-op.
func (n *NoopRecorder) IncGrant() {}

// IncConflict is a no-op.
func (n *NoopRecorder) IncConflict(operation string) {}

// IncSupersededWrite is a no-op.
func (n *NoopRecorder) IncSupersededWrite(operation string) {}

// IncWebhookEvent is a no-op.
func (n *NoopRecorder) IncWebhookEvent(eventType, outcome string) {}

// ObserveStoreDuration is a no-op.
func (n *NoopRecorder) ObserveStoreDuration(operation string, duration time.Duration) {}

// IncUsagePublished is a no-op.
func (n *NoopRecorder) IncUsagePublished(status string) {}

// IncUsageProcessed is a no-op.
func (n *NoopRecorder) IncUsageProcessed(status string) {}

// SetUsageQueueDepth is a no-op.
func (n *NoopRecorder) SetUsageQueueDepth(depth int64) {}

// ObserveUsageBatch is a no-op.
func (n *NoopRecorder) ObserveUsageBatch(size int, duration time.Duration) {}

// IncRateLimited is a no-op.
func (n *NoopRecorder) IncRateLimited(scope string) {}
