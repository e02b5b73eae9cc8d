package store

import (
	"context"
	"time"

	"github.com/viralgo/credits/internal/metrics"
	"github.com/viralgo/credits/internal/model"
)

// Instrumented records the latency of every call to the wrapped store.
type Instrumented struct {
	next    RecordStore
	metrics metrics.Recorder
}

// WithMetrics decorates next.
func WithMetrics(next RecordStore, recorder metrics.Recorder) *Instrumented {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Instrumented{next: next, metrics: recorder}
}

func (s *Instrumented) Get(ctx context.Context, userID string) (*model.Record, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveStoreDuration("get", time.Since(start)) }()
	return s.next.Get(ctx, userID)
}

func (s *Instrumented) Update(ctx context.Context, userID string, expected, next *model.Record) (*model.Record, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveStoreDuration("update", time.Since(start)) }()
	return s.next.Update(ctx, userID, expected, next)
}

func (s *Instrumented) Capabilities() Capabilities {
	return s.next.Capabilities()
}
