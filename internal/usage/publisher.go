// Package usage publishes successful credit debits to a Redis stream for
// downstream analytics.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/viralgo/credits/internal/metrics"
)

const (
	// StreamKey is the Redis stream for usage events.
	StreamKey = "stream:credit_usage"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond
)

// Event is one debit in compact stream form.
type Event struct {
	UserID    string `json:"uid"`
	Action    string `json:"a"`
	Cost      int    `json:"c"`
	Remaining int    `json:"r"`
	Status    string `json:"s"`
	At        int64  `json:"t"` // Unix milliseconds
}

// Sink receives usage events. The ledger calls it after a committed debit.
type Sink interface {
	PublishAsync(event Event)
}

// Publisher enqueues usage events to a Redis stream.
type Publisher struct {
	redis   redis.UniversalClient
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new usage event publisher.
func NewPublisher(client redis.UniversalClient, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "usage.publisher"),
		metrics: recorder,
	}
}

// Publish adds a usage event to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, event Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	id, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged but not returned (fire-and-forget).
func (p *Publisher) PublishAsync(event Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, event)
		if err != nil {
			p.logger.Warn("failed to publish usage event",
				"user_id", event.UserID,
				"action", event.Action,
				"error", err,
			)
			p.metrics.IncUsagePublished("dropped")
			return
		}

		p.logger.Debug("usage event published",
			"user_id", event.UserID,
			"stream_id", streamID,
		)
		p.metrics.IncUsagePublished("success")
	}()
}

// Discard drops every event.
type Discard struct{}

// PublishAsync does nothing.
func (Discard) PublishAsync(Event) {}
