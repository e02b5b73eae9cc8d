package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/viralgo/credits/internal/metrics"
	"github.com/viralgo/credits/internal/model"
)

const (
	// ConsumerGroup is the Redis consumer group that rolls up usage.
	ConsumerGroup = "usage_rollup"

	// DeadLetterStreamKey receives entries that cannot be decoded.
	DeadLetterStreamKey = "stream:credit_usage:dlq"

	DefaultBatchSize       = 500
	DefaultBlockTimeout    = 5 * time.Second
	DefaultMaxRetries      = 3
	DefaultRetryBase       = time.Second
	DefaultClaimInterval   = 10 * time.Second
	DefaultClaimIdle       = 30 * time.Second
	DefaultMetricsInterval = 5 * time.Second

	deadLetterMaxLen = 10000
)

// Repository persists usage events and their daily rollups.
type Repository interface {
	BulkInsert(ctx context.Context, events []*model.UsageEvent) error
	UpdateDailyUsage(ctx context.Context, events []*model.UsageEvent) error
}

// NewConsumerID returns a consumer name unique to this process.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
}

// Worker consumes the usage stream and writes daily rollups.
type Worker struct {
	redis           redis.UniversalClient
	repo            Repository
	logger          *slog.Logger
	metrics         metrics.Recorder
	consumerID      string
	batchSize       int
	blockTimeout    time.Duration
	maxRetries      uint64
	retryBase       time.Duration
	claimInterval   time.Duration
	claimIdle       time.Duration
	metricsInterval time.Duration
	claimStartID    string
	lastClaim       time.Time
	lastMetrics     time.Time

	started  bool
	draining bool
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

// NewWorker creates a usage rollup worker.
func NewWorker(client redis.UniversalClient, repo Repository, logger *slog.Logger, consumerID string, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		redis:           client,
		repo:            repo,
		logger:          logger.With("component", "usage.worker", "consumer_id", consumerID),
		metrics:         recorder,
		consumerID:      consumerID,
		batchSize:       DefaultBatchSize,
		blockTimeout:    DefaultBlockTimeout,
		maxRetries:      DefaultMaxRetries,
		retryBase:       DefaultRetryBase,
		claimInterval:   DefaultClaimInterval,
		claimIdle:       DefaultClaimIdle,
		metricsInterval: DefaultMetricsInterval,
		claimStartID:    "0-0",
	}
}

// SetBatchSize overrides the default batch size.
func (w *Worker) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetBlockTimeout overrides how long a read blocks waiting for entries.
func (w *Worker) SetBlockTimeout(timeout time.Duration) {
	if timeout > 0 {
		w.blockTimeout = timeout
	}
}

// SetRetryBase overrides the first backoff delay for failed batches.
func (w *Worker) SetRetryBase(base time.Duration) {
	if base > 0 {
		w.retryBase = base
	}
}

// SetClaimIdle overrides the idle time before pending entries are reclaimed.
func (w *Worker) SetClaimIdle(idle time.Duration) {
	if idle > 0 {
		w.claimIdle = idle
	}
}

// Run consumes the stream until ctx is cancelled or Shutdown is called.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("worker already started")
	}
	w.started = true
	w.done = make(chan struct{})
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	defer close(w.done)

	if err := w.ensureConsumerGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	w.logger.Info("usage worker started")

	for {
		w.mu.Lock()
		draining := w.draining
		w.mu.Unlock()
		if draining {
			w.logger.Info("usage worker draining, stopping")
			return nil
		}

		select {
		case <-ctx.Done():
			w.logger.Info("usage worker stopping")
			return nil
		default:
		}

		if err := w.processOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			w.logger.Error("process error", "error", err)
			timer := time.NewTimer(time.Second)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}
}

// Shutdown stops the worker after its in-flight batch.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.draining = true
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	w.logger.Info("usage worker shutdown initiated")
	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
		w.logger.Info("usage worker shutdown complete")
		return nil
	case <-ctx.Done():
		w.logger.Warn("usage worker shutdown timed out")
		return ctx.Err()
	}
}

func (w *Worker) ensureConsumerGroup(ctx context.Context) error {
	err := w.redis.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// processOnce handles a single batch, preferring reclaimed entries.
func (w *Worker) processOnce(ctx context.Context) error {
	w.maybeUpdateQueueDepth(ctx)

	messages, err := w.maybeClaimPending(ctx)
	if err != nil {
		w.logger.Warn("failed to claim pending entries", "error", err)
	}
	if len(messages) == 0 {
		messages, err = w.readBatch(ctx)
		if err != nil {
			return err
		}
	}
	if len(messages) == 0 {
		return nil
	}

	events, ids := w.parseMessages(ctx, messages)
	if len(events) > 0 {
		if err := w.processBatchWithRetry(ctx, events); err != nil {
			w.logger.Error("batch processing failed after retries",
				"batch_size", len(events),
				"error", err,
			)
			// Left pending; a later claim picks the entries up again.
			return err
		}
	}
	return w.ackMessages(ctx, ids)
}

func (w *Worker) maybeClaimPending(ctx context.Context) ([]redis.XMessage, error) {
	if w.claimInterval <= 0 || w.claimIdle <= 0 {
		return nil, nil
	}
	if !w.lastClaim.IsZero() && time.Since(w.lastClaim) < w.claimInterval {
		return nil, nil
	}
	w.lastClaim = time.Now()

	messages, start, err := w.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		MinIdle:  w.claimIdle,
		Start:    w.claimStartID,
		Count:    int64(w.batchSize),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if start != "" {
		w.claimStartID = start
	}
	return messages, nil
}

func (w *Worker) maybeUpdateQueueDepth(ctx context.Context) {
	if w.metricsInterval <= 0 {
		return
	}
	if !w.lastMetrics.IsZero() && time.Since(w.lastMetrics) < w.metricsInterval {
		return
	}
	w.lastMetrics = time.Now()

	groups, err := w.redis.XInfoGroups(ctx, StreamKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		w.logger.Warn("failed to read stream group info", "error", err)
		return
	}
	for _, group := range groups {
		if group.Name == ConsumerGroup {
			w.metrics.SetUsageQueueDepth(group.Pending + group.Lag)
			return
		}
	}
}

func (w *Worker) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(w.batchSize),
		Block:    w.blockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(streams) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	return streams[0].Messages, nil
}

// parseMessages decodes entries. Entries that fail to decode or validate are
// dead-lettered but still returned in ids so they get acknowledged.
func (w *Worker) parseMessages(ctx context.Context, messages []redis.XMessage) ([]*model.UsageEvent, []string) {
	events := make([]*model.UsageEvent, 0, len(messages))
	ids := make([]string, 0, len(messages))

	for _, msg := range messages {
		ids = append(ids, msg.ID)

		payload, ok := msg.Values["payload"].(string)
		if !ok {
			w.deadLetter(ctx, msg, "invalid_format", "payload field missing or not a string")
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			w.deadLetter(ctx, msg, "unmarshal_error", err.Error())
			continue
		}
		if err := Validate(event); err != nil {
			w.deadLetter(ctx, msg, "validation_error", err.Error())
			continue
		}

		events = append(events, &model.UsageEvent{
			ID:        ulid.Make().String(),
			EventID:   msg.ID,
			UserID:    event.UserID,
			Action:    event.Action,
			Cost:      event.Cost,
			Remaining: event.Remaining,
			Status:    model.SubscriptionStatus(event.Status),
			DebitedAt: time.UnixMilli(event.At).UTC(),
		})
	}
	return events, ids
}

func (w *Worker) deadLetter(ctx context.Context, msg redis.XMessage, reason, detail string) {
	w.logger.Warn("dead-lettering usage entry",
		"message_id", msg.ID,
		"reason", reason,
		"detail", detail,
	)

	err := w.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: deadLetterMaxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"original_id":      msg.ID,
			"reason":           reason,
			"detail":           detail,
			"payload":          fmt.Sprint(msg.Values["payload"]),
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		w.logger.Error("failed to write to dead-letter stream", "message_id", msg.ID, "error", err)
	}
	w.metrics.IncUsageProcessed("dead_lettered")
}

func (w *Worker) processBatchWithRetry(ctx context.Context, events []*model.UsageEvent) error {
	b := retry.NewExponential(w.retryBase)
	b = retry.WithMaxRetries(w.maxRetries-1, b)

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := w.processBatch(ctx, events); err != nil {
			w.logger.Warn("batch processing failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		for range events {
			w.metrics.IncUsageProcessed("failed")
		}
		return err
	}
	return nil
}

func (w *Worker) processBatch(ctx context.Context, events []*model.UsageEvent) error {
	start := time.Now()

	if err := w.repo.BulkInsert(ctx, events); err != nil {
		return fmt.Errorf("bulk insert: %w", err)
	}
	if err := w.repo.UpdateDailyUsage(ctx, events); err != nil {
		return fmt.Errorf("update daily usage: %w", err)
	}

	w.logger.Info("usage batch processed",
		"events_count", len(events),
		"duration_ms", float64(time.Since(start).Microseconds())/1000,
	)
	w.metrics.ObserveUsageBatch(len(events), time.Since(start))
	for range events {
		w.metrics.IncUsageProcessed("success")
	}
	return nil
}

func (w *Worker) ackMessages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := w.redis.XAck(ctx, StreamKey, ConsumerGroup, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}
