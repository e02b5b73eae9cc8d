package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/viralgo/credits/internal/clock"
	"github.com/viralgo/credits/internal/entitlement"
	"github.com/viralgo/credits/internal/metrics"
	"github.com/viralgo/credits/internal/model"
	"github.com/viralgo/credits/internal/store"
	"github.com/viralgo/credits/internal/usage"
)

// DefaultGrantAmount is the development top-up size.
const DefaultGrantAmount = 10

// Balance is the user-visible credit state.
type Balance struct {
	Credits     int
	LastResetAt time.Time
	Status      model.SubscriptionStatus
}

func balanceOf(r *model.Record) Balance {
	return Balance{
		Credits:     r.Credits,
		LastResetAt: r.LastResetAt,
		Status:      r.Status(),
	}
}

// LedgerConfig tunes the ledger.
type LedgerConfig struct {
	MaxAttempts int
}

// Ledger reads, resets and debits per-user credit balances.
type Ledger struct {
	w       *recordWriter
	policy  *entitlement.Policy
	usage   usage.Sink
	metrics metrics.Recorder
	logger  *slog.Logger
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithUsageSink publishes committed debits to sink.
func WithUsageSink(sink usage.Sink) LedgerOption {
	return func(l *Ledger) { l.usage = sink }
}

// WithSleep overrides the pause between conflict retries.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) LedgerOption {
	return func(l *Ledger) { l.w.sleep = sleep }
}

// NewLedger creates a ledger.
func NewLedger(
	records store.RecordStore,
	policy *entitlement.Policy,
	clk clock.Clock,
	cfg LedgerConfig,
	logger *slog.Logger,
	recorder metrics.Recorder,
	opts ...LedgerOption,
) *Ledger {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if clk == nil {
		clk = clock.System
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	logger = logger.With("component", "ledger")

	l := &Ledger{
		w:       newRecordWriter(records, policy, clk, cfg.MaxAttempts, logger, recorder),
		policy:  policy,
		usage:   usage.Discard{},
		metrics: recorder,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func newRecordWriter(records store.RecordStore, policy *entitlement.Policy, clk clock.Clock, maxAttempts int, logger *slog.Logger, recorder metrics.Recorder) *recordWriter {
	return &recordWriter{
		store:       records,
		clock:       clk,
		metrics:     recorder,
		logger:      logger,
		maxAttempts: maxAttempts,
		newRecord: func(userID string, now time.Time) *model.Record {
			return model.NewRecord(userID, policy.Allowance(model.SubscriptionNone), now)
		},
		sleep: sleepContext,
	}
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUserID
	}
	return nil
}

// applyReset restores the allowance when a new reference day has started.
func (l *Ledger) applyReset(rec *model.Record, now time.Time) bool {
	if !l.policy.IsResetDue(rec.LastResetAt, now) {
		return false
	}
	rec.Credits = l.policy.Allowance(rec.Status())
	rec.LastResetAt = now
	return true
}

// GetBalance returns the current balance, creating the record on first use
// and persisting a pending daily reset.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (Balance, error) {
	if err := validateUserID(userID); err != nil {
		return Balance{}, err
	}

	rec, err := l.w.apply(ctx, "get_balance", userID, func(rec *model.Record, created bool, now time.Time) (bool, error) {
		if created {
			return true, nil
		}
		if l.applyReset(rec, now) {
			l.metrics.IncReset("read")
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return Balance{}, err
	}
	return balanceOf(rec), nil
}

// Debit charges the cost of action against the balance.
// The check and the write are tied together by the store precondition, so
// two concurrent debits can never both spend the same credits.
func (l *Ledger) Debit(ctx context.Context, userID string, action entitlement.Action) (Balance, error) {
	if err := validateUserID(userID); err != nil {
		return Balance{}, err
	}
	cost, err := l.policy.Cost(action)
	if err != nil {
		l.metrics.IncDebit("invalid")
		return Balance{}, err
	}

	var debitedAt time.Time
	rec, err := l.w.apply(ctx, "debit", userID, func(rec *model.Record, created bool, now time.Time) (bool, error) {
		debitedAt = now
		if !created && l.applyReset(rec, now) {
			l.metrics.IncReset("debit")
		}
		if rec.Credits < cost {
			return false, &InsufficientCreditsError{Need: cost, Have: rec.Credits}
		}
		rec.Credits -= cost
		return true, nil
	})
	if err != nil {
		l.metrics.IncDebit(debitOutcome(err))
		return Balance{}, err
	}

	l.metrics.IncDebit("success")
	l.logger.Info("credits debited",
		"user_id", userID,
		"action", action,
		"cost", cost,
		"remaining", rec.Credits,
	)
	l.usage.PublishAsync(usage.Event{
		UserID:    userID,
		Action:    string(action),
		Cost:      cost,
		Remaining: rec.Credits,
		Status:    string(rec.Status()),
		At:        debitedAt.UnixMilli(),
	})
	return balanceOf(rec), nil
}

func debitOutcome(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientCredits):
		return "insufficient"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}

// Initialize creates the record or applies a due reset. It reports false
// when the allowance was already restored today.
func (l *Ledger) Initialize(ctx context.Context, userID string) (Balance, bool, error) {
	if err := validateUserID(userID); err != nil {
		return Balance{}, false, err
	}

	var initialized bool
	rec, err := l.w.apply(ctx, "initialize", userID, func(rec *model.Record, created bool, now time.Time) (bool, error) {
		initialized = false
		if created {
			initialized = true
			return true, nil
		}
		if l.applyReset(rec, now) {
			l.metrics.IncReset("initialize")
			initialized = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return Balance{}, false, err
	}
	return balanceOf(rec), initialized, nil
}

// Grant adds amount credits on top of the (reset) balance.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int) (Balance, error) {
	if err := validateUserID(userID); err != nil {
		return Balance{}, err
	}
	if amount <= 0 {
		return Balance{}, ErrInvalidAmount
	}

	rec, err := l.w.apply(ctx, "grant", userID, func(rec *model.Record, created bool, now time.Time) (bool, error) {
		if !created {
			l.applyReset(rec, now)
		}
		rec.Credits += amount
		return true, nil
	})
	if err != nil {
		return Balance{}, err
	}
	l.metrics.IncGrant()
	l.logger.Info("credits granted", "user_id", userID, "amount", amount, "credits", rec.Credits)
	return balanceOf(rec), nil
}
