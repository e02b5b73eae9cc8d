package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/viralgo/credits/internal/billing"
	"github.com/viralgo/credits/internal/clock"
	"github.com/viralgo/credits/internal/entitlement"
	"github.com/viralgo/credits/internal/journal"
	"github.com/viralgo/credits/internal/metrics"
	"github.com/viralgo/credits/internal/model"
	"github.com/viralgo/credits/internal/store"
)

// Outcome is the result of reconciling one billing event.
type Outcome string

const (
	// OutcomeApplied means the record now reflects the event.
	OutcomeApplied Outcome = "applied"
	// OutcomeStale means a newer event was already applied; nothing changed.
	OutcomeStale Outcome = "stale"
	// OutcomeIgnored means the event type carries no entitlement change.
	OutcomeIgnored Outcome = "ignored"
)

// CheckoutCompleted is a finished subscription checkout.
type CheckoutCompleted struct {
	UserID         string
	CustomerID     string
	SubscriptionID string
	Seq            int64
}

// StatusChanged is a subscription status transition. An empty
// SubscriptionID clears the stored one.
type StatusChanged struct {
	UserID         string
	Status         model.SubscriptionStatus
	SubscriptionID string
	Seq            int64
}

// Reconciler applies verified billing events to credit records.
type Reconciler struct {
	w         *recordWriter
	policy    *entitlement.Policy
	customers journal.CustomerIndex
	metrics   metrics.Recorder
	logger    *slog.Logger
}

// NewReconciler creates a reconciler. customers may be nil, in which case
// events without a user id cannot be attributed.
func NewReconciler(
	records store.RecordStore,
	policy *entitlement.Policy,
	customers journal.CustomerIndex,
	clk clock.Clock,
	cfg LedgerConfig,
	logger *slog.Logger,
	recorder metrics.Recorder,
) *Reconciler {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if clk == nil {
		clk = clock.System
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	logger = logger.With("component", "reconciler")

	return &Reconciler{
		w:         newRecordWriter(records, policy, clk, cfg.MaxAttempts, logger, recorder),
		policy:    policy,
		customers: customers,
		metrics:   recorder,
		logger:    logger,
	}
}

// Handle dispatches a normalized billing event.
func (r *Reconciler) Handle(ctx context.Context, evt *billing.Event) (Outcome, error) {
	if !evt.Type.IsKnown() {
		r.metrics.IncWebhookEvent(evt.ProviderType, string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}

	userID, err := r.resolveUser(ctx, evt)
	if err != nil {
		r.metrics.IncWebhookEvent(string(evt.Type), "failed")
		return "", err
	}

	var outcome Outcome
	switch evt.Type {
	case billing.EventCheckoutCompleted:
		outcome, err = r.HandleCheckoutCompleted(ctx, CheckoutCompleted{
			UserID:         userID,
			CustomerID:     evt.CustomerID,
			SubscriptionID: evt.SubscriptionID,
			Seq:            evt.Seq,
		})
		if err == nil && evt.CustomerID != "" && r.customers != nil {
			if err := r.customers.PutCustomer(ctx, evt.Provider, evt.CustomerID, userID); err != nil {
				r.logger.Warn("failed to index billing customer",
					"customer_id", evt.CustomerID,
					"user_id", userID,
					"error", err,
				)
			}
		}
	case billing.EventSubscriptionUpdated:
		outcome, err = r.HandleSubscriptionStatusChanged(ctx, StatusChanged{
			UserID:         userID,
			Status:         evt.Status,
			SubscriptionID: evt.SubscriptionID,
			Seq:            evt.Seq,
		})
	case billing.EventSubscriptionDeleted:
		outcome, err = r.HandleSubscriptionStatusChanged(ctx, StatusChanged{
			UserID: userID,
			Status: model.SubscriptionInactive,
			Seq:    evt.Seq,
		})
	}

	if err != nil {
		r.metrics.IncWebhookEvent(string(evt.Type), "failed")
		return "", err
	}
	r.metrics.IncWebhookEvent(string(evt.Type), string(outcome))
	return outcome, nil
}

func (r *Reconciler) resolveUser(ctx context.Context, evt *billing.Event) (string, error) {
	if evt.UserID != "" {
		return evt.UserID, nil
	}
	if evt.CustomerID == "" || r.customers == nil {
		return "", fmt.Errorf("%w: event %s carries no user reference", ErrInvalidUserID, evt.ID)
	}
	userID, err := r.customers.LookupUser(ctx, evt.Provider, evt.CustomerID)
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			return "", fmt.Errorf("%w: unknown billing customer %s", ErrInvalidUserID, evt.CustomerID)
		}
		return "", fmt.Errorf("resolve billing customer: %w", err)
	}
	return userID, nil
}

// HandleCheckoutCompleted activates the subscription and grants the paid
// allowance, restarting the reset window. A stale event only attaches a
// missing customer id.
func (r *Reconciler) HandleCheckoutCompleted(ctx context.Context, in CheckoutCompleted) (Outcome, error) {
	if err := validateUserID(in.UserID); err != nil {
		return "", err
	}

	var outcome Outcome
	_, err := r.w.apply(ctx, "checkout_completed", in.UserID, func(rec *model.Record, created bool, now time.Time) (bool, error) {
		if !created && in.Seq <= rec.LastAppliedEventSeq {
			outcome = OutcomeStale
			if rec.BillingCustomerID == "" && in.CustomerID != "" {
				rec.BillingCustomerID = in.CustomerID
				return true, nil
			}
			return false, nil
		}
		outcome = OutcomeApplied

		rec.SubscriptionStatus = model.SubscriptionActive
		rec.Credits = r.policy.Allowance(model.SubscriptionActive)
		rec.LastResetAt = now
		if in.SubscriptionID != "" {
			rec.SubscriptionID = in.SubscriptionID
		}
		if in.CustomerID != "" {
			rec.BillingCustomerID = in.CustomerID
		}
		rec.LastAppliedEventSeq = in.Seq
		return true, nil
	})
	if err != nil {
		return "", err
	}

	r.logOutcome("checkout completed", in.UserID, in.Seq, outcome)
	return outcome, nil
}

// HandleSubscriptionStatusChanged moves the record to the new status.
func (r *Reconciler) HandleSubscriptionStatusChanged(ctx context.Context, in StatusChanged) (Outcome, error) {
	if err := validateUserID(in.UserID); err != nil {
		return "", err
	}
	if in.Status != model.SubscriptionActive && in.Status != model.SubscriptionInactive {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}

	var outcome Outcome
	_, err := r.w.apply(ctx, "subscription_status", in.UserID, func(rec *model.Record, created bool, now time.Time) (bool, error) {
		if !created && in.Seq <= rec.LastAppliedEventSeq {
			outcome = OutcomeStale
			return false, nil
		}
		outcome = OutcomeApplied

		r.transition(rec, in.Status, now)
		rec.SubscriptionID = in.SubscriptionID
		rec.LastAppliedEventSeq = in.Seq
		return true, nil
	})
	if err != nil {
		return "", err
	}

	r.logOutcome("subscription status changed", in.UserID, in.Seq, outcome, "status", in.Status)
	return outcome, nil
}

// transition sets status. Upgrading to active grants the paid allowance right
// away; losing the subscription keeps whatever balance is left.
func (r *Reconciler) transition(rec *model.Record, status model.SubscriptionStatus, now time.Time) {
	if status == model.SubscriptionActive && rec.Status() != model.SubscriptionActive {
		rec.Credits = r.policy.Allowance(model.SubscriptionActive)
		rec.LastResetAt = now
	}
	rec.SubscriptionStatus = status
}

func (r *Reconciler) logOutcome(msg, userID string, seq int64, outcome Outcome, attrs ...any) {
	args := append([]any{"user_id", userID, "seq", seq, "outcome", outcome}, attrs...)
	if outcome == OutcomeStale {
		r.logger.Info(msg+": stale event ignored", args...)
		return
	}
	r.logger.Info(msg, args...)
}
