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

// BillingConfig holds hosted session settings.
type BillingConfig struct {
	PriceID         string
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
	MaxAttempts     int
}

// BillingService creates checkout and customer portal sessions.
type BillingService struct {
	provider  billing.Provider
	records   store.RecordStore
	w         *recordWriter
	customers journal.CustomerIndex
	cfg       BillingConfig
	logger    *slog.Logger
}

// NewBillingService creates a billing service.
func NewBillingService(
	provider billing.Provider,
	records store.RecordStore,
	policy *entitlement.Policy,
	customers journal.CustomerIndex,
	clk clock.Clock,
	cfg BillingConfig,
	logger *slog.Logger,
	recorder metrics.Recorder,
) *BillingService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if clk == nil {
		clk = clock.System
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	logger = logger.With("component", "billing", "provider", provider.Name())

	return &BillingService{
		provider:  provider,
		records:   records,
		w:         newRecordWriter(records, policy, clk, cfg.MaxAttempts, logger, recorder),
		customers: customers,
		cfg:       cfg,
		logger:    logger,
	}
}

// Checkout starts a hosted subscription checkout for the user, creating the
// billing customer on first use.
func (s *BillingService) Checkout(ctx context.Context, userID, email string) (*billing.CheckoutSession, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	customerID, err := s.ensureCustomer(ctx, userID, email)
	if err != nil {
		return nil, err
	}

	session, err := s.provider.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		UserID:     userID,
		CustomerID: customerID,
		PriceID:    s.cfg.PriceID,
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("checkout session created", "user_id", userID, "session_id", session.ID)
	return session, nil
}

// Portal opens the customer portal. It requires a stored billing customer
// with an active subscription.
func (s *BillingService) Portal(ctx context.Context, userID string) (*billing.PortalSession, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	rec, err := s.records.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoBillingCustomer
		}
		return nil, err
	}
	if rec.BillingCustomerID == "" {
		return nil, ErrNoBillingCustomer
	}

	subs, err := s.provider.ListActiveSubscriptions(ctx, rec.BillingCustomerID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNoActiveSubscription
	}

	return s.provider.CreatePortalSession(ctx, rec.BillingCustomerID, s.cfg.PortalReturnURL)
}

func (s *BillingService) ensureCustomer(ctx context.Context, userID, email string) (string, error) {
	rec, err := s.records.Get(ctx, userID)
	switch {
	case err == nil && rec.BillingCustomerID != "":
		return rec.BillingCustomerID, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return "", err
	}

	created, err := s.provider.CreateCustomer(ctx, userID, email)
	if err != nil {
		return "", err
	}

	stored, err := s.w.apply(ctx, "attach_customer", userID, func(rec *model.Record, _ bool, _ time.Time) (bool, error) {
		if rec.BillingCustomerID != "" {
			return false, nil
		}
		rec.BillingCustomerID = created
		return true, nil
	})
	if err != nil {
		return "", fmt.Errorf("store billing customer: %w", err)
	}
	if stored.BillingCustomerID != created {
		s.logger.Warn("concurrent checkout attached another billing customer",
			"user_id", userID,
			"kept", stored.BillingCustomerID,
			"orphaned", created,
		)
	}

	if s.customers != nil {
		if err := s.customers.PutCustomer(ctx, s.provider.Name(), stored.BillingCustomerID, userID); err != nil {
			s.logger.Warn("failed to index billing customer", "user_id", userID, "error", err)
		}
	}
	return stored.BillingCustomerID, nil
}
