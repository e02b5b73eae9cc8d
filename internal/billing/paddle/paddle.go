// Package paddle implements billing.Provider with the Paddle Billing SDK.
package paddle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v3"

	"github.com/viralgo/credits/internal/billing"
	"github.com/viralgo/credits/internal/model"
)

const (
	providerName    = "paddle"
	signatureHeader = "Paddle-Signature"
	userIDKey       = "user_id"
)

// Config holds Paddle credentials.
type Config struct {
	APIKey        string
	WebhookSecret string
	// Environment is "production" or "sandbox".
	Environment string
}

// Provider talks to Paddle.
type Provider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// New creates a Paddle provider.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("paddle webhook secret is required")
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &Provider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

// Name returns "paddle".
func (p *Provider) Name() string { return providerName }

type notification struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type entityData struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	CustomData     map[string]any `json:"custom_data"`
}

// ParseWebhook verifies the Paddle-Signature header and normalizes the event.
func (p *Provider) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*billing.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set(signatureHeader, header.Get(signatureHeader))

	ok, err := p.verifier.Verify(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", billing.ErrSignatureVerification, err)
	}
	if !ok {
		return nil, billing.ErrSignatureVerification
	}

	return parseNotification(payload)
}

func parseNotification(payload []byte) (*billing.Event, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: %w", billing.ErrMalformedEvent, err)
	}
	if n.EventID == "" || n.EventType == "" {
		return nil, fmt.Errorf("%w: missing event id or type", billing.ErrMalformedEvent)
	}

	var data entityData
	if len(n.Data) > 0 {
		if err := json.Unmarshal(n.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: data: %w", billing.ErrMalformedEvent, err)
		}
	}

	occurred := n.OccurredAt.UTC()
	evt := &billing.Event{
		ID:           n.EventID,
		Provider:     providerName,
		Type:         mapEventType(n.EventType),
		ProviderType: n.EventType,
		CustomerID:   data.CustomerID,
		RawStatus:    data.Status,
		Seq:          billing.SeqFromTime(occurred),
		OccurredAt:   occurred,
		Payload:      payload,
	}
	if uid, ok := data.CustomData[userIDKey].(string); ok {
		evt.UserID = uid
	}

	switch evt.Type {
	case billing.EventCheckoutCompleted:
		evt.SubscriptionID = data.SubscriptionID
		evt.Status = model.SubscriptionActive
	case billing.EventSubscriptionUpdated:
		evt.SubscriptionID = data.ID
		evt.Status = billing.MapStatus(data.Status)
	case billing.EventSubscriptionDeleted:
		evt.SubscriptionID = data.ID
		evt.Status = model.SubscriptionInactive
	}
	return evt, nil
}

func mapEventType(t string) billing.EventType {
	switch t {
	case "transaction.completed":
		return billing.EventCheckoutCompleted
	case "subscription.updated", "subscription.activated", "subscription.past_due",
		"subscription.paused", "subscription.resumed":
		return billing.EventSubscriptionUpdated
	case "subscription.canceled":
		return billing.EventSubscriptionDeleted
	default:
		return billing.EventType(t)
	}
}

// CreateCustomer creates a Paddle customer carrying the user id in custom data.
func (p *Provider) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	if email == "" {
		return "", fmt.Errorf("%w: paddle customers require an email", billing.ErrProvider)
	}
	customer, err := p.client.CustomersClient.CreateCustomer(ctx, &paddle.CreateCustomerRequest{
		Email:      email,
		CustomData: paddle.CustomData{userIDKey: userID},
	})
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %w", billing.ErrProvider, err)
	}
	return customer.ID, nil
}

// ListActiveSubscriptions returns the ids of active or trialing subscriptions.
func (p *Provider) ListActiveSubscriptions(ctx context.Context, customerID string) ([]string, error) {
	res, err := p.client.SubscriptionsClient.ListSubscriptions(ctx, &paddle.ListSubscriptionsRequest{
		CustomerID: []string{customerID},
		Status:     []string{"active", "trialing"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list subscriptions: %w", billing.ErrProvider, err)
	}

	var ids []string
	err = res.Iter(ctx, func(s *paddle.Subscription) (bool, error) {
		ids = append(ids, s.ID)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: iterate subscriptions: %w", billing.ErrProvider, err)
	}
	return ids, nil
}

// CreateCheckoutSession creates a checkout transaction for the price.
func (p *Provider) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	txReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{userIDKey: req.UserID},
	}
	if req.CustomerID != "" {
		txReq.CustomerID = paddle.PtrTo(req.CustomerID)
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, fmt.Errorf("%w: create transaction: %w", billing.ErrProvider, err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil || *tx.Checkout.URL == "" {
		return nil, billing.ErrNoCheckoutURL
	}
	return &billing.CheckoutSession{ID: tx.ID, URL: *tx.Checkout.URL}, nil
}

// CreatePortalSession returns the customer portal overview link.
// Paddle portal links are not tied to a return URL.
func (p *Provider) CreatePortalSession(ctx context.Context, customerID, _ string) (*billing.PortalSession, error) {
	session, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID: customerID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create portal session: %w", billing.ErrProvider, err)
	}
	if session.URLs.General.Overview == "" {
		return nil, billing.ErrNoPortalURL
	}
	return &billing.PortalSession{URL: session.URLs.General.Overview}, nil
}
