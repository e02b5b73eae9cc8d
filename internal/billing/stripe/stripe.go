// Package stripe implements billing.Provider on the Stripe Go SDK.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/viralgo/credits/internal/billing"
	"github.com/viralgo/credits/internal/model"
)

// SignatureHeader carries the webhook signature.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance is the replay protection window.
const DefaultTolerance = webhook.DefaultTolerance

const (
	providerName   = "stripe"
	userIDMetadata = "user_id"
)

// Config holds Stripe credentials.
type Config struct {
	SecretKey     string
	WebhookSecret string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
	Timeout time.Duration
	// Tolerance bounds the age of a signed webhook.
	Tolerance time.Duration
	// MaxNetworkRetries is passed to the SDK; nil keeps its default.
	MaxNetworkRetries *int64
}

// Provider talks to Stripe.
type Provider struct {
	cfg        Config
	client     *stripeapi.Client
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithLogger routes SDK log output through logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) { p.logger = logger }
}

// New creates a Stripe provider.
func New(cfg Config, opts ...Option) (*Provider, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = DefaultTolerance
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	p := &Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	backendCfg := &stripeapi.BackendConfig{
		HTTPClient:        p.httpClient,
		LeveledLogger:     &sdkLogger{logger: p.logger.With("component", "stripe")},
		MaxNetworkRetries: cfg.MaxNetworkRetries,
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripeapi.String(cfg.BaseURL)
	}
	p.client = stripeapi.NewClient(cfg.SecretKey,
		stripeapi.WithBackends(stripeapi.NewBackendsWithConfig(backendCfg)))
	return p, nil
}

// Name returns "stripe".
func (p *Provider) Name() string { return providerName }

// ParseWebhook verifies the Stripe-Signature header and normalizes the event.
// Events from any API version are accepted; only the fields read below matter.
func (p *Provider) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*billing.Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, header.Get(SignatureHeader), p.cfg.WebhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                p.cfg.Tolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("%w: %w", billing.ErrSignatureVerification, err)
		}
		return nil, fmt.Errorf("%w: %w", billing.ErrMalformedEvent, err)
	}
	if evt.ID == "" || evt.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", billing.ErrMalformedEvent)
	}

	occurred := time.Unix(evt.Created, 0).UTC()
	out := &billing.Event{
		ID:           evt.ID,
		Provider:     providerName,
		Type:         billing.EventType(evt.Type),
		ProviderType: string(evt.Type),
		Seq:          billing.SeqFromTime(occurred),
		OccurredAt:   occurred,
		Payload:      payload,
	}
	if !out.Type.IsKnown() {
		return out, nil
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data object", billing.ErrMalformedEvent, evt.ID)
	}

	switch out.Type {
	case billing.EventCheckoutCompleted:
		var session stripeapi.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %w", billing.ErrMalformedEvent, err)
		}
		out.UserID = session.ClientReferenceID
		if out.UserID == "" {
			out.UserID = session.Metadata[userIDMetadata]
		}
		if session.Customer != nil {
			out.CustomerID = session.Customer.ID
		}
		if session.Subscription != nil {
			out.SubscriptionID = session.Subscription.ID
		}
		out.Status = model.SubscriptionActive
		out.RawStatus = "complete"

	case billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		var sub stripeapi.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription: %w", billing.ErrMalformedEvent, err)
		}
		out.UserID = sub.Metadata[userIDMetadata]
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
		out.SubscriptionID = sub.ID
		out.RawStatus = string(sub.Status)
		out.Status = billing.MapStatus(string(sub.Status))
		if out.Type == billing.EventSubscriptionDeleted {
			out.Status = model.SubscriptionInactive
		}
	}

	return out, nil
}

// CreateCustomer creates a Stripe customer tagged with the user id.
func (p *Provider) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripeapi.CustomerCreateParams{}
	params.AddMetadata(userIDMetadata, userID)
	if email != "" {
		params.Email = stripeapi.String(email)
	}

	c, err := p.client.V1Customers.Create(ctx, params)
	if err != nil {
		return "", apiError("create customer", err)
	}
	return c.ID, nil
}

// ListActiveSubscriptions returns the ids of the customer's active subscriptions.
func (p *Provider) ListActiveSubscriptions(ctx context.Context, customerID string) ([]string, error) {
	params := &stripeapi.SubscriptionListParams{
		Customer: stripeapi.String(customerID),
		Status:   stripeapi.String(string(stripeapi.SubscriptionStatusActive)),
	}
	params.Limit = stripeapi.Int64(10)
	params.Single = true

	var ids []string
	var listErr error
	p.client.V1Subscriptions.List(ctx, params)(func(sub *stripeapi.Subscription, err error) bool {
		if err != nil {
			listErr = apiError("list subscriptions", err)
			return false
		}
		ids = append(ids, sub.ID)
		return true
	})
	if listErr != nil {
		return nil, listErr
	}
	return ids, nil
}

// CreateCheckoutSession creates a hosted subscription checkout. The user id
// travels as client_reference_id and as subscription metadata so later
// subscription events can be attributed.
func (p *Provider) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	params := &stripeapi.CheckoutSessionCreateParams{
		Mode: stripeapi.String(string(stripeapi.CheckoutSessionModeSubscription)),
		LineItems: []*stripeapi.CheckoutSessionCreateLineItemParams{
			{Price: stripeapi.String(req.PriceID), Quantity: stripeapi.Int64(1)},
		},
		SuccessURL:        stripeapi.String(req.SuccessURL),
		CancelURL:         stripeapi.String(req.CancelURL),
		ClientReferenceID: stripeapi.String(req.UserID),
		SubscriptionData: &stripeapi.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: map[string]string{userIDMetadata: req.UserID},
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripeapi.String(req.CustomerID)
	}

	s, err := p.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, apiError("create checkout session", err)
	}
	if s.URL == "" {
		return nil, billing.ErrNoCheckoutURL
	}
	return &billing.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// CreatePortalSession creates a billing portal session for the customer.
func (p *Provider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*billing.PortalSession, error) {
	s, err := p.client.V1BillingPortalSessions.Create(ctx, &stripeapi.BillingPortalSessionCreateParams{
		Customer:  stripeapi.String(customerID),
		ReturnURL: stripeapi.String(returnURL),
	})
	if err != nil {
		return nil, apiError("create portal session", err)
	}
	if s.URL == "" {
		return nil, billing.ErrNoPortalURL
	}
	return &billing.PortalSession{URL: s.URL}, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func apiError(op string, err error) error {
	var stripeErr *stripeapi.Error
	if errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %s returned %d: %s", billing.ErrProvider, op, stripeErr.HTTPStatusCode, stripeErr.Msg)
	}
	return fmt.Errorf("%w: %s: %w", billing.ErrProvider, op, err)
}

// sdkLogger adapts slog to the SDK's leveled logger.
type sdkLogger struct {
	logger *slog.Logger
}

func (l *sdkLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *sdkLogger) Infof(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *sdkLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l *sdkLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
