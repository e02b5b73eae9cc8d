// Package billing defines the provider-neutral billing contract: verified,
// normalized webhook events plus hosted checkout and portal sessions.
package billing

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/viralgo/credits/internal/model"
)

var (
	// ErrSignatureVerification is returned when a webhook signature is missing, invalid or expired.
	ErrSignatureVerification = errors.New("webhook signature verification failed")
	// ErrMalformedEvent is returned when a verified payload cannot be decoded.
	ErrMalformedEvent = errors.New("malformed billing event")
	// ErrProvider is returned when the provider API call fails.
	ErrProvider = errors.New("billing provider error")
	// ErrNoCheckoutURL is returned when the provider returns a session without a URL.
	ErrNoCheckoutURL = errors.New("no checkout URL returned from provider")
	// ErrNoPortalURL is returned when the provider returns a portal session without a URL.
	ErrNoPortalURL = errors.New("no portal URL returned from provider")
)

// EventType is a normalized billing event type.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout.session.completed"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
)

// IsKnown reports whether the reconciler acts on t.
func (t EventType) IsKnown() bool {
	switch t {
	case EventCheckoutCompleted, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return true
	}
	return false
}

// Event is a verified billing event in provider-neutral form.
type Event struct {
	// ID is the provider's event id.
	ID       string
	Provider string
	Type     EventType
	// ProviderType is the provider's own event name.
	ProviderType string

	UserID         string
	CustomerID     string
	SubscriptionID string
	Status         model.SubscriptionStatus
	RawStatus      string

	// Seq orders events of one user; larger is newer.
	Seq        int64
	OccurredAt time.Time

	Payload []byte
}

// CheckoutRequest describes a hosted subscription checkout.
type CheckoutRequest struct {
	UserID     string
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a hosted checkout created by the provider.
type CheckoutSession struct {
	ID  string
	URL string
}

// PortalSession is a pre-authenticated customer portal link.
type PortalSession struct {
	URL string
}

// Provider is a billing backend.
type Provider interface {
	Name() string

	// ParseWebhook verifies the payload signature and normalizes the event.
	// Verification failures match ErrSignatureVerification.
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*Event, error)

	CreateCustomer(ctx context.Context, userID, email string) (string, error)
	ListActiveSubscriptions(ctx context.Context, customerID string) ([]string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error)
}

// MapStatus maps a provider subscription status onto the entitlement status.
// Only active and trialing subscriptions are entitled.
func MapStatus(raw string) model.SubscriptionStatus {
	switch strings.ToLower(raw) {
	case "active", "trialing":
		return model.SubscriptionActive
	default:
		return model.SubscriptionInactive
	}
}

// SeqFromTime converts an event timestamp to a sequence marker.
func SeqFromTime(t time.Time) int64 {
	return t.UnixMicro()
}
