// Package dto holds the JSON request and response bodies of the HTTP API.
package dto

import (
	"time"

	"github.com/viralgo/credits/internal/journal"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// InsufficientCreditsResponse is returned when a debit is refused.
type InsufficientCreditsResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Credits int    `json:"credits"`
}

// BalanceResponse is the body of GET /api/v1/credits.
type BalanceResponse struct {
	Credits            int        `json:"credits"`
	LastReset          *time.Time `json:"last_reset,omitempty"`
	SubscriptionStatus string     `json:"subscription_status"`
}

// InitializeResponse is the body of POST /api/v1/credits.
type InitializeResponse struct {
	Success   bool       `json:"success"`
	Credits   int        `json:"credits"`
	LastReset *time.Time `json:"last_reset,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// DebitRequest is the body of PUT /api/v1/credits.
type DebitRequest struct {
	Action string `json:"action"`
}

// DebitResponse is returned for a successful debit.
type DebitResponse struct {
	Success    bool   `json:"success"`
	Credits    int    `json:"credits"`
	Action     string `json:"action"`
	CreditCost int    `json:"credit_cost"`
}

// GrantResponse is the body of PATCH /api/v1/credits.
type GrantResponse struct {
	Success bool   `json:"success"`
	Credits int    `json:"credits"`
	Message string `json:"message"`
}

// CheckoutRequest is the optional body of POST /api/v1/billing/checkout.
type CheckoutRequest struct {
	Email string `json:"email,omitempty"`
}

// CheckoutResponse carries the hosted checkout.
type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// PortalResponse carries the customer portal link.
type PortalResponse struct {
	URL string `json:"url"`
}

// WebhookResponse acknowledges a billing event.
type WebhookResponse struct {
	Received  bool   `json:"received"`
	Outcome   string `json:"outcome,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// BillingEventResponse is a journaled billing event.
type BillingEventResponse struct {
	ID              string     `json:"id"`
	Provider        string     `json:"provider"`
	ProviderEventID string     `json:"provider_event_id"`
	EventType       string     `json:"event_type"`
	SubscriptionID  string     `json:"subscription_id,omitempty"`
	Status          string     `json:"status"`
	Error           string     `json:"error,omitempty"`
	ReceivedAt      time.Time  `json:"received_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

// BillingEventListResponse is the body of GET /api/v1/billing/events.
type BillingEventListResponse struct {
	Data []BillingEventResponse `json:"data"`
}

// ToBillingEventResponse converts a journal entry to its DTO.
func ToBillingEventResponse(e *journal.Entry) BillingEventResponse {
	return BillingEventResponse{
		ID:              e.ID,
		Provider:        e.Provider,
		ProviderEventID: e.ProviderEventID,
		EventType:       e.EventType,
		SubscriptionID:  e.SubscriptionID,
		Status:          string(e.Status),
		Error:           e.Error,
		ReceivedAt:      e.ReceivedAt,
		ProcessedAt:     e.ProcessedAt,
	}
}

// TimePtr returns nil for the zero time.
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// DailyUsageResponse is one day of rolled-up debits.
type DailyUsageResponse struct {
	Date         string           `json:"date"`
	Debits       int64            `json:"debits"`
	CreditsSpent int64            `json:"credits_spent"`
	ByAction     map[string]int64 `json:"by_action"`
}

// UsageHistoryResponse lists daily usage, newest first.
type UsageHistoryResponse struct {
	Days []DailyUsageResponse `json:"days"`
}
