package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/viralgo/credits/internal/billing"
	"github.com/viralgo/credits/internal/handler/dto"
	"github.com/viralgo/credits/internal/journal"
)

const (
	defaultEventLimit = 20
	maxEventLimit     = 100
)

// BillingSessions creates checkout and portal sessions.
type BillingSessions interface {
	Checkout(ctx context.Context, userID, email string) (*billing.CheckoutSession, error)
	Portal(ctx context.Context, userID string) (*billing.PortalSession, error)
}

// EventLister lists journaled billing events.
type EventLister interface {
	ListByUser(ctx context.Context, userID string, statuses []journal.Status, limit int) ([]*journal.Entry, error)
}

// BillingHandler handles subscription checkout and the customer portal.
type BillingHandler struct {
	sessions BillingSessions
	events   EventLister
	logger   *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(sessions BillingSessions, events EventLister, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		sessions: sessions,
		events:   events,
		logger:   logger,
	}
}

// Checkout handles POST /api/v1/billing/checkout.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req dto.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	email := req.Email
	if email == "" {
		email = p.Email
	}

	session, err := h.sessions.Checkout(r.Context(), p.UserID, email)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.CheckoutResponse{SessionID: session.ID, URL: session.URL})
}

// Portal handles POST /api/v1/billing/portal.
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	session, err := h.sessions.Portal(r.Context(), p.UserID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.PortalResponse{URL: session.URL})
}

// Events handles GET /api/v1/billing/events.
// Query: status (repeatable), limit.
func (h *BillingHandler) Events(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	var statuses []journal.Status
	for _, raw := range r.URL.Query()["status"] {
		st, ok := journal.ParseStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "INVALID_STATUS", "Unknown event status")
			return
		}
		statuses = append(statuses, st)
	}

	entries, err := h.events.ListByUser(r.Context(), p.UserID, statuses, limit)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := dto.BillingEventListResponse{Data: make([]dto.BillingEventResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Data = append(resp.Data, dto.ToBillingEventResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}
