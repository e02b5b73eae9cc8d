// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/viralgo/credits/internal/auth"
	"github.com/viralgo/credits/internal/billing"
	"github.com/viralgo/credits/internal/entitlement"
	"github.com/viralgo/credits/internal/handler/dto"
	"github.com/viralgo/credits/internal/service"
	"github.com/viralgo/credits/internal/store"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Handler serves the unauthenticated informational routes.
type Handler struct{}

// New creates a new Handler instance.
func New() *Handler {
	return &Handler{}
}

// Hello is a simple info endpoint.
// GET /
func (h *Handler) Hello(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"message": "credits ledger",
		"version": Version,
	}
	writeJSON(w, http.StatusOK, response)
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError maps service errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var insufficient *service.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusBadRequest, dto.InsufficientCreditsResponse{
			Error:   insufficientMessage(insufficient.Need),
			Code:    "INSUFFICIENT_CREDITS",
			Credits: insufficient.Have,
		})
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
	case errors.Is(err, entitlement.ErrInvalidAction):
		writeError(w, http.StatusBadRequest, "INVALID_ACTION", "Unknown action")
	case errors.Is(err, service.ErrInvalidUserID):
		writeError(w, http.StatusBadRequest, "INVALID_USER_ID", "Invalid user id")
	case errors.Is(err, service.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "Invalid subscription status")
	case errors.Is(err, service.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", "Invalid credit amount")
	case errors.Is(err, service.ErrNoBillingCustomer):
		writeError(w, http.StatusNotFound, "NO_BILLING_CUSTOMER", "No billing customer found")
	case errors.Is(err, service.ErrNoActiveSubscription):
		writeError(w, http.StatusNotFound, "NO_ACTIVE_SUBSCRIPTION", "No active subscription found")
	case errors.Is(err, service.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", "Too many concurrent updates, please try again")
	case errors.Is(err, service.ErrWriteOutcomeUnknown):
		logger.Warn("write outcome unknown", "error", err)
		writeError(w, http.StatusServiceUnavailable, "OUTCOME_UNKNOWN", "Request timed out, refresh your balance before retrying")
	case errors.Is(err, store.ErrUnavailable):
		logger.Error("record store unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable, please try again")
	case errors.Is(err, billing.ErrProvider), errors.Is(err, billing.ErrNoCheckoutURL), errors.Is(err, billing.ErrNoPortalURL):
		logger.Error("billing provider error", "error", err)
		writeError(w, http.StatusBadGateway, "BILLING_PROVIDER_ERROR", "Billing provider error, please try again")
	default:
		logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

func insufficientMessage(need int) string {
	return fmt.Sprintf("Insufficient credits. Need %d credits for this action.", need)
}

// principal returns the authenticated caller or writes 401.
func principal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return nil, false
	}
	return p, true
}
