package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/viralgo/credits/internal/billing"
	"github.com/viralgo/credits/internal/handler/dto"
	"github.com/viralgo/credits/internal/journal"
	"github.com/viralgo/credits/internal/service"
)

const (
	// maxWebhookBody caps the payload read for signature verification.
	maxWebhookBody = 1 << 20
	journalTimeout = 5 * time.Second
)

// WebhookParser verifies and normalizes provider deliveries.
type WebhookParser interface {
	Name() string
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*billing.Event, error)
}

// EventReconciler applies verified events.
type EventReconciler interface {
	Handle(ctx context.Context, evt *billing.Event) (service.Outcome, error)
}

// WebhookHandler receives billing provider webhooks.
type WebhookHandler struct {
	parser     WebhookParser
	journal    journal.Journal
	reconciler EventReconciler
	logger     *slog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(parser WebhookParser, j journal.Journal, reconciler EventReconciler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		parser:     parser,
		journal:    j,
		reconciler: reconciler,
		logger:     logger.With("handler", "webhook", "provider", parser.Name()),
	}
}

// Receive handles POST /webhooks/billing.
//
// Responses: 400 when the signature or payload is rejected (nothing is
// stored), 500 when processing failed so the provider redelivers, 200
// otherwise, including stale and ignored events.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Failed to read request body")
		return
	}
	if len(payload) > maxWebhookBody {
		writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Request body too large")
		return
	}

	evt, err := h.parser.ParseWebhook(ctx, payload, r.Header)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrSignatureVerification):
			h.logger.Warn("webhook signature rejected", "error", err, "ip", r.RemoteAddr)
			writeError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "Webhook signature verification failed")
		case errors.Is(err, billing.ErrMalformedEvent):
			h.logger.Warn("malformed webhook payload", "error", err)
			writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "Malformed webhook payload")
		default:
			h.logger.Error("webhook parse failed", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Webhook processing failed")
		}
		return
	}

	entry, duplicate, err := h.journal.Record(ctx, evt)
	if err != nil {
		h.logger.Error("failed to journal billing event", "event_id", evt.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Webhook processing failed")
		return
	}
	if duplicate {
		h.logger.Info("billing event redelivered",
			"event_id", evt.ID,
			"journal_id", entry.ID,
			"previous_status", entry.Status,
		)
	}

	outcome, err := h.reconciler.Handle(ctx, evt)
	if err != nil {
		h.markProcessed(entry.ID, journal.StatusFailed, err.Error())
		h.logger.Error("billing event processing failed",
			"event_id", evt.ID,
			"event_type", evt.ProviderType,
			"error", err,
		)
		if errors.Is(err, service.ErrInvalidUserID) {
			// Redelivery cannot attribute the event either.
			writeError(w, http.StatusBadRequest, "INVALID_USER_ID", "Event cannot be attributed to a user")
			return
		}
		writeError(w, http.StatusInternalServerError, "PROCESSING_FAILED", "Webhook processing failed")
		return
	}

	h.markProcessed(entry.ID, journal.Status(outcome), "")
	h.logger.Info("billing event processed",
		"event_id", evt.ID,
		"event_type", evt.ProviderType,
		"user_id", evt.UserID,
		"outcome", outcome,
	)
	writeJSON(w, http.StatusOK, dto.WebhookResponse{
		Received:  true,
		Outcome:   string(outcome),
		Duplicate: duplicate,
	})
}

// markProcessed runs detached from the request so a client disconnect does
// not leave the entry in received.
func (h *WebhookHandler) markProcessed(id string, status journal.Status, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := h.journal.MarkProcessed(ctx, id, status, errMsg); err != nil {
		h.logger.Error("failed to update billing event status",
			"journal_id", id,
			"status", status,
			"error", err,
		)
	}
}
