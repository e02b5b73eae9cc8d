package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/viralgo/credits/internal/entitlement"
	"github.com/viralgo/credits/internal/handler/dto"
	"github.com/viralgo/credits/internal/service"
)

// CreditLedger is the ledger surface used by CreditsHandler.
type CreditLedger interface {
	GetBalance(ctx context.Context, userID string) (service.Balance, error)
	Debit(ctx context.Context, userID string, action entitlement.Action) (service.Balance, error)
	Initialize(ctx context.Context, userID string) (service.Balance, bool, error)
	Grant(ctx context.Context, userID string, amount int) (service.Balance, error)
}

// CreditsHandler handles the caller's credit balance.
type CreditsHandler struct {
	ledger      CreditLedger
	policy      *entitlement.Policy
	grantAmount int
	logger      *slog.Logger
}

// NewCreditsHandler creates a new CreditsHandler.
func NewCreditsHandler(ledger CreditLedger, policy *entitlement.Policy, grantAmount int, logger *slog.Logger) *CreditsHandler {
	if grantAmount <= 0 {
		grantAmount = service.DefaultGrantAmount
	}
	return &CreditsHandler{
		ledger:      ledger,
		policy:      policy,
		grantAmount: grantAmount,
		logger:      logger,
	}
}

// Get handles GET /api/v1/credits.
func (h *CreditsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	bal, err := h.ledger.GetBalance(r.Context(), p.UserID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.BalanceResponse{
		Credits:            bal.Credits,
		LastReset:          dto.TimePtr(bal.LastResetAt),
		SubscriptionStatus: string(bal.Status),
	})
}

// Initialize handles POST /api/v1/credits.
func (h *CreditsHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	bal, initialized, err := h.ledger.Initialize(r.Context(), p.UserID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := dto.InitializeResponse{
		Success:   initialized,
		Credits:   bal.Credits,
		LastReset: dto.TimePtr(bal.LastResetAt),
	}
	if !initialized {
		resp.Message = "Credits can only be reset once per day"
	}
	writeJSON(w, http.StatusOK, resp)
}

// Debit handles PUT /api/v1/credits.
func (h *CreditsHandler) Debit(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req dto.DebitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	action, err := entitlement.ParseAction(req.Action)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	bal, err := h.ledger.Debit(r.Context(), p.UserID, action)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	cost, _ := h.policy.Cost(action)
	writeJSON(w, http.StatusOK, dto.DebitResponse{
		Success:    true,
		Credits:    bal.Credits,
		Action:     string(action),
		CreditCost: cost,
	})
}

// Grant handles PATCH /api/v1/credits. Only routed in development.
func (h *CreditsHandler) Grant(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	bal, err := h.ledger.Grant(r.Context(), p.UserID, h.grantAmount)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.GrantResponse{
		Success: true,
		Credits: bal.Credits,
		Message: "Added test credits",
	})
}
