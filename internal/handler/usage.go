package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/viralgo/credits/internal/handler/dto"
	"github.com/viralgo/credits/internal/model"
)

const (
	defaultUsageDays = 7
	maxUsageDays     = 90
)

// UsageReader reads daily usage rollups.
type UsageReader interface {
	DailyUsage(ctx context.Context, userID string, from, to time.Time) ([]*model.DailyUsage, error)
}

// UsageHandler serves the caller's usage history.
type UsageHandler struct {
	usage  UsageReader
	now    func() time.Time
	logger *slog.Logger
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(usage UsageReader, now func() time.Time, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{usage: usage, now: now, logger: logger}
}

// History handles GET /api/v1/credits/usage?days=N.
func (h *UsageHandler) History(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	days := defaultUsageDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxUsageDays {
			writeError(w, http.StatusBadRequest, "INVALID_DAYS", "days must be between 1 and 90")
			return
		}
		days = n
	}

	to := h.now().UTC()
	from := to.AddDate(0, 0, -(days - 1))
	rows, err := h.usage.DailyUsage(r.Context(), p.UserID, from, to)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := dto.UsageHistoryResponse{Days: make([]dto.DailyUsageResponse, 0, len(rows))}
	for _, u := range rows {
		resp.Days = append(resp.Days, dto.DailyUsageResponse{
			Date:         u.Date.Format(time.DateOnly),
			Debits:       u.Debits,
			CreditsSpent: u.CreditsSpent,
			ByAction:     u.ByAction,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
