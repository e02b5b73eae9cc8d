//go:build integration

package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralgo/credits/internal/model"
	"github.com/viralgo/credits/internal/testutil"
)

func usageEvent(id, eventID, userID, action string, cost int, at time.Time) *model.UsageEvent {
	return &model.UsageEvent{
		ID:        id,
		EventID:   eventID,
		UserID:    userID,
		Action:    action,
		Cost:      cost,
		Status:    model.SubscriptionNone,
		DebitedAt: at,
	}
}

func TestIntegrationUsage_RollupIsIdempotent(t *testing.T) {
	_, pool := testutil.NewPostgres(t)
	r := NewUsageRepository(NewFromPool(pool))
	ctx := testutil.Context(t)

	day := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	batch := []*model.UsageEvent{
		usageEvent("01A", "1-0", "user_1", "create", 1, day.Add(9*time.Hour)),
		usageEvent("01B", "2-0", "user_1", "remix", 2, day.Add(10*time.Hour)),
		usageEvent("01C", "3-0", "user_1", "create", 1, day.Add(-time.Hour)),
	}
	require.NoError(t, r.BulkInsert(ctx, batch))
	require.NoError(t, r.UpdateDailyUsage(ctx, batch))

	// redelivery of an already stored entry
	redelivered := []*model.UsageEvent{usageEvent("01D", "2-0", "user_1", "remix", 2, day.Add(10*time.Hour))}
	require.NoError(t, r.BulkInsert(ctx, redelivered))
	require.NoError(t, r.UpdateDailyUsage(ctx, redelivered))

	rows, err := r.DailyUsage(ctx, "user_1", day.AddDate(0, 0, -1), day)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.True(t, rows[0].Date.Equal(day))
	assert.Equal(t, int64(2), rows[0].Debits)
	assert.Equal(t, int64(3), rows[0].CreditsSpent)
	assert.Equal(t, map[string]int64{"create": 1, "remix": 1}, rows[0].ByAction)

	assert.Equal(t, int64(1), rows[1].Debits)

	none, err := r.DailyUsage(ctx, "user_2", day, day)
	require.NoError(t, err)
	assert.Empty(t, none)
}
