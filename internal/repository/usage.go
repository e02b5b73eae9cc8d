package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/viralgo/credits/internal/model"
)

// UsageRepository stores debit events and their daily rollups.
type UsageRepository struct {
	repo *Repository
}

// NewUsageRepository creates a new UsageRepository.
func NewUsageRepository(repo *Repository) *UsageRepository {
	return &UsageRepository{repo: repo}
}

// BulkInsert inserts usage events. Redelivered stream entries are skipped
// through the unique event_id.
func (r *UsageRepository) BulkInsert(ctx context.Context, events []*model.UsageEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO credit_usage_events (
			id, event_id, user_id, action, cost, remaining, status, debited_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`
	for _, event := range events {
		batch.Queue(query,
			event.ID,
			event.EventID,
			event.UserID,
			event.Action,
			event.Cost,
			event.Remaining,
			string(event.Status),
			event.DebitedAt,
		)
	}

	results := r.repo.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert usage event %d: %w", i, err)
		}
	}
	return nil
}

// UpdateDailyUsage recomputes the daily rollup for every user/day touched
// by events.
func (r *UsageRepository) UpdateDailyUsage(ctx context.Context, events []*model.UsageEvent) error {
	for _, key := range uniqueUsageDays(events) {
		usage, err := r.recalculateDay(ctx, key.userID, key.date)
		if err != nil {
			return fmt.Errorf("recalculate usage %s:%s: %w", key.userID, key.date.Format(time.DateOnly), err)
		}
		if err := r.upsertDay(ctx, usage); err != nil {
			return fmt.Errorf("upsert usage %s:%s: %w", key.userID, key.date.Format(time.DateOnly), err)
		}
	}
	return nil
}

type usageDayKey struct {
	userID string
	date   time.Time
}

func uniqueUsageDays(events []*model.UsageEvent) []usageDayKey {
	seen := make(map[usageDayKey]struct{})
	keys := make([]usageDayKey, 0, len(events))
	for _, event := range events {
		key := usageDayKey{userID: event.UserID, date: utcDay(event.DebitedAt)}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

func (r *UsageRepository) recalculateDay(ctx context.Context, userID string, day time.Time) (*model.DailyUsage, error) {
	query := `
		SELECT action, COUNT(*), COALESCE(SUM(cost), 0)
		FROM credit_usage_events
		WHERE user_id = $1 AND debited_at >= $2 AND debited_at < $3
		GROUP BY action
	`
	rows, err := r.repo.pool.Query(ctx, query, userID, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("query usage events: %w", err)
	}
	defer rows.Close()

	usage := &model.DailyUsage{UserID: userID, Date: day, ByAction: make(map[string]int64)}
	for rows.Next() {
		var action string
		var count, spent int64
		if err := rows.Scan(&action, &count, &spent); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		usage.ByAction[action] = count
		usage.Debits += count
		usage.CreditsSpent += spent
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage rows: %w", err)
	}
	return usage, nil
}

func (r *UsageRepository) upsertDay(ctx context.Context, usage *model.DailyUsage) error {
	byAction, err := json.Marshal(usage.ByAction)
	if err != nil {
		return fmt.Errorf("marshal action breakdown: %w", err)
	}

	query := `
		INSERT INTO credit_usage_daily (user_id, date, debits, credits_spent, by_action, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id, date) DO UPDATE SET
			debits = EXCLUDED.debits,
			credits_spent = EXCLUDED.credits_spent,
			by_action = EXCLUDED.by_action,
			updated_at = NOW()
	`
	_, err = r.repo.pool.Exec(ctx, query, usage.UserID, usage.Date, usage.Debits, usage.CreditsSpent, byAction)
	return err
}

// DailyUsage returns a user's rollups between from and to inclusive, newest first.
func (r *UsageRepository) DailyUsage(ctx context.Context, userID string, from, to time.Time) ([]*model.DailyUsage, error) {
	query := `
		SELECT user_id, date, debits, credits_spent, by_action, updated_at
		FROM credit_usage_daily
		WHERE user_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date DESC
	`
	rows, err := r.repo.pool.Query(ctx, query, userID, utcDay(from), utcDay(to))
	if err != nil {
		return nil, fmt.Errorf("query daily usage: %w", err)
	}
	defer rows.Close()

	var out []*model.DailyUsage
	for rows.Next() {
		var u model.DailyUsage
		var byAction []byte
		if err := rows.Scan(&u.UserID, &u.Date, &u.Debits, &u.CreditsSpent, &byAction, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan daily usage: %w", err)
		}
		if len(byAction) > 0 {
			_ = json.Unmarshal(byAction, &u.ByAction)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}
