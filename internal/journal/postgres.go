package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/viralgo/credits/internal/billing"
)

// Repository is the Postgres journal and customer index.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a journal repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Record inserts the event unless the provider event id is already known.
func (r *Repository) Record(ctx context.Context, evt *billing.Event) (*Entry, bool, error) {
	entry := NewEntry(evt, time.Now())

	query := `
		INSERT INTO billing_events (
			id, provider, provider_event_id, event_type, user_id, customer_id,
			subscription_id, seq, status, payload, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.Provider,
		entry.ProviderEventID,
		entry.EventType,
		nullString(entry.UserID),
		nullString(entry.CustomerID),
		nullString(entry.SubscriptionID),
		entry.Seq,
		entry.Status,
		jsonPayload(entry.Payload),
		entry.ReceivedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert billing event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert billing event: %w", err)
	}
	if n == 1 {
		return entry, false, nil
	}

	existing, err := r.getByProviderEventID(ctx, entry.Provider, entry.ProviderEventID)
	if err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

// MarkProcessed sets the final status of an entry.
func (r *Repository) MarkProcessed(ctx context.Context, id string, status Status, errMsg string) error {
	query := `
		UPDATE billing_events
		SET status = $2, error = $3, processed_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, status, nullString(errMsg))
	if err != nil {
		return fmt.Errorf("update billing event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update billing event: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByUser lists a user's events, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string, statuses []Status, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var filter []string
	for _, s := range statuses {
		filter = append(filter, string(s))
	}

	query := `
		SELECT id, provider, provider_event_id, event_type, user_id, customer_id,
			   subscription_id, seq, status, error, received_at, processed_at
		FROM billing_events
		WHERE user_id = $1
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY received_at DESC
		LIMIT $3
	`
	if filter == nil {
		filter = []string{}
	}

	rows, err := r.db.QueryContext(ctx, query, userID, pq.Array(filter), limit)
	if err != nil {
		return nil, fmt.Errorf("list billing events: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate billing events: %w", err)
	}
	return entries, nil
}

// PutCustomer stores a customer mapping. The first mapping for a customer wins.
func (r *Repository) PutCustomer(ctx context.Context, provider, customerID, userID string) error {
	query := `
		INSERT INTO billing_customers (provider, customer_id, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, customer_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, provider, customerID, userID); err != nil {
		return fmt.Errorf("insert billing customer: %w", err)
	}
	return nil
}

// LookupUser resolves the user of a billing customer.
func (r *Repository) LookupUser(ctx context.Context, provider, customerID string) (string, error) {
	query := `SELECT user_id FROM billing_customers WHERE provider = $1 AND customer_id = $2`

	var userID string
	if err := r.db.QueryRowContext(ctx, query, provider, customerID).Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("lookup billing customer: %w", err)
	}
	return userID, nil
}

func (r *Repository) getByProviderEventID(ctx context.Context, provider, eventID string) (*Entry, error) {
	query := `
		SELECT id, provider, provider_event_id, event_type, user_id, customer_id,
			   subscription_id, seq, status, error, received_at, processed_at
		FROM billing_events
		WHERE provider = $1 AND provider_event_id = $2
	`
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, provider, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                                 Entry
		userID, customerID, subID, errMsg sql.NullString
		processedAt                       sql.NullTime
	)
	err := row.Scan(
		&e.ID,
		&e.Provider,
		&e.ProviderEventID,
		&e.EventType,
		&userID,
		&customerID,
		&subID,
		&e.Seq,
		&e.Status,
		&errMsg,
		&e.ReceivedAt,
		&processedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan billing event: %w", err)
	}
	e.UserID = userID.String
	e.CustomerID = customerID.String
	e.SubscriptionID = subID.String
	e.Error = errMsg.String
	if processedAt.Valid {
		t := processedAt.Time
		e.ProcessedAt = &t
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func jsonPayload(b []byte) any {
	if len(b) == 0 || !json.Valid(b) {
		return nil
	}
	return string(b)
}
