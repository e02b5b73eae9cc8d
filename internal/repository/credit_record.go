package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/viralgo/credits/internal/model"
	"github.com/viralgo/credits/internal/store"
)

// CreditRecordRepository is the Postgres RecordStore. Conditional writes are
// single statements guarded by the version column.
type CreditRecordRepository struct {
	repo *Repository
}

// NewCreditRecordRepository creates a record store on repo.
func NewCreditRecordRepository(repo *Repository) *CreditRecordRepository {
	return &CreditRecordRepository{repo: repo}
}

// Get retrieves the credit record of a user.
func (r *CreditRecordRepository) Get(ctx context.Context, userID string) (*model.Record, error) {
	query := `
		SELECT metadata, version
		FROM credit_records
		WHERE user_id = $1
	`

	var (
		blob    []byte
		version int64
	)
	err := r.repo.pool.QueryRow(ctx, query, userID).Scan(&blob, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapStoreError("get credit record", err)
	}

	rec, err := model.DecodeMetadata(userID, blob)
	if err != nil {
		if errors.Is(err, model.ErrNoCreditFields) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to decode credit record: %w", err)
	}
	rec.Version = version
	return rec, nil
}

// Update writes next if the stored version still equals expected's. With a
// nil expected it inserts, or fills in a row that holds no credit state.
func (r *CreditRecordRepository) Update(ctx context.Context, userID string, expected, next *model.Record) (*model.Record, error) {
	written := next.Clone()
	written.UserID = userID
	written.Version = store.NextVersion(expected)

	blob, err := model.EncodeMetadata(written)
	if err != nil {
		return nil, err
	}

	var (
		query string
		args  []any
	)
	if expected == nil {
		query = `
			INSERT INTO credit_records (user_id, metadata, version)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO UPDATE
			SET metadata = credit_records.metadata || EXCLUDED.metadata,
				version = EXCLUDED.version,
				updated_at = NOW()
			WHERE COALESCE(jsonb_typeof(credit_records.metadata -> 'credits'), 'null') = 'null'
		`
		args = []any{userID, blob, written.Version}
	} else {
		query = `
			UPDATE credit_records
			SET metadata = $2, version = $3, updated_at = NOW()
			WHERE user_id = $1 AND version = $4
		`
		args = []any{userID, blob, written.Version, expected.Version}
	}

	tag, err := r.repo.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreError("write credit record", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, store.ErrPreconditionFailed
	}
	return written, nil
}

// Capabilities reports atomic conditional writes.
func (r *CreditRecordRepository) Capabilities() store.Capabilities {
	return store.Capabilities{AtomicPreconditions: true}
}

func wrapStoreError(op string, err error) error {
	if isServerError(err) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return fmt.Errorf("%w: failed to %s: %w", store.ErrUnavailable, op, err)
}
