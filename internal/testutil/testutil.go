// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/viralgo/credits/internal/model"
	"github.com/viralgo/credits/migrations"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

// Context returns a context that is canceled when the test finishes,
// standing in for testing.T.Context on toolchains older than Go 1.24.
func Context(t testing.TB) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const advisoryLockID int64 = 420420

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// NewPostgres connects to TEST_DATABASE_URL, serializes access with an
// advisory lock and recreates the schema. The test is skipped when the
// variable is unset.
func NewPostgres(t *testing.T) (context.Context, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := RequireEnv(t, "TEST_DATABASE_URL")

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	unlock, err := AcquireDBLock(ctx, pool)
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := ResetSchema(ctx, pool); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	return ctx, pool
}

// ResetSchema drops every table and re-applies the embedded migrations.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	drop := `
		DROP TABLE IF EXISTS credit_usage_daily;
		DROP TABLE IF EXISTS credit_usage_events;
		DROP TABLE IF EXISTS billing_customers;
		DROP TABLE IF EXISTS billing_events;
		DROP TABLE IF EXISTS credit_records;
		DROP TABLE IF EXISTS goose_db_version;
	`
	if _, err := pool.Exec(ctx, drop); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	return migrations.Up(ctx, pool, DiscardLogger())
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// SeedRecord builds a record for tests.
func SeedRecord(userID string, credits int, status model.SubscriptionStatus) *model.Record {
	return &model.Record{
		UserID:             userID,
		Credits:            credits,
		SubscriptionStatus: status,
	}
}
