package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/viralgo/credits/internal/auth"
	"github.com/viralgo/credits/internal/model"
	"github.com/viralgo/credits/internal/repository"
	"github.com/viralgo/credits/internal/store"
)

type output struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Seeded    bool      `json:"seeded"`
}

func main() {
	_ = godotenv.Load()

	var (
		secret      = flag.String("secret", os.Getenv("AUTH_JWT_SECRET"), "HS256 signing secret")
		issuer      = flag.String("issuer", os.Getenv("AUTH_JWT_ISSUER"), "Token issuer")
		userID      = flag.String("user-id", "user_dev", "Subject of the token")
		email       = flag.String("email", "dev@localhost", "Email claim")
		ttl         = flag.Duration("ttl", 24*time.Hour, "Token lifetime")
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "Seed a credit record in this database")
		credits     = flag.Int("credits", 10, "Starting balance when seeding")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if len(*secret) < 16 {
		fmt.Fprintln(os.Stderr, "AUTH_JWT_SECRET (or -secret) of at least 16 characters is required")
		os.Exit(1)
	}

	now := time.Now().UTC()
	token, err := auth.Mint(*secret, *userID, *email, *issuer, *ttl, now)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mint token:", err)
		os.Exit(1)
	}

	out := output{
		UserID:    *userID,
		Email:     *email,
		Token:     token,
		ExpiresAt: now.Add(*ttl),
	}

	if *databaseURL != "" {
		seeded, err := seedRecord(*databaseURL, *userID, *credits, now)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		out.Seeded = seeded
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.Token)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain or json")
		os.Exit(1)
	}
}

// seedRecord creates the user's credit record unless one exists.
func seedRecord(databaseURL, userID string, credits int, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, databaseURL, repository.PoolConfig{MaxConns: 2})
	if err != nil {
		return false, fmt.Errorf("connect database: %w", err)
	}
	defer repo.Close()

	records := repository.NewCreditRecordRepository(repo)
	rec := model.NewRecord(userID, credits, now)

	if _, err := records.Update(ctx, userID, nil, rec); err != nil {
		if errors.Is(err, store.ErrPreconditionFailed) {
			return false, nil
		}
		return false, fmt.Errorf("seed credit record: %w", err)
	}
	return true, nil
}
