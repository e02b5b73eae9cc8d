// Package identity stores credit records inside the private metadata of
// Clerk users.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/clerk/clerk-sdk-go/v2"
	"github.com/clerk/clerk-sdk-go/v2/user"

	"github.com/viralgo/credits/internal/model"
	"github.com/viralgo/credits/internal/store"
)

// legacyCustomerIDKey held the billing customer in the legacy layout, where
// the balance lived in public metadata and subscription fields in private.
const legacyCustomerIDKey = "stripeCustomerId"

// Config configures the API client.
type Config struct {
	// BaseURL overrides the API endpoint, including the version path.
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// Store is a RecordStore over user private metadata. The API has no
// compare-and-set, so Update re-reads the user right before writing and
// refuses to write when the version moved.
type Store struct {
	users *user.Client
}

// New creates a store client.
func New(cfg Config) (*Store, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("identity secret key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	clientCfg := &clerk.ClientConfig{}
	clientCfg.Key = clerk.String(cfg.SecretKey)
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}
	if cfg.BaseURL != "" {
		clientCfg.URL = clerk.String(cfg.BaseURL)
	}
	return &Store{users: user.NewClient(clientCfg)}, nil
}

// Get returns the credit record held in the user's private metadata, or the
// legacy split layout when no record was written yet.
func (s *Store) Get(ctx context.Context, userID string) (*model.Record, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return recordOf(userID, u)
}

// Update merges the credit keys into the user's private metadata. Keys owned
// by other features are left to the server-side merge.
func (s *Store) Update(ctx context.Context, userID string, expected, next *model.Record) (*model.Record, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}

	current, err := recordOf(userID, u)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if !store.Matches(current, expected) {
		return nil, store.ErrPreconditionFailed
	}

	written := next.Clone()
	written.UserID = userID
	written.Version = store.NextVersion(expected)

	fields, err := model.MetadataFields(written)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata update: %w", err)
	}
	private := json.RawMessage(raw)

	if _, err := s.users.UpdateMetadata(ctx, userID, &user.UpdateMetadataParams{PrivateMetadata: &private}); err != nil {
		return nil, classify(err)
	}
	return written, nil
}

// Capabilities reports that preconditions are checked but not atomic.
func (s *Store) Capabilities() store.Capabilities {
	return store.Capabilities{AtomicPreconditions: false}
}

func recordOf(userID string, u *clerk.User) (*model.Record, error) {
	if len(u.PrivateMetadata) > 0 {
		rec, err := model.DecodeMetadata(userID, u.PrivateMetadata)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, model.ErrNoCreditFields) {
			return nil, err
		}
	}
	return legacyRecordOf(userID, u)
}

// legacyRecordOf assembles a record from the split layout. It carries no
// version, so the first write migrates it into private metadata.
func legacyRecordOf(userID string, u *clerk.User) (*model.Record, error) {
	public, err := metadataMap(u.PublicMetadata)
	if err != nil {
		return nil, fmt.Errorf("decode public metadata: %w", err)
	}
	private, err := metadataMap(u.PrivateMetadata)
	if err != nil {
		return nil, fmt.Errorf("decode private metadata: %w", err)
	}

	credits, ok := public[model.KeyCredits]
	if !ok || string(credits) == "null" {
		return nil, store.ErrNotFound
	}

	legacy := map[string]json.RawMessage{model.KeyCredits: credits}
	if v, ok := public[model.KeyLastCreditReset]; ok {
		legacy[model.KeyLastCreditReset] = v
	}
	for _, key := range []string{model.KeySubscriptionStatus, model.KeySubscriptionID} {
		if v, ok := private[key]; ok {
			legacy[key] = v
		}
	}
	if v, ok := private[legacyCustomerIDKey]; ok {
		legacy[model.KeyBillingCustomerID] = v
	}

	blob, err := json.Marshal(legacy)
	if err != nil {
		return nil, fmt.Errorf("marshal legacy metadata: %w", err)
	}
	rec, err := model.DecodeMetadata(userID, blob)
	if err != nil {
		return nil, fmt.Errorf("decode legacy metadata: %w", err)
	}
	rec.Version = 0
	return rec, nil
}

func metadataMap(raw json.RawMessage) (map[string]json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	if len(raw) == 0 || string(raw) == "null" {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// classify maps SDK errors onto store errors. Anything that is not a
// definite API answer is treated as the backend being unavailable.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *clerk.APIErrorResponse
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusNotFound:
			return store.ErrNotFound
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: identity api returned %d", store.ErrUnavailable, apiErr.HTTPStatusCode)
		default:
			return fmt.Errorf("identity api returned %d: %w", apiErr.HTTPStatusCode, err)
		}
	}
	return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
}
