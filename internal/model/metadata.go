package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNoCreditFields is returned when a metadata blob carries no credit state.
var ErrNoCreditFields = errors.New("metadata has no credit fields")

// Metadata keys. They match the keys the dashboard already writes into user metadata.
const (
	KeyCredits             = "credits"
	KeyLastCreditReset     = "lastCreditReset"
	KeySubscriptionStatus  = "subscriptionStatus"
	KeySubscriptionID      = "subscriptionId"
	KeyBillingCustomerID   = "billingCustomerId"
	KeyLastAppliedEventSeq = "lastAppliedEventSeq"
	KeyVersion             = "version"
)

// CreditKeys lists every key owned by the credit record.
var CreditKeys = []string{
	KeyCredits,
	KeyLastCreditReset,
	KeySubscriptionStatus,
	KeySubscriptionID,
	KeyBillingCustomerID,
	KeyLastAppliedEventSeq,
	KeyVersion,
}

type metadata struct {
	Credits             *int    `json:"credits"`
	LastCreditReset     string  `json:"lastCreditReset,omitempty"`
	SubscriptionStatus  string  `json:"subscriptionStatus,omitempty"`
	SubscriptionID      *string `json:"subscriptionId"`
	BillingCustomerID   *string `json:"billingCustomerId"`
	LastAppliedEventSeq int64   `json:"lastAppliedEventSeq,omitempty"`
	Version             int64   `json:"version"`
}

// EncodeMetadata serializes the record into its metadata blob.
func EncodeMetadata(r *Record) ([]byte, error) {
	fields, err := MetadataFields(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// MetadataFields returns the record as raw metadata values keyed by CreditKeys.
// Callers that share a metadata object with other owners merge these keys into it.
func MetadataFields(r *Record) (map[string]json.RawMessage, error) {
	credits := r.Credits
	m := metadata{
		Credits:             &credits,
		SubscriptionStatus:  string(r.Status()),
		SubscriptionID:      nullable(r.SubscriptionID),
		BillingCustomerID:   nullable(r.BillingCustomerID),
		LastAppliedEventSeq: r.LastAppliedEventSeq,
		Version:             r.Version,
	}
	if !r.LastResetAt.IsZero() {
		m.LastCreditReset = r.LastResetAt.UTC().Format(time.RFC3339Nano)
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("split metadata: %w", err)
	}
	return fields, nil
}

// DecodeMetadata parses a metadata blob into a record for userID.
// Returns ErrNoCreditFields when the blob has never held a credit balance.
func DecodeMetadata(userID string, blob []byte) (*Record, error) {
	var m metadata
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if m.Credits == nil {
		return nil, ErrNoCreditFields
	}

	r := &Record{
		UserID:              userID,
		Credits:             *m.Credits,
		SubscriptionStatus:  SubscriptionStatus(m.SubscriptionStatus),
		LastAppliedEventSeq: m.LastAppliedEventSeq,
		Version:             m.Version,
	}
	if r.Credits < 0 {
		r.Credits = 0
	}
	if !r.SubscriptionStatus.IsValid() {
		r.SubscriptionStatus = SubscriptionNone
	}
	if m.SubscriptionID != nil {
		r.SubscriptionID = *m.SubscriptionID
	}
	if m.BillingCustomerID != nil {
		r.BillingCustomerID = *m.BillingCustomerID
	}
	if m.LastCreditReset != "" {
		ts, err := time.Parse(time.RFC3339Nano, m.LastCreditReset)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", KeyLastCreditReset, err)
		}
		r.LastResetAt = ts.UTC()
	}
	return r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
