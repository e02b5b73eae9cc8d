package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeMetadata(t *testing.T) {
	t.Parallel()

	rec := &Record{
		UserID:              "user_1",
		Credits:             42,
		LastResetAt:         time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		SubscriptionStatus:  SubscriptionActive,
		SubscriptionID:      "sub_1",
		BillingCustomerID:   "cus_1",
		LastAppliedEventSeq: 1700000000000000,
		Version:             7,
	}

	blob, err := EncodeMetadata(rec)
	require.NoError(t, err)

	got, err := DecodeMetadata("user_1", blob)
	require.NoError(t, err)
	assert.True(t, rec.Equal(got), "decoded record differs: %+v", got)
}

func TestEncodeMetadata_NullableFields(t *testing.T) {
	t.Parallel()

	blob, err := EncodeMetadata(NewRecord("user_1", 10, time.Now()))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(blob, &raw))

	assert.Contains(t, raw, KeySubscriptionID)
	assert.Nil(t, raw[KeySubscriptionID])
	assert.Equal(t, "none", raw[KeySubscriptionStatus])
	assert.EqualValues(t, 10, raw[KeyCredits])
}

func TestDecodeMetadata_LegacyBlob(t *testing.T) {
	t.Parallel()

	blob := []byte(`{"credits":8,"lastCreditReset":"2024-11-02T04:15:00.000Z","subscriptionStatus":"active","subscriptionId":"sub_9","theme":"dark"}`)

	got, err := DecodeMetadata("user_2", blob)
	require.NoError(t, err)

	assert.Equal(t, 8, got.Credits)
	assert.Equal(t, SubscriptionActive, got.SubscriptionStatus)
	assert.Equal(t, "sub_9", got.SubscriptionID)
	assert.Equal(t, int64(0), got.Version)
	assert.True(t, got.LastResetAt.Equal(time.Date(2024, 11, 2, 4, 15, 0, 0, time.UTC)))
}

func TestDecodeMetadata_NoCredits(t *testing.T) {
	t.Parallel()

	_, err := DecodeMetadata("user_3", []byte(`{"theme":"dark"}`))
	assert.ErrorIs(t, err, ErrNoCreditFields)
}

func TestDecodeMetadata_SanitizesValues(t *testing.T) {
	t.Parallel()

	got, err := DecodeMetadata("user_4", []byte(`{"credits":-5,"subscriptionStatus":"trialing"}`))
	require.NoError(t, err)

	assert.Equal(t, 0, got.Credits)
	assert.Equal(t, SubscriptionNone, got.SubscriptionStatus)
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	rec := NewRecord("user_5", 10, time.Now())
	c := rec.Clone()
	c.Credits = 3

	assert.Equal(t, 10, rec.Credits)
	assert.False(t, rec.Equal(c))
}
