package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/viralgo/credits/internal/billing"
	"github.com/viralgo/credits/internal/billing/stripe"
	"github.com/viralgo/credits/internal/handler/dto"
	"github.com/viralgo/credits/internal/journal"
	"github.com/viralgo/credits/internal/model"
	"github.com/viralgo/credits/internal/service"
	"github.com/viralgo/credits/internal/store"
	"github.com/viralgo/credits/internal/testutil"
)

const webhookSecret = "whsec_test"

func newStripeParser(t *testing.T) *stripe.Provider {
	t.Helper()
	p, err := stripe.New(stripe.Config{SecretKey: "sk_test", WebhookSecret: webhookSecret},
		stripe.WithLogger(testutil.DiscardLogger()))
	require.NoError(t, err)
	return p
}

func signature(secret, payload string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(payload),
		Secret:  secret,
	}).Header
}

func deliver(t *testing.T, env *testEnv, payload, secret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(payload))
	req.Header.Set(stripe.SignatureHeader, signature(secret, payload))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func checkoutPayload(eventID, userID string, created int64) string {
	return fmt.Sprintf(`{"id":%q,"type":"checkout.session.completed","created":%d,
		"data":{"object":{"id":"cs_1","client_reference_id":%q,"customer":"cus_1","subscription":"s_1"}}}`,
		eventID, created, userID)
}

func subscriptionPayload(eventID, typ, userID, status string, created int64) string {
	return fmt.Sprintf(`{"id":%q,"type":%q,"created":%d,
		"data":{"object":{"id":"s_1","customer":"cus_1","status":%q,"metadata":{"user_id":%q}}}}`,
		eventID, typ, created, status, userID)
}

func TestWebhook_CheckoutActivatesFreshUser(t *testing.T) {
	env := newTestEnv(t, nil, newStripeParser(t))

	rec := deliver(t, env, checkoutPayload("evt_1", "user_1", 1746100000), webhookSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[dto.WebhookResponse](t, rec)
	assert.Equal(t, "applied", resp.Outcome)
	assert.False(t, resp.Duplicate)

	got, err := env.store.Get(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, got.SubscriptionStatus)
	assert.Equal(t, 100, got.Credits)
	assert.Equal(t, "s_1", got.SubscriptionID)

	entries, err := env.journal.ListByUser(context.Background(), "user_1", nil, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.StatusApplied, entries[0].Status)

	owner, err := env.journal.LookupUser(context.Background(), "stripe", "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "user_1", owner)
}

func TestWebhook_ReplayIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil, newStripeParser(t))
	payload := checkoutPayload("evt_1", "user_1", 1746100000)

	require.Equal(t, http.StatusOK, deliver(t, env, payload, webhookSecret).Code)
	before, err := env.store.Get(context.Background(), "user_1")
	require.NoError(t, err)

	rec := deliver(t, env, payload, webhookSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[dto.WebhookResponse](t, rec)
	assert.True(t, resp.Duplicate)
	assert.Equal(t, "stale", resp.Outcome)

	after, err := env.store.Get(context.Background(), "user_1")
	require.NoError(t, err)
	assert.True(t, before.Equal(after))
}

func TestWebhook_BadSignatureChangesNothing(t *testing.T) {
	env := newTestEnv(t, nil, newStripeParser(t))

	rec := deliver(t, env, checkoutPayload("evt_1", "user_1", 1746100000), "whsec_wrong")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_SIGNATURE", decode[dto.ErrorResponse](t, rec).Code)

	_, err := env.store.Get(context.Background(), "user_1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	entries, err := env.journal.ListByUser(context.Background(), "user_1", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWebhook_OutOfOrderDelivery(t *testing.T) {
	env := newTestEnv(t, nil, newStripeParser(t))

	require.Equal(t, http.StatusOK, deliver(t, env, checkoutPayload("evt_1", "user_1", 1746100000), webhookSecret).Code)
	rec := deliver(t, env, subscriptionPayload("evt_3", "customer.subscription.deleted", "user_1", "canceled", 1746100200), webhookSecret)
	require.Equal(t, http.StatusOK, rec.Code)

	// An older "active" update arrives late.
	rec = deliver(t, env, subscriptionPayload("evt_2", "customer.subscription.updated", "user_1", "active", 1746100100), webhookSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stale", decode[dto.WebhookResponse](t, rec).Outcome)

	got, err := env.store.Get(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionInactive, got.SubscriptionStatus)
	assert.Empty(t, got.SubscriptionID)
}

func TestWebhook_UnattributableEvent(t *testing.T) {
	env := newTestEnv(t, nil, newStripeParser(t))

	payload := `{"id":"evt_9","type":"customer.subscription.updated","created":1746100000,
		"data":{"object":{"id":"s_9","customer":"cus_unknown","status":"active"}}}`
	rec := deliver(t, env, payload, webhookSecret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_USER_ID", decode[dto.ErrorResponse](t, rec).Code)
}

func TestWebhook_UnknownTypeIgnored(t *testing.T) {
	env := newTestEnv(t, nil, newStripeParser(t))

	rec := deliver(t, env, `{"id":"evt_5","type":"invoice.paid","created":1746100000,"data":{"object":{}}}`, webhookSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode[dto.WebhookResponse](t, rec).Outcome)
}

type failingReconciler struct{ err error }

func (f failingReconciler) Handle(context.Context, *billing.Event) (service.Outcome, error) {
	return "", f.err
}

func TestWebhook_ProcessingFailureAsksForRedelivery(t *testing.T) {
	j := journal.NewMemory()
	h := NewWebhookHandler(newStripeParser(t), j,
		failingReconciler{err: fmt.Errorf("read record: %w", store.ErrUnavailable)}, testutil.DiscardLogger())

	payload := checkoutPayload("evt_1", "user_1", 1746100000)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(payload))
	req.Header.Set(stripe.SignatureHeader, signature(webhookSecret, payload))
	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	entries, err := j.ListByUser(context.Background(), "user_1", []journal.Status{journal.StatusFailed}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Error, "unavailable")
}
