package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralgo/credits/internal/auth"
	"github.com/viralgo/credits/internal/billing/stripe"
	"github.com/viralgo/credits/internal/cache"
	"github.com/viralgo/credits/internal/clock"
	"github.com/viralgo/credits/internal/config"
	"github.com/viralgo/credits/internal/entitlement"
	"github.com/viralgo/credits/internal/handler"
	"github.com/viralgo/credits/internal/journal"
	"github.com/viralgo/credits/internal/metrics"
	"github.com/viralgo/credits/internal/service"
	"github.com/viralgo/credits/internal/store"
	"github.com/viralgo/credits/internal/store/memory"
	"github.com/viralgo/credits/internal/testutil"
	"github.com/viralgo/credits/internal/usage"
)

const (
	jwtSecret     = "router-test-secret-0123"
	webhookSecret = "whsec_router"
)

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "postgres://app@db:5432/credits", redactURL("postgres://app:hunter2@db:5432/credits"))
	assert.Equal(t, "redis://redacted@cache:6379", redactURL("redis://:hunter2@cache:6379"))
	assert.Equal(t, "", redactURL(""))
}

func TestSanitizeError(t *testing.T) {
	dsn := "postgres://app:hunter2@db:5432/credits"
	err := errors.New("dial " + dsn + " failed; password=hunter2")

	msg := sanitizeError(err, dsn)
	assert.NotContains(t, msg, "hunter2")
	assert.Contains(t, msg, "postgres://app@db:5432/credits")
	assert.Equal(t, "", sanitizeError(nil))
}

type routerEnv struct {
	handler http.Handler
	records *memory.Store
	mr      *miniredis.Miniredis
}

func newRouterEnv(t *testing.T, appEnv string) *routerEnv {
	t.Helper()

	cfg := &config.Config{
		AppEnv:                appEnv,
		MaxRequestBodySize:    1 << 20,
		RateLimitEnabled:      true,
		RateLimitUserPerMin:   600,
		RateLimitUserBurst:    50,
		RateLimitWebhookRPS:   50,
		RateLimitWebhookBurst: 50,
	}
	logger := testutil.DiscardLogger()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cacheClient := cache.NewFromClient(client)

	registry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheus(registry)

	policy, err := entitlement.NewPolicy(entitlement.DefaultConfig(), clock.NewResolverIn(time.UTC))
	require.NoError(t, err)

	mem := memory.New()
	records := store.WithMetrics(store.WithRetry(mem, store.DefaultRetryConfig()), recorder)
	events := journal.NewMemory()

	ledger := service.NewLedger(records, policy, clock.System, service.LedgerConfig{}, logger, recorder,
		service.WithUsageSink(usage.NewPublisher(client, logger, recorder)))
	reconciler := service.NewReconciler(records, policy, events, clock.System, service.LedgerConfig{}, logger, recorder)

	provider, err := stripe.New(stripe.Config{SecretKey: "sk_test", WebhookSecret: webhookSecret}, stripe.WithLogger(logger))
	require.NoError(t, err)

	deps := routerDeps{
		cfg:      cfg,
		logger:   logger,
		root:     handler.New(),
		health:   handler.NewHealthHandler(handler.Dependency{Name: "redis", Checker: cacheClient}),
		credits:  handler.NewCreditsHandler(ledger, policy, 0, logger),
		webhook:  handler.NewWebhookHandler(provider, events, reconciler, logger),
		metrics:  handler.NewMetricsHandler(registry),
		verifier: auth.NewVerifier(jwtSecret),
		limiter:  cacheClient,
		recorder: recorder,
	}

	return &routerEnv{handler: setupRouter(deps), records: mem, mr: mr}
}

func (e *routerEnv) request(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		token, err := auth.Mint(jwtSecret, userID, "", "", time.Hour, time.Now())
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouter_CreditLifecycle(t *testing.T) {
	env := newRouterEnv(t, "production")

	rec := env.request(t, http.MethodGet, "/api/v1/credits", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/credits", "user_1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = env.request(t, http.MethodPut, "/api/v1/credits", "user_1", `{"action":"create"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var debit map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &debit))
	assert.EqualValues(t, 8, debit["credits"])

	// Development-only top-up is not routed in production.
	rec = env.request(t, http.MethodPatch, "/api/v1/credits", "user_1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	// The debit was published to the usage stream.
	require.Eventually(t, func() bool {
		entries, err := env.mr.Stream(usage.StreamKey)
		return err == nil && len(entries) == 1
	}, time.Second, 10*time.Millisecond)

	rec = env.request(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "credits_debits_total")
}

func TestRouter_DevelopmentGrant(t *testing.T) {
	env := newRouterEnv(t, "development")

	rec := env.request(t, http.MethodPatch, "/api/v1/credits", "user_1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := env.records.Get(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, 20, got.Credits)
}

func TestRouter_WebhookRejectsUnsigned(t *testing.T) {
	env := newRouterEnv(t, "production")

	rec := env.request(t, http.MethodPost, "/webhooks/billing", "",
		`{"id":"evt_1","type":"checkout.session.completed","created":1,"data":{"object":{"client_reference_id":"user_1"}}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := env.records.Get(context.Background(), "user_1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRouter_HealthAndNotFound(t *testing.T) {
	env := newRouterEnv(t, "production")

	assert.Equal(t, http.StatusOK, env.request(t, http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusOK, env.request(t, http.MethodGet, "/readyz", "", "").Code)
	assert.Equal(t, http.StatusNotFound, env.request(t, http.MethodGet, "/nope", "", "").Code)

	// Billing routes are absent without a billing service.
	rec := env.request(t, http.MethodPost, "/api/v1/billing/checkout", "user_1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
