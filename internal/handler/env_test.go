package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/viralgo/credits/internal/auth"
	"github.com/viralgo/credits/internal/billing"
	"github.com/viralgo/credits/internal/clock"
	"github.com/viralgo/credits/internal/entitlement"
	"github.com/viralgo/credits/internal/journal"
	"github.com/viralgo/credits/internal/metrics"
	"github.com/viralgo/credits/internal/service"
	"github.com/viralgo/credits/internal/store/memory"
	"github.com/viralgo/credits/internal/testutil"
)

type testEnv struct {
	router  http.Handler
	store   *memory.Store
	journal *journal.Memory
	clock   *mutableClock
	metrics *metrics.InMemoryRecorder
}

type mutableClock struct{ now time.Time }

func (c *mutableClock) Now() time.Time { return c.now }

// fakeSessions stands in for the billing service.
type fakeSessions struct {
	checkoutErr error
	portalErr   error
	email       string
}

func (f *fakeSessions) Checkout(_ context.Context, userID, email string) (*billing.CheckoutSession, error) {
	f.email = email
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	return &billing.CheckoutSession{ID: "cs_" + userID, URL: "https://checkout.test/" + userID}, nil
}

func (f *fakeSessions) Portal(_ context.Context, userID string) (*billing.PortalSession, error) {
	if f.portalErr != nil {
		return nil, f.portalErr
	}
	return &billing.PortalSession{URL: "https://portal.test/" + userID}, nil
}

func newTestEnv(t *testing.T, sessions BillingSessions, parser WebhookParser) *testEnv {
	t.Helper()

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	policy, err := entitlement.NewPolicy(entitlement.DefaultConfig(), clock.NewResolverIn(loc))
	require.NoError(t, err)

	env := &testEnv{
		store:   memory.New(),
		journal: journal.NewMemory(),
		clock:   &mutableClock{now: time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC)},
		metrics: metrics.NewInMemory(),
	}
	logger := testutil.DiscardLogger()

	ledger := service.NewLedger(env.store, policy, env.clock, service.LedgerConfig{}, logger, env.metrics,
		service.WithSleep(func(context.Context, time.Duration) error { return nil }))
	reconciler := service.NewReconciler(env.store, policy, env.journal, env.clock, service.LedgerConfig{}, logger, env.metrics)

	credits := NewCreditsHandler(ledger, policy, 0, logger)
	if sessions == nil {
		sessions = &fakeSessions{}
	}
	billingHandler := NewBillingHandler(sessions, env.journal, logger)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(fakeAuth)
		r.Get("/api/v1/credits", credits.Get)
		r.Post("/api/v1/credits", credits.Initialize)
		r.Put("/api/v1/credits", credits.Debit)
		r.Patch("/api/v1/credits", credits.Grant)
		r.Post("/api/v1/billing/checkout", billingHandler.Checkout)
		r.Post("/api/v1/billing/portal", billingHandler.Portal)
		r.Get("/api/v1/billing/events", billingHandler.Events)
	})
	if parser != nil {
		r.Post("/webhooks/billing", NewWebhookHandler(parser, env.journal, reconciler, logger).Receive)
	}
	env.router = r
	return env
}

// fakeAuth trusts X-Test-User; requests without it stay anonymous.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Test-User"); id != "" {
			p := &auth.Principal{UserID: id, Email: id + "@example.com"}
			r = r.WithContext(auth.ContextWithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-Test-User", userID)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
