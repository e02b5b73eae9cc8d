package service

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralgo/credits/internal/billing"
	"github.com/viralgo/credits/internal/journal"
	"github.com/viralgo/credits/internal/model"
	"github.com/viralgo/credits/internal/store/memory"
	"github.com/viralgo/credits/internal/testutil"
)

type fakeProvider struct {
	mu          sync.Mutex
	customers   int
	activeSubs  []string
	lastRequest billing.CheckoutRequest
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) ParseWebhook(context.Context, []byte, http.Header) (*billing.Event, error) {
	return nil, billing.ErrSignatureVerification
}

func (p *fakeProvider) CreateCustomer(_ context.Context, userID, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customers++
	return "cus_" + userID, nil
}

func (p *fakeProvider) ListActiveSubscriptions(context.Context, string) ([]string, error) {
	return p.activeSubs, nil
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	p.mu.Lock()
	p.lastRequest = req
	p.mu.Unlock()
	return &billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1"}, nil
}

func (p *fakeProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (*billing.PortalSession, error) {
	return &billing.PortalSession{URL: "https://portal.example/" + customerID}, nil
}

func newBillingEnv(t *testing.T) (*BillingService, *fakeProvider, *memory.Store, *journal.Memory) {
	t.Helper()
	provider := &fakeProvider{}
	records := memory.New()
	customers := journal.NewMemory()
	svc := NewBillingService(provider, records, newTestPolicy(t), customers, newFakeClock(noon),
		BillingConfig{
			PriceID:         "price_1",
			SuccessURL:      "https://app.example/account?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:       "https://app.example/account",
			PortalReturnURL: "https://app.example",
		}, testutil.DiscardLogger(), nil)
	svc.w.sleep = noSleep
	return svc, provider, records, customers
}

func TestBillingService_CheckoutCreatesCustomerOnce(t *testing.T) {
	svc, provider, records, customers := newBillingEnv(t)
	ctx := context.Background()

	session, err := svc.Checkout(ctx, "u", "u@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cs_1", session.ID)
	assert.Equal(t, "u", provider.lastRequest.UserID)
	assert.Equal(t, "cus_u", provider.lastRequest.CustomerID)
	assert.Equal(t, "price_1", provider.lastRequest.PriceID)

	rec, err := records.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "cus_u", rec.BillingCustomerID)
	assert.Equal(t, 10, rec.Credits)

	_, err = svc.Checkout(ctx, "u", "u@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.customers)

	userID, err := customers.LookupUser(ctx, "fake", "cus_u")
	require.NoError(t, err)
	assert.Equal(t, "u", userID)
}

func TestBillingService_Portal(t *testing.T) {
	svc, provider, records, _ := newBillingEnv(t)
	ctx := context.Background()

	_, err := svc.Portal(ctx, "u")
	assert.ErrorIs(t, err, ErrNoBillingCustomer)

	records.Put(&model.Record{UserID: "u", Credits: 10, LastResetAt: noon, BillingCustomerID: "cus_u", Version: 1})
	_, err = svc.Portal(ctx, "u")
	assert.ErrorIs(t, err, ErrNoActiveSubscription)

	provider.activeSubs = []string{"s_1"}
	session, err := svc.Portal(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "https://portal.example/cus_u", session.URL)
}
