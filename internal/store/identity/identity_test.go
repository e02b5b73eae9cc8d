package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralgo/credits/internal/model"
	"github.com/viralgo/credits/internal/store"
)

type fakeUser struct {
	public  map[string]json.RawMessage
	private map[string]json.RawMessage
}

// fakeAPI emulates the Clerk user endpoints. Metadata updates merge
// top-level keys and drop keys set to null, like the real merge endpoint.
type fakeAPI struct {
	mu      sync.Mutex
	users   map[string]*fakeUser
	patches int
	status  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{users: make(map[string]*fakeUser)}
}

func (f *fakeAPI) addUser(id string, public, private map[string]json.RawMessage) {
	if public == nil {
		public = map[string]json.RawMessage{}
	}
	if private == nil {
		private = map[string]json.RawMessage{}
	}
	f.users[id] = &fakeUser{public: public, private: private}
}

func writeAPIError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"errors":[{"code":%q,"message":%q}]}`, code, code)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer sk_test" {
		writeAPIError(w, http.StatusUnauthorized, "authentication_invalid")
		return
	}
	if f.status != 0 {
		writeAPIError(w, f.status, "upstream_error")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	id, suffix, _ := strings.Cut(rest, "/")
	u, ok := f.users[id]
	if !ok {
		writeAPIError(w, http.StatusNotFound, "resource_not_found")
		return
	}

	switch {
	case r.Method == http.MethodGet && suffix == "":
	case r.Method == http.MethodPatch && suffix == "metadata":
		var req struct {
			PrivateMetadata map[string]json.RawMessage `json:"private_metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(w, http.StatusUnprocessableEntity, "form_param_invalid")
			return
		}
		for k, v := range req.PrivateMetadata {
			if string(v) == "null" {
				delete(u.private, k)
				continue
			}
			u.private[k] = v
		}
		f.patches++
	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":               id,
		"object":           "user",
		"public_metadata":  u.public,
		"private_metadata": u.private,
	})
}

func newTestStore(t *testing.T, api *fakeAPI) *Store {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	s, err := New(Config{BaseURL: srv.URL + "/v1", SecretKey: "sk_test", Timeout: time.Second})
	require.NoError(t, err)
	return s
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestStore_GetWithoutCredits(t *testing.T) {
	api := newFakeAPI()
	api.addUser("user_1", nil, map[string]json.RawMessage{"onboarded": raw(`true`)})
	s := newTestStore(t, api)

	_, err := s.Get(context.Background(), "user_1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_GetUnknownUser(t *testing.T) {
	s := newTestStore(t, newFakeAPI())

	_, err := s.Get(context.Background(), "user_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_UpdatePreservesOtherKeys(t *testing.T) {
	api := newFakeAPI()
	api.addUser("user_1", nil, map[string]json.RawMessage{"onboarded": raw(`true`)})
	s := newTestStore(t, api)
	ctx := context.Background()

	created, err := s.Update(ctx, "user_1", nil, model.NewRecord("user_1", 10, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	got, err := s.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Credits)
	assert.Equal(t, int64(1), got.Version)
	assert.JSONEq(t, `true`, string(api.users["user_1"].private["onboarded"]))
}

func TestStore_UpdateRejectsMovedVersion(t *testing.T) {
	api := newFakeAPI()
	api.addUser("user_1", nil, nil)
	s := newTestStore(t, api)
	ctx := context.Background()

	created, err := s.Update(ctx, "user_1", nil, model.NewRecord("user_1", 10, time.Now()))
	require.NoError(t, err)

	next := created.Clone()
	next.Credits = 8
	_, err = s.Update(ctx, "user_1", created, next)
	require.NoError(t, err)

	_, err = s.Update(ctx, "user_1", created, next)
	assert.ErrorIs(t, err, store.ErrPreconditionFailed)
	assert.Equal(t, 2, api.patches)
	assert.False(t, s.Capabilities().AtomicPreconditions)
}

func TestStore_ReadsLegacyLayout(t *testing.T) {
	api := newFakeAPI()
	api.addUser("user_1",
		map[string]json.RawMessage{
			"credits":         raw(`37`),
			"lastCreditReset": raw(`"2024-03-01T17:00:00.000Z"`),
		},
		map[string]json.RawMessage{
			"subscriptionStatus": raw(`"active"`),
			"subscriptionId":     raw(`"sub_1"`),
			"stripeCustomerId":   raw(`"cus_1"`),
		})
	s := newTestStore(t, api)
	ctx := context.Background()

	legacy, err := s.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, 37, legacy.Credits)
	assert.Equal(t, model.SubscriptionActive, legacy.SubscriptionStatus)
	assert.Equal(t, "sub_1", legacy.SubscriptionID)
	assert.Equal(t, "cus_1", legacy.BillingCustomerID)
	assert.True(t, legacy.LastResetAt.Equal(time.Date(2024, 3, 1, 17, 0, 0, 0, time.UTC)))
	assert.Equal(t, int64(0), legacy.Version)

	// a create over a legacy balance loses; the caller must start from it
	_, err = s.Update(ctx, "user_1", nil, model.NewRecord("user_1", 10, time.Now()))
	assert.ErrorIs(t, err, store.ErrPreconditionFailed)

	next := legacy.Clone()
	next.Credits = 35
	migrated, err := s.Update(ctx, "user_1", legacy, next)
	require.NoError(t, err)
	assert.Equal(t, int64(1), migrated.Version)

	got, err := s.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, got.Equal(migrated), "got %+v want %+v", got, migrated)
	assert.JSONEq(t, `35`, string(api.users["user_1"].private["credits"]))
}

func TestStore_ServerErrorsAreUnavailable(t *testing.T) {
	api := newFakeAPI()
	api.status = http.StatusBadGateway
	s := newTestStore(t, api)

	_, err := s.Get(context.Background(), "user_1")
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
