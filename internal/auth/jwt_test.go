package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret-0123456789"

var now = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return now }

func TestVerifier_Valid(t *testing.T) {
	token, err := Mint(secret, "user_1", "a@example.com", "", time.Hour, now)
	require.NoError(t, err)

	p, err := NewVerifier(secret, WithTimeFunc(fixedNow)).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user_1", p.UserID)
	assert.Equal(t, "a@example.com", p.Email)
}

func TestVerifier_Rejects(t *testing.T) {
	valid, err := Mint(secret, "user_1", "", "", time.Hour, now)
	require.NoError(t, err)
	expired, err := Mint(secret, "user_1", "", "", time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	wrongKey, err := Mint("another-secret-xxxxxxx", "user_1", "", "", time.Hour, now)
	require.NoError(t, err)
	noSubject, err := Mint(secret, " ", "", "", time.Hour, now)
	require.NoError(t, err)
	otherIssuer, err := Mint(secret, "user_1", "", "https://evil.test", time.Hour, now)
	require.NoError(t, err)

	noneAlg := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user_1",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	unsigned, err := noneAlg.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	v := NewVerifier(secret, WithTimeFunc(fixedNow), WithIssuer("https://clerk.test"))
	tests := map[string]string{
		"empty":       "",
		"garbage":     "not-a-jwt",
		"expired":     expired,
		"wrong key":   wrongKey,
		"no subject":  noSubject,
		"issuer":      otherIssuer,
		"alg none":    unsigned,
		"missing iss": valid,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnauthenticated), "got %v", err)
		})
	}
}

func TestBearerToken(t *testing.T) {
	token, err := BearerToken("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)

	token, err = BearerToken("bearer xyz")
	require.NoError(t, err)
	assert.Equal(t, "xyz", token)

	for _, h := range []string{"", "Bearer", "Bearer   ", "Basic abc", "abc"} {
		_, err := BearerToken(h)
		assert.ErrorIs(t, err, ErrUnauthenticated, "header %q", h)
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, PrincipalFromContext(ctx))
	assert.Equal(t, "", UserIDFromContext(ctx))
	assert.Panics(t, func() { MustPrincipalFromContext(ctx) })

	ctx = ContextWithPrincipal(ctx, &Principal{UserID: "user_9"})
	assert.Equal(t, "user_9", UserIDFromContext(ctx))
	assert.Equal(t, "user_9", MustPrincipalFromContext(ctx).UserID)
}
