package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func signToken(t *testing.T, exp time.Time) string {
	t.Helper()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: testKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)

	claims := jwt.Claims{Subject: "station-owner"}
	if !exp.IsZero() {
		claims.Expiry = jwt.NewNumericDate(exp)
	}

	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	require.NoError(t, err)
	return token
}

type stubRefresher struct {
	tokens []string
	calls  int
	err    error
}

func (s *stubRefresher) Refresh(context.Context) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.tokens[s.calls-1], nil
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	got, err := TokenExpiry(signToken(t, exp))
	require.NoError(t, err)
	assert.True(t, got.Equal(exp), "got %v, want %v", got, exp)
}

func TestTokenExpiry_Errors(t *testing.T) {
	_, err := TokenExpiry(signToken(t, time.Time{}))
	assert.ErrorIs(t, err, ErrNoExpiry)

	_, err = TokenExpiry("not-a-jwt")
	assert.Error(t, err)
}

func TestNewSession_RequiresTokenOrRefresher(t *testing.T) {
	_, err := NewSession("", nil)
	assert.Error(t, err)
}

func TestSession_ExpiresWithin(t *testing.T) {
	soon, err := NewSession(signToken(t, time.Now().Add(2*time.Minute)), nil)
	require.NoError(t, err)
	assert.True(t, soon.ExpiresWithin(5*time.Minute))
	assert.False(t, soon.ExpiresWithin(time.Minute))

	opaque, err := NewSession("opaque-api-key", nil)
	require.NoError(t, err)
	assert.True(t, opaque.Expiry().IsZero())
	assert.False(t, opaque.ExpiresWithin(time.Hour), "unknown expiry is assumed valid")

	empty, err := NewSession("", &stubRefresher{})
	require.NoError(t, err)
	assert.True(t, empty.ExpiresWithin(time.Minute))
}

func TestSession_Refresh(t *testing.T) {
	next := signToken(t, time.Now().Add(24*time.Hour))
	refresher := &stubRefresher{tokens: []string{next}}

	s, err := NewSession("old", refresher)
	require.NoError(t, err)

	token, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, next, token)
	assert.Equal(t, next, s.Token())
	assert.False(t, s.Expiry().IsZero())
}

func TestSession_RefreshErrors(t *testing.T) {
	static, err := NewSession("static", nil)
	require.NoError(t, err)
	_, err = static.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoRefresher)

	boom := errors.New("login down")
	failing, err := NewSession("old", &stubRefresher{err: boom})
	require.NoError(t, err)
	_, err = failing.Refresh(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "old", failing.Token(), "failed refresh keeps the old token")
}

func TestSession_EnsureFresh(t *testing.T) {
	refresher := &stubRefresher{tokens: []string{signToken(t, time.Now().Add(time.Hour))}}
	s, err := NewSession(signToken(t, time.Now().Add(30*time.Second)), refresher)
	require.NoError(t, err)

	require.NoError(t, s.EnsureFresh(context.Background(), 5*time.Minute))
	assert.Equal(t, 1, refresher.calls)

	require.NoError(t, s.EnsureFresh(context.Background(), 5*time.Minute))
	assert.Equal(t, 1, refresher.calls, "fresh token is not refreshed again")
}

func TestLoginRefresher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if body.Username != "me@example.com" || body.Password != "secret" {
			http.Error(w, `{"code":"InvalidCredentials"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token": "fresh-token", "refreshToken": "r"}`))
	}))
	defer server.Close()

	good, err := NewLoginRefresher(server.URL, "me@example.com", "secret", "test")
	require.NoError(t, err)
	token, err := good.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)

	bad, err := NewLoginRefresher(server.URL, "me@example.com", "wrong", "test")
	require.NoError(t, err)
	_, err = bad.Refresh(context.Background())
	assert.ErrorContains(t, err, "401")
}

func TestNewLoginRefresher_RequiresCredentials(t *testing.T) {
	_, err := NewLoginRefresher("https://example.com", "", "secret", "")
	assert.Error(t, err)
}
