package transport

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/campaign-genjobs/pkg/core"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "user-1",
		"type": "access",
		"exp":  exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	assert.True(t, tokenExpiry(signedToken(t, exp)).Equal(exp))

	assert.True(t, tokenExpiry("not-a-jwt").IsZero())

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"})
	s, err := noExp.SignedString([]byte("k"))
	require.NoError(t, err)
	assert.True(t, tokenExpiry(s).IsZero())
}

func TestRefreshingTokenSource_ReusesValidToken(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	access := signedToken(t, time.Now().Add(time.Hour))
	ts := NewRefreshingTokenSource(srv.URL, Credentials{AccessToken: access, RefreshToken: "r1"})

	for i := 0; i < 3; i++ {
		tok, err := ts.Token()
		require.NoError(t, err)
		assert.Equal(t, access, tok.AccessToken)
	}
	assert.Equal(t, int32(0), refreshes.Load())
}

func TestRefreshingTokenSource_RefreshesExpiredToken(t *testing.T) {
	fresh := signedToken(t, time.Now().Add(time.Hour))
	var seen atomic.Value
	r := chi.NewRouter()
	r.Post("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = jsonDecode(r, &body)
		seen.Store(body["refresh_token"])
		writeJSON(w, http.StatusOK, map[string]any{"access_token": fresh, "refresh_token": "r2", "token_type": "bearer"})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ts := NewRefreshingTokenSource(srv.URL+"/api/v1", Credentials{
		AccessToken:  signedToken(t, time.Now().Add(-time.Minute)),
		RefreshToken: "r1",
	})

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, fresh, tok.AccessToken)
	assert.Equal(t, "r1", seen.Load())
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, 5*time.Second)

	ts.Invalidate()
	_, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "r2", seen.Load(), "rotated refresh token is used next time")
}

func TestRefreshingTokenSource_RejectedRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Invalid refresh token"})
	}))
	t.Cleanup(srv.Close)

	ts := NewRefreshingTokenSource(srv.URL, Credentials{RefreshToken: "revoked"})
	_, err := ts.Token()
	require.Error(t, err)
	assert.Equal(t, core.KindAuth, core.ErrorKindOf(err))
	assert.Contains(t, err.Error(), "Invalid refresh token")
}

func TestRefreshingTokenSource_NoRefreshToken(t *testing.T) {
	ts := NewRefreshingTokenSource("http://127.0.0.1:1", Credentials{})
	_, err := ts.Token()
	assert.ErrorIs(t, err, ErrMissingRefreshToken)
	assert.True(t, IsUnauthorized(err))
}
