package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/jdziat/campaign-genjobs/pkg/core"
)

// ErrMissingRefreshToken is returned when a refresh is needed but no refresh token is known.
var ErrMissingRefreshToken = errors.New("genjobs: refresh token is required")

// Credentials are the tokens issued by the platform's login endpoint.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// refresher exchanges the current refresh token for a new token pair.
type refresher struct {
	endpoint   string
	httpClient *http.Client
	onRefresh  func(Credentials)

	mu           sync.Mutex
	refreshToken string
}

func (r *refresher) Token() (*oauth2.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refreshToken == "" {
		return nil, core.NewTransportError(core.KindAuth, 0, "", ErrMissingRefreshToken)
	}

	body, err := json.Marshal(map[string]string{"refresh_token": r.refreshToken})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, core.NewTransportError(core.KindNetwork, 0, "token refresh failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Any rejected refresh means the session is over.
		terr := errorFromResponse(resp)
		terr.Kind = core.KindAuth
		return nil, terr
	}

	var out refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, core.NewTransportError(core.KindAuth, resp.StatusCode, "malformed token response", err)
	}
	if out.AccessToken == "" {
		return nil, core.NewTransportError(core.KindAuth, resp.StatusCode, "token response without access token", nil)
	}
	if out.RefreshToken != "" {
		r.refreshToken = out.RefreshToken
	}

	tok := &oauth2.Token{
		AccessToken:  out.AccessToken,
		RefreshToken: r.refreshToken,
		TokenType:    out.TokenType,
		Expiry:       tokenExpiry(out.AccessToken),
	}
	if tok.Expiry.IsZero() && out.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	if r.onRefresh != nil {
		r.onRefresh(Credentials{AccessToken: tok.AccessToken, RefreshToken: r.refreshToken})
	}
	return tok, nil
}

// RefreshingTokenSource serves the current access token and renews it
// through /auth/refresh shortly before it expires.
type RefreshingTokenSource struct {
	base *refresher

	mu      sync.Mutex
	current oauth2.TokenSource
}

// RefreshOption configures a RefreshingTokenSource.
type RefreshOption interface {
	applyRefresh(*refresher)
}

type refreshOptionFunc func(*refresher)

func (f refreshOptionFunc) applyRefresh(r *refresher) { f(r) }

// WithRefreshHTTPClient sets the client used for refresh calls.
func WithRefreshHTTPClient(c *http.Client) RefreshOption {
	return refreshOptionFunc(func(r *refresher) {
		if c != nil {
			r.httpClient = c
		}
	})
}

// OnRefresh registers a callback that receives every newly issued token pair,
// for example to save them for the next session.
func OnRefresh(fn func(Credentials)) RefreshOption {
	return refreshOptionFunc(func(r *refresher) {
		r.onRefresh = fn
	})
}

// NewRefreshingTokenSource creates a token source for the API at baseURL.
// The access token may be empty, in which case the first use refreshes.
func NewRefreshingTokenSource(baseURL string, creds Credentials, opts ...RefreshOption) *RefreshingTokenSource {
	base := &refresher{
		endpoint:     strings.TrimRight(baseURL, "/") + "/auth/refresh",
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		refreshToken: creds.RefreshToken,
	}
	for _, opt := range opts {
		opt.applyRefresh(base)
	}

	var initial *oauth2.Token
	if creds.AccessToken != "" {
		initial = &oauth2.Token{
			AccessToken:  creds.AccessToken,
			RefreshToken: creds.RefreshToken,
			TokenType:    "bearer",
			Expiry:       tokenExpiry(creds.AccessToken),
		}
	}
	return &RefreshingTokenSource{
		base:    base,
		current: oauth2.ReuseTokenSource(initial, base),
	}
}

// Token returns a valid access token, refreshing if needed.
func (s *RefreshingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	src := s.current
	s.mu.Unlock()
	return src.Token()
}

// Invalidate discards the cached access token so the next Token call refreshes.
func (s *RefreshingTokenSource) Invalidate() {
	s.mu.Lock()
	s.current = oauth2.ReuseTokenSource(nil, s.base)
	s.mu.Unlock()
}

// tokenExpiry reads the exp claim of a JWT without verifying it. The client
// only uses it to schedule refreshes; the server does the verification.
// It returns the zero time when the token carries no readable expiry.
func tokenExpiry(access string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// invalidator is implemented by token sources that can drop a rejected token.
type invalidator interface {
	Invalidate()
}
