package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"liveclass-backend/internal/metrics"
	"liveclass-backend/internal/models"
)

const (
	defaultSafetyMargin   = 60 * time.Second
	defaultRefreshTimeout = 15 * time.Second
	tokenFlightKey        = "zoom-access-token"
)

type ZoomCredentials struct {
	ClientID     string
	ClientSecret string
	AccountID    string
}

// Validate returns an *AuthConfigError naming every missing field.
func (c ZoomCredentials) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if c.AccountID == "" {
		missing = append(missing, "account_id")
	}
	if len(missing) > 0 {
		return &AuthConfigError{Missing: missing}
	}
	return nil
}

// TokenExchanger performs one client-credentials exchange.
type TokenExchanger interface {
	Exchange(ctx context.Context) (value string, expiresIn time.Duration, err error)
}

// TokenCache holds the single provider bearer token for this process.
// Concurrent refreshes collapse into one exchange.
type TokenCache struct {
	mu    sync.RWMutex
	token models.AccessToken

	flight         singleflight.Group
	exchanger      TokenExchanger
	margin         time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
}

type TokenCacheOption func(*TokenCache)

func WithSafetyMargin(d time.Duration) TokenCacheOption {
	return func(c *TokenCache) { c.margin = d }
}

func WithClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) { c.now = now }
}

func WithTokenExchanger(ex TokenExchanger) TokenCacheOption {
	return func(c *TokenCache) { c.exchanger = ex }
}

func WithRefreshTimeout(d time.Duration) TokenCacheOption {
	return func(c *TokenCache) { c.refreshTimeout = d }
}

func NewTokenCache(creds ZoomCredentials, oauthURL string, httpClient *http.Client, opts ...TokenCacheOption) (*TokenCache, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &TokenCache{
		exchanger:      &oauthExchanger{creds: creds, tokenURL: oauthURL, http: httpClient},
		margin:         defaultSafetyMargin,
		refreshTimeout: defaultRefreshTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetToken returns the cached token while it is outside the safety margin,
// otherwise refreshes it. Cancelling ctx abandons the wait but not an
// exchange already in flight.
func (c *TokenCache) GetToken(ctx context.Context) (models.AccessToken, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	ch := c.flight.DoChan(tokenFlightKey, func() (interface{}, error) {
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return models.AccessToken{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.AccessToken{}, res.Err
		}
		return res.Val.(models.AccessToken), nil
	}
}

// Invalidate drops the cached token, e.g. after the provider answered 401.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = models.AccessToken{}
	c.mu.Unlock()
}

func (c *TokenCache) cached() (models.AccessToken, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token.ValidAt(c.now(), c.margin) {
		return c.token, true
	}
	return models.AccessToken{}, false
}

func (c *TokenCache) refresh(ctx context.Context) (models.AccessToken, error) {
	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	value, expiresIn, err := c.exchanger.Exchange(ctx)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		var fetchErr *TokenFetchError
		if !errors.As(err, &fetchErr) {
			err = &TokenFetchError{Err: err}
		}
		return models.AccessToken{}, err
	}

	tok := models.AccessToken{Value: value, ExpiresAt: c.now().Add(expiresIn)}
	if !tok.ValidAt(c.now(), 0) {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return models.AccessToken{}, &TokenFetchError{Err: fmt.Errorf("token has no remaining lifetime (expires_in=%s)", expiresIn)}
	}

	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()

	metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	log.Printf("zoom: access token refreshed, expires at %s", tok.ExpiresAt.UTC().Format(time.RFC3339))
	return tok, nil
}

type oauthExchanger struct {
	creds    ZoomCredentials
	tokenURL string
	http     *http.Client
}

type oauthTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Reason      string `json:"reason"`
	Error       string `json:"error"`
}

func (e *oauthExchanger) Exchange(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "account_credentials")
	form.Set("account_id", e.creds.AccountID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, &TokenFetchError{Err: err}
	}
	req.SetBasicAuth(e.creds.ClientID, e.creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.http.Do(req)
	if err != nil {
		return "", 0, &TokenFetchError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var parsed oauthTokenResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := parsed.Reason
		if reason == "" {
			reason = strings.TrimSpace(string(body))
		}
		return "", 0, &TokenFetchError{Status: resp.StatusCode, Err: errors.New(reason)}
	}
	if parsed.AccessToken == "" {
		return "", 0, &TokenFetchError{Status: resp.StatusCode, Err: errors.New("no access token received from Zoom")}
	}

	return parsed.AccessToken, time.Duration(parsed.ExpiresIn) * time.Second, nil
}
