// Package auth caches the OAuth2 client-credentials bearer token used to call
// the flight tracking API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultSafetyMargin is how long before expiry a token is refreshed
	DefaultSafetyMargin = 60 * time.Second
	// DefaultTTL applies when the token endpoint omits expires_in
	DefaultTTL = 5 * time.Minute
	// DefaultTimeout bounds a single token exchange
	DefaultTimeout = 10 * time.Second
)

// ErrAuthExchangeFailed is matched by every token exchange failure
var ErrAuthExchangeFailed = errors.New("auth exchange failed")

// AuthExchangeError describes a failed token exchange. StatusCode is set when
// the token endpoint answered with an HTTP error.
type AuthExchangeError struct {
	StatusCode int
	Err        error
}

func (e *AuthExchangeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v: token endpoint returned %d: %v", ErrAuthExchangeFailed, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%v: %v", ErrAuthExchangeFailed, e.Err)
}

func (e *AuthExchangeError) Unwrap() []error {
	return []error{ErrAuthExchangeFailed, e.Err}
}

// Exchanger obtains a new token from the authorization server
type Exchanger interface {
	Exchange(ctx context.Context) (*oauth2.Token, error)
}

// Recorder receives token exchange outcomes
type Recorder interface {
	IncrementTokenExchanges()
	IncrementTokenFailures()
}

// ClientCredentials exchanges a client id and secret for a bearer token,
// sending the credentials in the form body
type ClientCredentials struct {
	config clientcredentials.Config
	client *http.Client
}

// NewClientCredentials creates an exchanger for the given token endpoint
func NewClientCredentials(tokenURL, clientID, clientSecret string, timeout time.Duration) *ClientCredentials {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ClientCredentials{
		config: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		client: &http.Client{Timeout: timeout},
	}
}

// Exchange performs the client-credentials grant
func (c *ClientCredentials) Exchange(ctx context.Context) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	return c.config.Token(ctx)
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// TokenCache hands out a cached bearer token and refreshes it when it is
// missing or about to expire. Valid tokens are read concurrently; at most one
// exchange is in flight at any time.
type TokenCache struct {
	exchanger  Exchanger
	margin     time.Duration
	defaultTTL time.Duration
	timeout    time.Duration
	now        func() time.Time
	recorder   Recorder

	mu    sync.RWMutex
	token *cachedToken

	group singleflight.Group
}

// Option configures a TokenCache
type Option func(*TokenCache)

// WithSafetyMargin sets how long before expiry the token is refreshed
func WithSafetyMargin(d time.Duration) Option {
	return func(c *TokenCache) { c.margin = d }
}

// WithDefaultTTL sets the lifetime assumed when the server sends no expiry
func WithDefaultTTL(d time.Duration) Option {
	return func(c *TokenCache) { c.defaultTTL = d }
}

// WithTimeout bounds each token exchange
func WithTimeout(d time.Duration) Option {
	return func(c *TokenCache) { c.timeout = d }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(c *TokenCache) { c.now = now }
}

// WithRecorder reports exchanges to r
func WithRecorder(r Recorder) Option {
	return func(c *TokenCache) { c.recorder = r }
}

// NewTokenCache creates an empty cache backed by exchanger
func NewTokenCache(exchanger Exchanger, opts ...Option) *TokenCache {
	c := &TokenCache{
		exchanger:  exchanger,
		margin:     DefaultSafetyMargin,
		defaultTTL: DefaultTTL,
		timeout:    DefaultTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a valid bearer token, exchanging credentials for a new one
// when the cache is empty or the token expires within the safety margin.
// A failed exchange leaves the cache untouched and never falls back to an
// expiring token.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if value, ok := c.cached(); ok {
		return value, nil
	}

	ch := c.group.DoChan("token", func() (interface{}, error) {
		// A caller that waited on the lock may find a fresh token already.
		if value, ok := c.cached(); ok {
			return value, nil
		}
		return c.refresh()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &AuthExchangeError{Err: ctx.Err()}
	}
}

// Invalidate drops the cached token if it still holds value, so that the
// next call exchanges credentials again
func (c *TokenCache) Invalidate(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil && c.token.value == value {
		c.token = nil
	}
}

// ExpiresAt returns the expiry of the cached token, zero when empty
func (c *TokenCache) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil {
		return time.Time{}
	}
	return c.token.expiresAt
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil || !c.now().Add(c.margin).Before(c.token.expiresAt) {
		return "", false
	}
	return c.token.value, true
}

// refresh runs detached from the caller's context since other callers may
// be waiting on the same exchange
func (c *TokenCache) refresh() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	tok, err := c.exchanger.Exchange(ctx)
	if err == nil && (tok == nil || tok.AccessToken == "") {
		err = errors.New("token endpoint returned no access token")
	}
	if err != nil {
		if c.recorder != nil {
			c.recorder.IncrementTokenFailures()
		}
		exchangeErr := &AuthExchangeError{Err: err}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			exchangeErr.StatusCode = retrieveErr.Response.StatusCode
		}
		return "", exchangeErr
	}

	expiresAt := c.now().Add(c.lifetime(tok))

	c.mu.Lock()
	c.token = &cachedToken{value: tok.AccessToken, expiresAt: expiresAt}
	c.mu.Unlock()

	if c.recorder != nil {
		c.recorder.IncrementTokenExchanges()
	}
	return tok.AccessToken, nil
}

// lifetime is how long tok stays valid, measured from the exchange. oauth2
// stamps Expiry with the real clock, so only its distance from time.Now is
// kept and the cache's own clock anchors it.
func (c *TokenCache) lifetime(tok *oauth2.Token) time.Duration {
	switch {
	case tok.ExpiresIn > 0:
		return time.Duration(tok.ExpiresIn) * time.Second
	case !tok.Expiry.IsZero():
		return time.Until(tok.Expiry)
	default:
		return c.defaultTTL
	}
}
