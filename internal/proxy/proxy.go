// Package proxy forwards live-track requests to the flight tracking API with
// a cached bearer token, trimming oversized track paths on the way back.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/saviobatista/flightpath/internal/auth"
	"github.com/saviobatista/flightpath/internal/logging"
)

const (
	// DefaultPrefix is the local route the proxy is mounted on
	DefaultPrefix = "/api/opensky"
	// DefaultMaxPathPoints caps the number of track points returned
	DefaultMaxPathPoints = 20
	// DefaultTimeout bounds one upstream call
	DefaultTimeout = 10 * time.Second

	maxBodySize = 16 << 20
)

// truncatedKeys are the JSON fields holding track point arrays
var truncatedKeys = []string{"path", "track"}

var (
	// ErrUnavailable means the upstream could not be reached or timed out
	ErrUnavailable = errors.New("flight data service unavailable")
	// ErrUpstreamDecode means the upstream answered with a body that is not JSON
	ErrUpstreamDecode = errors.New("failed to decode upstream response")
)

// UpstreamError is an error status returned by the upstream, passed to the
// client unchanged
type UpstreamError struct {
	Status      int
	ContentType string
	Body        []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// TokenSource provides bearer tokens for upstream calls
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(value string)
}

// ResponseCache stores successful upstream bodies for a short time
type ResponseCache interface {
	GetResponse(ctx context.Context, key string) ([]byte, bool, error)
	StoreResponse(ctx context.Context, key string, body []byte, ttl time.Duration) error
}

// Recorder receives proxy outcomes
type Recorder interface {
	IncrementProxyRequests()
	IncrementUpstreamErrors()
	IncrementTruncations()
	IncrementCacheHits()
}

// Config holds the proxy settings
type Config struct {
	UpstreamURL   string
	Prefix        string
	MaxPathPoints int // 0 disables truncation
	Timeout       time.Duration
	CacheTTL      time.Duration
}

// Response is a successful upstream answer after truncation
type Response struct {
	Status    int
	Body      []byte
	Truncated bool
	Cached    bool
}

// Proxy forwards requests under Config.Prefix to Config.UpstreamURL
type Proxy struct {
	cfg      Config
	tokens   TokenSource
	client   *http.Client
	cache    ResponseCache
	recorder Recorder
	logger   logging.Logger
}

// Option configures a Proxy
type Option func(*Proxy)

// WithCache enables the response cache
func WithCache(cache ResponseCache) Option {
	return func(p *Proxy) { p.cache = cache }
}

// WithRecorder reports outcomes to r
func WithRecorder(r Recorder) Option {
	return func(p *Proxy) { p.recorder = r }
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(p *Proxy) { p.logger = l }
}

// WithHTTPClient replaces the upstream HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(p *Proxy) { p.client = c }
}

// New creates a proxy
func New(cfg Config, tokens TokenSource, opts ...Option) *Proxy {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.UpstreamURL = strings.TrimRight(cfg.UpstreamURL, "/")

	p := &Proxy{
		cfg:    cfg,
		tokens: tokens,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.Noop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// UpstreamURL maps a local request onto the upstream: the prefix is stripped
// and the rest of the path plus the raw query are kept verbatim
func (p *Proxy) UpstreamURL(r *http.Request) string {
	rest := strings.TrimPrefix(r.URL.EscapedPath(), p.cfg.Prefix)
	if rest != "" && !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	target := p.cfg.UpstreamURL + rest
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return target
}

// Forward performs the upstream call for r, truncating track paths to the
// configured maximum
func (p *Proxy) Forward(ctx context.Context, r *http.Request) (*Response, error) {
	return p.forward(ctx, r, p.cfg.MaxPathPoints)
}

// forward caches the full upstream body and truncates only the returned copy,
// so callers asking for every point share cache entries with clients
func (p *Proxy) forward(ctx context.Context, r *http.Request, maxPoints int) (*Response, error) {
	p.count(func(rec Recorder) { rec.IncrementProxyRequests() })
	target := p.UpstreamURL(r)

	if p.cache != nil {
		body, ok, err := p.cache.GetResponse(ctx, target)
		if err != nil {
			p.logger.Warn(ctx, "response cache read failed", logging.Err(err))
		} else if ok {
			p.count(func(rec Recorder) { rec.IncrementCacheHits() })
			out, truncated, err := p.truncate(body, maxPoints)
			if err != nil {
				return nil, err
			}
			return &Response{Status: http.StatusOK, Body: out, Cached: true, Truncated: truncated}, nil
		}
	}

	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if id := logging.RequestID(ctx); id != "" {
		req.Header.Set(logging.RequestIDHeader, id)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.count(func(rec Recorder) { rec.IncrementUpstreamErrors() })
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		p.count(func(rec Recorder) { rec.IncrementUpstreamErrors() })
		return nil, fmt.Errorf("%w: failed to read body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		p.count(func(rec Recorder) { rec.IncrementUpstreamErrors() })
		if resp.StatusCode == http.StatusUnauthorized {
			// Next request exchanges credentials again.
			p.tokens.Invalidate(token)
		}
		return nil, &UpstreamError{
			Status:      resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Body:        body,
		}
	}

	out, truncated, err := p.truncate(body, maxPoints)
	if err != nil {
		p.count(func(rec Recorder) { rec.IncrementUpstreamErrors() })
		return nil, err
	}

	if p.cache != nil && p.cfg.CacheTTL > 0 && resp.StatusCode == http.StatusOK {
		if err := p.cache.StoreResponse(ctx, target, body, p.cfg.CacheTTL); err != nil {
			p.logger.Warn(ctx, "response cache write failed", logging.Err(err))
		}
	}

	return &Response{Status: resp.StatusCode, Body: out, Truncated: truncated}, nil
}

func (p *Proxy) truncate(body []byte, maxPoints int) ([]byte, bool, error) {
	out, truncated, err := Truncate(body, maxPoints)
	if err != nil {
		return nil, false, err
	}
	if truncated {
		p.count(func(rec Recorder) { rec.IncrementTruncations() })
	}
	return out, truncated, nil
}

// FetchTrack requests the latest track of an aircraft through the same path
// as proxied client requests. The path is never truncated: the newest points
// are at its end.
func (p *Proxy) FetchTrack(ctx context.Context, icao24 string) ([]byte, error) {
	q := url.Values{"icao24": {strings.ToLower(icao24)}, "time": {"0"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Prefix+"/api/tracks/all?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build track request: %w", err)
	}
	resp, err := p.forward(ctx, req, 0)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ServeHTTP writes the upstream answer, or a JSON error
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, _ := logging.EnsureRequestID(r.Context())

	resp, err := p.Forward(ctx, r)
	if err != nil {
		p.writeError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	if _, err := w.Write(resp.Body); err != nil {
		p.logger.Warn(ctx, "failed to write response", logging.Err(err))
	}
}

func (p *Proxy) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var upstreamErr *UpstreamError
	switch {
	case errors.As(err, &upstreamErr):
		p.logger.Info(ctx, "upstream error", logging.Int("status", upstreamErr.Status))
		contentType := upstreamErr.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(upstreamErr.Status)
		_, _ = w.Write(upstreamErr.Body)
	case errors.Is(err, auth.ErrAuthExchangeFailed):
		p.logger.Error(ctx, "token exchange failed", logging.Err(err))
		WriteJSONError(w, http.StatusBadGateway, "failed to authenticate with flight data service")
	case errors.Is(err, ErrUpstreamDecode):
		p.logger.Warn(ctx, "upstream returned malformed body", logging.Err(err))
		WriteJSONError(w, http.StatusBadGateway, "flight data temporarily unavailable")
	default:
		p.logger.Error(ctx, "proxy request failed", logging.Err(err))
		WriteJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func (p *Proxy) count(fn func(Recorder)) {
	if p.recorder != nil {
		fn(p.recorder)
	}
}

// WriteJSONError writes {"error": msg} with the given status
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Truncate keeps the first max entries of any top-level "path" or "track"
// array in a JSON object. Bodies that are not objects pass through unchanged;
// bodies that are not JSON at all fail with ErrUpstreamDecode.
func Truncate(body []byte, max int) ([]byte, bool, error) {
	if !json.Valid(body) {
		return nil, false, ErrUpstreamDecode
	}
	if max <= 0 {
		return body, false, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return body, false, nil
	}

	truncated := false
	for _, key := range truncatedKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var points []json.RawMessage
		if err := json.Unmarshal(raw, &points); err != nil || len(points) <= max {
			continue
		}
		trimmed, err := json.Marshal(points[:max])
		if err != nil {
			return nil, false, fmt.Errorf("failed to encode truncated %s: %w", key, err)
		}
		obj[key] = trimmed
		truncated = true
	}
	if !truncated {
		return body, false, nil
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode truncated body: %w", err)
	}
	return out, true, nil
}
