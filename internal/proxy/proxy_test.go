package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saviobatista/flightpath/internal/auth"
	"github.com/saviobatista/flightpath/internal/testutils"
)

type mockTokens struct {
	token       string
	err         error
	calls       atomic.Int32
	invalidated []string
	mu          sync.Mutex
}

func (m *mockTokens) Token(ctx context.Context) (string, error) {
	m.calls.Add(1)
	if m.err != nil {
		return "", m.err
	}
	return m.token, nil
}

func (m *mockTokens) Invalidate(value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, value)
}

type mockCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
}

func newMockCache() *mockCache {
	return &mockCache{entries: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mockCache) GetResponse(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.entries[key]
	return body, ok, nil
}

func (m *mockCache) StoreResponse(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = body
	m.ttls[key] = ttl
	return nil
}

type mockRecorder struct {
	requests, upstreamErrors, truncations, cacheHits atomic.Int32
}

func (m *mockRecorder) IncrementProxyRequests()  { m.requests.Add(1) }
func (m *mockRecorder) IncrementUpstreamErrors() { m.upstreamErrors.Add(1) }
func (m *mockRecorder) IncrementTruncations()    { m.truncations.Add(1) }
func (m *mockRecorder) IncrementCacheHits()      { m.cacheHits.Add(1) }

func newUpstream(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestUpstreamURL(t *testing.T) {
	p := New(Config{UpstreamURL: "https://opensky-network.org/"}, &mockTokens{})

	tests := []struct {
		path string
		want string
	}{
		{path: "/api/opensky/api/tracks/all?icao24=4b1814&time=0", want: "https://opensky-network.org/api/tracks/all?icao24=4b1814&time=0"},
		{path: "/api/opensky/api/states/all", want: "https://opensky-network.org/api/states/all"},
		{path: "/api/opensky", want: "https://opensky-network.org"},
		{path: "/api/opensky/api/flights/aircraft?icao24=a%2Fb&begin=1", want: "https://opensky-network.org/api/flights/aircraft?icao24=a%2Fb&begin=1"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if got := p.UpstreamURL(req); got != tt.want {
			t.Errorf("UpstreamURL(%s) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestServeHTTP_TruncatesPath(t *testing.T) {
	start := time.Date(2025, 7, 4, 9, 0, 0, 0, time.UTC)
	full := testutils.MockTrackJSON("4b1814", start, 500)

	var gotAuth, gotQuery, gotPath string
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(full)
	})

	rec := &mockRecorder{}
	p := New(Config{UpstreamURL: upstream.URL, MaxPathPoints: DefaultMaxPathPoints}, &mockTokens{token: "tok"}, WithRecorder(rec))

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/opensky/api/tracks/all?icao24=4b1814&time=0", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
	if gotPath != "/api/tracks/all" || gotQuery != "icao24=4b1814&time=0" {
		t.Errorf("Upstream saw %s?%s", gotPath, gotQuery)
	}

	var original, got struct {
		Icao24 string            `json:"icao24"`
		Path   []json.RawMessage `json:"path"`
	}
	if err := json.Unmarshal(full, &original); err != nil {
		t.Fatalf("Failed to decode fixture: %v", err)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(got.Path) != 20 {
		t.Fatalf("Expected 20 path points, got %d", len(got.Path))
	}
	for i := range got.Path {
		if string(got.Path[i]) != string(original.Path[i]) {
			t.Errorf("Point %d = %s, want %s", i, got.Path[i], original.Path[i])
		}
	}
	if got.Icao24 != "4b1814" {
		t.Errorf("Icao24 = %q, other fields must be kept", got.Icao24)
	}
	if rec.requests.Load() != 1 || rec.truncations.Load() != 1 {
		t.Errorf("Recorder saw %d requests, %d truncations", rec.requests.Load(), rec.truncations.Load())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		max           int
		want          string
		wantTruncated bool
		wantErr       error
	}{
		{name: "short path untouched", body: `{"path":[1,2,3]}`, max: 5, want: `{"path":[1,2,3]}`},
		{name: "path trimmed", body: `{"path":[1,2,3,4]}`, max: 2, want: `{"path":[1,2]}`, wantTruncated: true},
		{name: "track trimmed", body: `{"track":[[1],[2],[3]]}`, max: 1, want: `{"track":[[1]]}`, wantTruncated: true},
		{name: "disabled", body: `{"path":[1,2,3,4]}`, max: 0, want: `{"path":[1,2,3,4]}`},
		{name: "array body", body: `[1,2,3]`, max: 1, want: `[1,2,3]`},
		{name: "path not array", body: `{"path":"x"}`, max: 1, want: `{"path":"x"}`},
		{name: "not json", body: `<html>`, max: 1, wantErr: ErrUpstreamDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated, err := Truncate([]byte(tt.body), tt.max)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Truncate() failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Truncate() = %s, want %s", got, tt.want)
			}
			if truncated != tt.wantTruncated {
				t.Errorf("truncated = %v, want %v", truncated, tt.wantTruncated)
			}
		})
	}
}

func TestServeHTTP_Errors(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		tokens     *mockTokens
		wantStatus int
		wantBody   string
	}{
		{
			name: "upstream not found passed through",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"message":"no track"}`))
			},
			tokens:     &mockTokens{token: "tok"},
			wantStatus: http.StatusNotFound,
			wantBody:   `{"message":"no track"}`,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>maintenance</html>"))
			},
			tokens:     &mockTokens{token: "tok"},
			wantStatus: http.StatusBadGateway,
			wantBody:   `{"error":"flight data temporarily unavailable"}` + "\n",
		},
		{
			name: "token failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				t.Error("Upstream must not be called without a token")
			},
			tokens:     &mockTokens{err: &auth.AuthExchangeError{Err: errors.New("boom")}},
			wantStatus: http.StatusBadGateway,
			wantBody:   `{"error":"failed to authenticate with flight data service"}` + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := newUpstream(t, tt.handler)
			p := New(Config{UpstreamURL: upstream.URL, MaxPathPoints: 20}, tt.tokens)

			w := httptest.NewRecorder()
			p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/opensky/api/tracks/all", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
			if w.Body.String() != tt.wantBody {
				t.Errorf("Body = %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServeHTTP_Unreachable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	p := New(Config{UpstreamURL: url}, &mockTokens{token: "tok"})
	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/opensky/api/states/all", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	if body["error"] == "" {
		t.Error("Expected an error message")
	}
}

func TestForward_Timeout(t *testing.T) {
	release := make(chan struct{})
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	p := New(Config{UpstreamURL: upstream.URL, Timeout: 50 * time.Millisecond}, &mockTokens{token: "tok"})
	_, err := p.Forward(context.Background(), httptest.NewRequest(http.MethodGet, "/api/opensky/api/states/all", nil))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestForward_InvalidatesOn401(t *testing.T) {
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{}`))
	})
	tokens := &mockTokens{token: "stale"}
	p := New(Config{UpstreamURL: upstream.URL}, tokens)

	_, err := p.Forward(context.Background(), httptest.NewRequest(http.MethodGet, "/api/opensky/api/states/all", nil))
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) || upstreamErr.Status != http.StatusUnauthorized {
		t.Fatalf("Expected 401 UpstreamError, got %v", err)
	}
	if len(tokens.invalidated) != 1 || tokens.invalidated[0] != "stale" {
		t.Errorf("Expected stale token to be invalidated, got %v", tokens.invalidated)
	}
	if tokens.calls.Load() != 1 {
		t.Errorf("Expected no retry, got %d token calls", tokens.calls.Load())
	}
}

func TestForward_Cache(t *testing.T) {
	var hits atomic.Int32
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"path":[1,2,3]}`))
	})

	cache := newMockCache()
	rec := &mockRecorder{}
	p := New(Config{UpstreamURL: upstream.URL, CacheTTL: 15 * time.Second}, &mockTokens{token: "tok"},
		WithCache(cache), WithRecorder(rec))

	req := httptest.NewRequest(http.MethodGet, "/api/opensky/api/tracks/all?icao24=abc", nil)
	first, err := p.Forward(context.Background(), req)
	if err != nil {
		t.Fatalf("Forward() failed: %v", err)
	}
	second, err := p.Forward(context.Background(), req)
	if err != nil {
		t.Fatalf("Forward() failed: %v", err)
	}

	if hits.Load() != 1 {
		t.Errorf("Expected 1 upstream hit, got %d", hits.Load())
	}
	if first.Cached || !second.Cached {
		t.Errorf("Cached flags = %v, %v, want false, true", first.Cached, second.Cached)
	}
	if string(second.Body) != string(first.Body) {
		t.Errorf("Cached body %s differs from %s", second.Body, first.Body)
	}
	if ttl := cache.ttls[upstream.URL+"/api/tracks/all?icao24=abc"]; ttl != 15*time.Second {
		t.Errorf("Stored TTL = %v, want 15s", ttl)
	}
	if rec.cacheHits.Load() != 1 {
		t.Errorf("Expected 1 cache hit, got %d", rec.cacheHits.Load())
	}
}

func TestFetchTrack(t *testing.T) {
	var gotURL string
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		_, _ = w.Write([]byte(`{"icao24":"4b1814","path":[]}`))
	})
	p := New(Config{UpstreamURL: upstream.URL}, &mockTokens{token: "tok"})

	body, err := p.FetchTrack(context.Background(), "4B1814")
	if err != nil {
		t.Fatalf("FetchTrack() failed: %v", err)
	}
	if gotURL != "/api/tracks/all?icao24=4b1814&time=0" {
		t.Errorf("Upstream URL = %s", gotURL)
	}
	if string(body) != `{"icao24":"4b1814","path":[]}` {
		t.Errorf("Body = %s", body)
	}
}

func TestFetchTrack_KeepsFullPath(t *testing.T) {
	full := testutils.MockTrackJSON("4b1814", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), 50)
	var hits atomic.Int32
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(full)
	})

	cache := newMockCache()
	p := New(Config{UpstreamURL: upstream.URL, MaxPathPoints: 20, CacheTTL: time.Minute},
		&mockTokens{token: "tok"}, WithCache(cache))

	pathOf := func(body []byte) []json.RawMessage {
		t.Helper()
		var track struct {
			Path []json.RawMessage `json:"path"`
		}
		if err := json.Unmarshal(body, &track); err != nil {
			t.Fatalf("Body is not a track: %v", err)
		}
		return track.Path
	}
	want := pathOf(full)

	// A client request populates the cache and is truncated.
	req := httptest.NewRequest(http.MethodGet, "/api/opensky/api/tracks/all?icao24=4b1814&time=0", nil)
	resp, err := p.Forward(context.Background(), req)
	if err != nil {
		t.Fatalf("Forward() failed: %v", err)
	}
	if got := pathOf(resp.Body); len(got) != 20 || !resp.Truncated {
		t.Fatalf("Client response has %d points (truncated %v), want 20", len(got), resp.Truncated)
	}

	for _, fromCache := range []bool{true, false} {
		if !fromCache {
			cache.mu.Lock()
			cache.entries = map[string][]byte{}
			cache.mu.Unlock()
		}
		body, err := p.FetchTrack(context.Background(), "4b1814")
		if err != nil {
			t.Fatalf("FetchTrack() failed: %v", err)
		}
		got := pathOf(body)
		if len(got) != len(want) {
			t.Fatalf("FetchTrack() returned %d points (cached %v), want %d", len(got), fromCache, len(want))
		}
		if string(got[len(got)-1]) != string(want[len(want)-1]) {
			t.Errorf("Last point = %s, want the latest report %s", got[len(got)-1], want[len(want)-1])
		}
	}
	if hits.Load() != 2 {
		t.Errorf("Expected 2 upstream hits, got %d", hits.Load())
	}
}
