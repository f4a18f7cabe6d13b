package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// fakeExchanger hands out numbered tokens and can be made to block or fail.
// Like oauth2, it stamps Expiry with the real clock; expiresIn also sets the
// wire field.
type fakeExchanger struct {
	calls     atomic.Int32
	release   chan struct{}
	entered   chan struct{}
	err       error
	ttl       time.Duration
	expiresIn bool
}

func (f *fakeExchanger) Exchange(ctx context.Context) (*oauth2.Token, error) {
	n := f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	tok := &oauth2.Token{AccessToken: fmt.Sprintf("token-%d", n)}
	if f.ttl > 0 {
		tok.Expiry = time.Now().Add(f.ttl)
		if f.expiresIn {
			tok.ExpiresIn = int64(f.ttl / time.Second)
		}
	}
	return tok, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingRecorder struct {
	exchanges atomic.Int32
	failures  atomic.Int32
}

func (r *countingRecorder) IncrementTokenExchanges() { r.exchanges.Add(1) }
func (r *countingRecorder) IncrementTokenFailures()  { r.failures.Add(1) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 7, 4, 12, 0, 0, 0, time.UTC)}
}

func TestToken_CachesUntilMargin(t *testing.T) {
	clock := newClock()
	ex := &fakeExchanger{ttl: 30 * time.Minute}
	cache := NewTokenCache(ex, WithClock(clock.Now))

	first, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	if first != "token-1" {
		t.Errorf("Token() = %q, want token-1", first)
	}

	clock.Advance(28 * time.Minute)
	again, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	if again != first {
		t.Errorf("Expected cached token %q, got %q", first, again)
	}
	if got := ex.calls.Load(); got != 1 {
		t.Errorf("Expected 1 exchange, got %d", got)
	}

	// Within the 60s safety margin the token is treated as expired.
	clock.Advance(90 * time.Second)
	refreshed, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	if refreshed != "token-2" {
		t.Errorf("Expected refreshed token-2, got %q", refreshed)
	}
}

func TestToken_ConcurrentCallsShareExchange(t *testing.T) {
	ex := &fakeExchanger{
		release: make(chan struct{}),
		entered: make(chan struct{}, 10),
	}
	cache := NewTokenCache(ex)

	const callers = 10
	results := make(chan string, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := cache.Token(context.Background())
			if err != nil {
				errs <- err
				return
			}
			results <- tok
		}()
	}

	<-ex.entered
	close(ex.release)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Errorf("Token() failed: %v", err)
	}
	for tok := range results {
		if tok != "token-1" {
			t.Errorf("Expected every caller to get token-1, got %q", tok)
		}
	}
	if got := ex.calls.Load(); got != 1 {
		t.Errorf("Expected exactly 1 exchange, got %d", got)
	}
}

func TestToken_FailureKeepsState(t *testing.T) {
	clock := newClock()
	ex := &fakeExchanger{ttl: 2 * time.Minute, expiresIn: true}
	rec := &countingRecorder{}
	cache := NewTokenCache(ex, WithClock(clock.Now), WithRecorder(rec))

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	expiry := cache.ExpiresAt()

	clock.Advance(90 * time.Second)
	ex.err = errors.New("connection refused")

	_, err := cache.Token(context.Background())
	if !errors.Is(err, ErrAuthExchangeFailed) {
		t.Fatalf("Expected ErrAuthExchangeFailed, got %v", err)
	}
	var exchangeErr *AuthExchangeError
	if !errors.As(err, &exchangeErr) {
		t.Fatalf("Expected *AuthExchangeError, got %T", err)
	}
	if !cache.ExpiresAt().Equal(expiry) {
		t.Errorf("Failed exchange changed cached expiry from %v to %v", expiry, cache.ExpiresAt())
	}
	if rec.exchanges.Load() != 1 || rec.failures.Load() != 1 {
		t.Errorf("Recorder saw %d exchanges and %d failures, want 1 and 1",
			rec.exchanges.Load(), rec.failures.Load())
	}
}

func TestToken_DefaultTTL(t *testing.T) {
	clock := newClock()
	ex := &fakeExchanger{}
	cache := NewTokenCache(ex, WithClock(clock.Now))

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	want := clock.Now().Add(DefaultTTL)
	if !cache.ExpiresAt().Equal(want) {
		t.Errorf("ExpiresAt() = %v, want %v", cache.ExpiresAt(), want)
	}
}

func TestInvalidate(t *testing.T) {
	ex := &fakeExchanger{ttl: time.Hour}
	cache := NewTokenCache(ex)

	first, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}

	cache.Invalidate("some-other-token")
	if tok, _ := cache.Token(context.Background()); tok != first {
		t.Errorf("Invalidate with a stale value dropped the token")
	}

	cache.Invalidate(first)
	second, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	if second == first {
		t.Errorf("Expected a new token after Invalidate, got %q again", second)
	}
}

func TestToken_ContextCanceled(t *testing.T) {
	ex := &fakeExchanger{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	cache := NewTokenCache(ex)
	defer close(ex.release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.Token(ctx)
		done <- err
	}()

	<-ex.entered
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Token() did not return after cancel")
	}
}

func TestClientCredentials_Exchange(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    bool
		wantStatus int
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   `{"access_token":"abc123","token_type":"Bearer","expires_in":1800}`,
		},
		{
			name:       "bad credentials",
			status:     http.StatusUnauthorized,
			body:       `{"error":"invalid_client"}`,
			wantErr:    true,
			wantStatus: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := r.ParseForm(); err != nil {
					t.Errorf("ParseForm() failed: %v", err)
				}
				if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
					t.Errorf("grant_type = %q, want client_credentials", got)
				}
				if r.PostForm.Get("client_id") != "my-client" || r.PostForm.Get("client_secret") != "s3cret" {
					t.Errorf("Credentials not sent in form body: %v", r.PostForm)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			cache := NewTokenCache(NewClientCredentials(server.URL, "my-client", "s3cret", time.Second))
			tok, err := cache.Token(context.Background())
			if tt.wantErr {
				var exchangeErr *AuthExchangeError
				if !errors.As(err, &exchangeErr) {
					t.Fatalf("Expected *AuthExchangeError, got %v", err)
				}
				if exchangeErr.StatusCode != tt.wantStatus {
					t.Errorf("StatusCode = %d, want %d", exchangeErr.StatusCode, tt.wantStatus)
				}
				return
			}
			if err != nil {
				t.Fatalf("Token() failed: %v", err)
			}
			if tok != "abc123" {
				t.Errorf("Token() = %q, want abc123", tok)
			}
			remaining := time.Until(cache.ExpiresAt())
			if remaining < 29*time.Minute || remaining > 30*time.Minute {
				t.Errorf("Expected expiry ~30m ahead, got %v", remaining)
			}
		})
	}
}

func TestToken_ExpiryFollowsCacheClock(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn bool
		tolerance time.Duration
	}{
		{name: "expires_in", expiresIn: true},
		{name: "expiry only", tolerance: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newClock()
			cache := NewTokenCache(&fakeExchanger{ttl: 30 * time.Minute, expiresIn: tt.expiresIn}, WithClock(clock.Now))

			if _, err := cache.Token(context.Background()); err != nil {
				t.Fatalf("Token() failed: %v", err)
			}
			want := clock.Now().Add(30 * time.Minute)
			if d := want.Sub(cache.ExpiresAt()); d < 0 || d > tt.tolerance {
				t.Errorf("ExpiresAt() = %v, want %v", cache.ExpiresAt(), want)
			}
		})
	}
}
