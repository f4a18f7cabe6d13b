package main

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/saviobatista/flightpath/internal/config"
	"github.com/saviobatista/flightpath/internal/logging"
	"github.com/saviobatista/flightpath/internal/nats"
	"github.com/saviobatista/flightpath/internal/testutils"
	"github.com/saviobatista/flightpath/internal/types"
)

type mockPublisher struct {
	mu      sync.Mutex
	updates []*types.PositionUpdate
	err     error
}

func (m *mockPublisher) PublishPosition(update *types.PositionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.updates = append(m.updates, update)
	return nil
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

type mockStore struct {
	mu        sync.Mutex
	sequences map[string]types.Sequence
	ttls      map[string]time.Duration
	storeErr  error
}

func newMockStore() *mockStore {
	return &mockStore{sequences: map[string]types.Sequence{}, ttls: map[string]time.Duration{}}
}

func (m *mockStore) StoreSequence(ctx context.Context, flightID string, seq types.Sequence, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return m.storeErr
	}
	m.sequences[flightID] = seq
	m.ttls[flightID] = ttl
	return nil
}

func (m *mockStore) DeleteSequence(ctx context.Context, flightID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sequences, flightID)
	return nil
}

var departure = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func feedConfig() *config.FeedConfig {
	return &config.FeedConfig{Interval: 10 * time.Millisecond, HeadingStep: 15, SampleCount: 200}
}

func newTestFeed(t *testing.T, publisher Publisher, store SequenceStore, at time.Time) *Feed {
	t.Helper()
	feed, err := NewFeed(feedConfig(), departure, publisher, store, logging.Noop())
	if err != nil {
		t.Fatalf("NewFeed() failed: %v", err)
	}
	feed.now = func() time.Time { return at }
	return feed
}

func TestNewFeed(t *testing.T) {
	feed, err := NewFeed(feedConfig(), departure, &mockPublisher{}, nil, logging.Noop())
	if err != nil {
		t.Fatalf("NewFeed() failed: %v", err)
	}
	if len(feed.seq) != 200 {
		t.Errorf("Expected 200 points, got %d", len(feed.seq))
	}
	geneva := types.GeoPoint{Lat: 46.2382, Lon: 6.1089}
	athens := types.GeoPoint{Lat: 37.9364, Lon: 23.9445}
	if feed.seq.First().GeoPoint != geneva || feed.seq.Last().GeoPoint != athens {
		t.Errorf("Demo trajectory runs %v to %v, want Geneva %v to Athens %v",
			feed.seq.First().GeoPoint, feed.seq.Last().GeoPoint, geneva, athens)
	}
	if feed.seq.Duration() != demoDuration {
		t.Errorf("Duration = %v, want %v", feed.seq.Duration(), demoDuration)
	}
	uuidRe := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	if !uuidRe.MatchString(feed.FlightID) {
		t.Errorf("FlightID %q is not a UUID", feed.FlightID)
	}
	if nats.PositionSubject(feed.FlightID) != "flight.position."+feed.FlightID {
		t.Errorf("Unexpected subject %q", nats.PositionSubject(feed.FlightID))
	}

	cfg := feedConfig()
	cfg.HeadingStep = 0
	if _, err := NewFeed(cfg, departure, &mockPublisher{}, nil, logging.Noop()); err == nil {
		t.Error("Expected error for invalid heading step")
	}
	cfg = feedConfig()
	cfg.SampleCount = 1
	if _, err := NewFeed(cfg, departure, &mockPublisher{}, nil, logging.Noop()); err == nil {
		t.Error("Expected error for invalid sample count")
	}
}

func TestFeed_Start(t *testing.T) {
	store := newMockStore()
	feed := newTestFeed(t, &mockPublisher{}, store, departure)

	if err := feed.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if len(store.sequences[feed.FlightID]) != 200 {
		t.Error("Trajectory not registered")
	}
	if ttl := store.ttls[feed.FlightID]; ttl != demoDuration+time.Hour {
		t.Errorf("TTL = %v, want %v", ttl, demoDuration+time.Hour)
	}

	store.storeErr = errors.New("connection refused")
	if err := feed.Start(context.Background()); err == nil {
		t.Error("Expected error when the store fails")
	}

	noStore := newTestFeed(t, &mockPublisher{}, nil, departure)
	if err := noStore.Start(context.Background()); err != nil {
		t.Errorf("Start() without store should be a no-op: %v", err)
	}
}

func TestFeed_Tick(t *testing.T) {
	tests := []struct {
		name       string
		at         time.Time
		wantStatus string
		wantPhase  string
		wantPct    float64
	}{
		{name: "before departure", at: departure.Add(-time.Minute), wantStatus: "scheduled", wantPhase: "climb", wantPct: 0},
		{name: "cruise", at: departure.Add(demoDuration / 2), wantStatus: "in_flight", wantPhase: "cruise", wantPct: 50},
		{name: "arrived", at: departure.Add(demoDuration), wantStatus: "arrived", wantPhase: "descent", wantPct: 100},
	}

	iconRe := regexp.MustCompile(`^assets/plane_\d{3}deg\.png$`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := &mockPublisher{}
			feed := newTestFeed(t, publisher, nil, tt.at)

			update, err := feed.Tick()
			if err != nil {
				t.Fatalf("Tick() failed: %v", err)
			}
			if publisher.count() != 1 || publisher.updates[0] != update {
				t.Fatal("Expected the update to be published")
			}
			if update.FlightID != feed.FlightID || update.Callsign != demoCallsign {
				t.Errorf("Unexpected identity %q/%q", update.FlightID, update.Callsign)
			}
			if update.Status != tt.wantStatus || update.Phase != tt.wantPhase {
				t.Errorf("Status/Phase = %s/%s, want %s/%s", update.Status, update.Phase, tt.wantStatus, tt.wantPhase)
			}
			if update.ProgressPercent != tt.wantPct {
				t.Errorf("ProgressPercent = %v, want %v", update.ProgressPercent, tt.wantPct)
			}
			if !iconRe.MatchString(update.Icon) || update.HeadingBucket%15 != 0 {
				t.Errorf("Unexpected icon %q for bucket %d", update.Icon, update.HeadingBucket)
			}
		})
	}
}

func TestFeed_TickPublishError(t *testing.T) {
	feed := newTestFeed(t, &mockPublisher{err: errors.New("nats: connection closed")}, nil, departure)
	if _, err := feed.Tick(); err == nil {
		t.Error("Expected publish error")
	}
}

func TestFeed_RunUntilArrival(t *testing.T) {
	publisher := &mockPublisher{}
	store := newMockStore()
	feed := newTestFeed(t, publisher, store, departure.Add(demoDuration+time.Minute))
	if err := feed.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := feed.Run(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if publisher.count() != 1 {
		t.Errorf("Expected a single arrival update, got %d", publisher.count())
	}
	if _, ok := store.sequences[feed.FlightID]; ok {
		t.Error("Trajectory should be removed after arrival")
	}
}

func TestFeed_RunUntilCanceled(t *testing.T) {
	publisher := &mockPublisher{}
	feed := newTestFeed(t, publisher, nil, departure.Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx, 5*time.Millisecond) }()

	if err := testutils.WaitForCondition(func() bool { return publisher.count() >= 3 }, 5*time.Second); err != nil {
		t.Fatalf("Feed did not publish: %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}

func TestCreateClients_InvalidURL(t *testing.T) {
	cfg := feedConfig()
	cfg.NATSURL = ""
	if _, _, err := createClients(cfg); err == nil {
		t.Error("Expected error for empty NATS URL")
	}
}
