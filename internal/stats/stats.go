package stats

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saviobatista/flightpath/internal/types"
)

// ErrNoStore is returned by Persist when no store has been set
var ErrNoStore = errors.New("stats store not set")

// Store persists counter snapshots
type Store interface {
	StoreServiceStats(ctx context.Context, stats types.ServiceStats) error
}

// Stats tracks proxy and trajectory counters. Counters are cumulative since
// the process started.
type Stats struct {
	ProxyRequests     uint64
	UpstreamErrors    uint64
	Truncations       uint64
	CacheHits         uint64
	TokenExchanges    uint64
	TokenFailures     uint64
	TrajectoriesBuilt uint64
	PositionsResolved uint64

	StartTime time.Time

	store Store
	mu    sync.RWMutex
}

// New creates a new Stats instance
func New() *Stats {
	return &Stats{StartTime: time.Now()}
}

// SetStore sets where Persist writes snapshots
func (s *Stats) SetStore(store Store) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

func (s *Stats) IncrementProxyRequests()     { atomic.AddUint64(&s.ProxyRequests, 1) }
func (s *Stats) IncrementUpstreamErrors()    { atomic.AddUint64(&s.UpstreamErrors, 1) }
func (s *Stats) IncrementTruncations()       { atomic.AddUint64(&s.Truncations, 1) }
func (s *Stats) IncrementCacheHits()         { atomic.AddUint64(&s.CacheHits, 1) }
func (s *Stats) IncrementTokenExchanges()    { atomic.AddUint64(&s.TokenExchanges, 1) }
func (s *Stats) IncrementTokenFailures()     { atomic.AddUint64(&s.TokenFailures, 1) }
func (s *Stats) IncrementTrajectoriesBuilt() { atomic.AddUint64(&s.TrajectoriesBuilt, 1) }
func (s *Stats) IncrementPositionsResolved() { atomic.AddUint64(&s.PositionsResolved, 1) }

// Snapshot returns a copy of the current counters
func (s *Stats) Snapshot() types.ServiceStats {
	now := time.Now()
	return types.ServiceStats{
		Time:              now,
		ProxyRequests:     atomic.LoadUint64(&s.ProxyRequests),
		UpstreamErrors:    atomic.LoadUint64(&s.UpstreamErrors),
		Truncations:       atomic.LoadUint64(&s.Truncations),
		CacheHits:         atomic.LoadUint64(&s.CacheHits),
		TokenExchanges:    atomic.LoadUint64(&s.TokenExchanges),
		TokenFailures:     atomic.LoadUint64(&s.TokenFailures),
		TrajectoriesBuilt: atomic.LoadUint64(&s.TrajectoriesBuilt),
		PositionsResolved: atomic.LoadUint64(&s.PositionsResolved),
		Uptime:            now.Sub(s.StartTime),
	}
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	snap := s.Snapshot()
	return fmt.Sprintf(
		"Proxy Requests: %d\n"+
			"Upstream Errors: %d\n"+
			"Truncations: %d\n"+
			"Cache Hits: %d\n"+
			"Token Exchanges: %d (failed %d)\n"+
			"Trajectories Built: %d\n"+
			"Positions Resolved: %d\n"+
			"Uptime: %s",
		snap.ProxyRequests,
		snap.UpstreamErrors,
		snap.Truncations,
		snap.CacheHits,
		snap.TokenExchanges, snap.TokenFailures,
		snap.TrajectoriesBuilt,
		snap.PositionsResolved,
		snap.Uptime.Truncate(time.Second),
	)
}

// Persist stores the current counters
func (s *Stats) Persist(ctx context.Context) error {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return ErrNoStore
	}

	if err := store.StoreServiceStats(ctx, s.Snapshot()); err != nil {
		return fmt.Errorf("failed to persist statistics: %w", err)
	}
	return nil
}

// StartPersistence persists the counters every interval until ctx is done,
// with a final write on shutdown
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Persist(final); err != nil {
				log.Printf("Warning: failed to persist final statistics: %v", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.Persist(ctx); err != nil {
				log.Printf("Warning: %v", err)
			}
		}
	}
}
