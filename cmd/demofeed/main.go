package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/saviobatista/flightpath/internal/api"
	"github.com/saviobatista/flightpath/internal/config"
	"github.com/saviobatista/flightpath/internal/logging"
	"github.com/saviobatista/flightpath/internal/nats"
	"github.com/saviobatista/flightpath/internal/position"
	"github.com/saviobatista/flightpath/internal/profile"
	"github.com/saviobatista/flightpath/internal/redis"
	"github.com/saviobatista/flightpath/internal/trajectory"
	"github.com/saviobatista/flightpath/internal/types"
)

// Demo flight: Geneva to Athens
var (
	demoOrigin      = types.GeoPoint{Lat: 46.2382, Lon: 6.1089}
	demoDestination = types.GeoPoint{Lat: 37.9364, Lon: 23.9445}
)

const (
	demoDuration = 165 * time.Minute
	demoCallsign = "DEMO001"
)

// Publisher publishes position updates
type Publisher interface {
	PublishPosition(update *types.PositionUpdate) error
}

// SequenceStore registers the demo trajectory so the server can answer for it
type SequenceStore interface {
	StoreSequence(ctx context.Context, flightID string, seq types.Sequence, ttl time.Duration) error
	DeleteSequence(ctx context.Context, flightID string) error
}

// Feed replays one synthetic flight in real time
type Feed struct {
	FlightID string
	Callsign string

	seq       types.Sequence
	resolver  *position.Resolver
	envelope  profile.Envelope
	publisher Publisher
	store     SequenceStore
	logger    logging.Logger
	now       func() time.Time
}

// NewFeed builds the demo trajectory departing at departure. store may be nil.
func NewFeed(cfg *config.FeedConfig, departure time.Time, publisher Publisher, store SequenceStore, logger logging.Logger) (*Feed, error) {
	resolver, err := position.NewResolver(cfg.HeadingStep)
	if err != nil {
		return nil, err
	}

	envelope := profile.DefaultEnvelope()
	seq, err := trajectory.Build(trajectory.Query{
		Start:         demoOrigin,
		End:           demoDestination,
		Departure:     departure,
		TotalDuration: demoDuration,
		SampleCount:   cfg.SampleCount,
		Envelope:      envelope,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build demo trajectory: %w", err)
	}

	return &Feed{
		FlightID:  uuid.New().String(),
		Callsign:  demoCallsign,
		seq:       seq,
		resolver:  resolver,
		envelope:  envelope,
		publisher: publisher,
		store:     store,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Start registers the trajectory for the lifetime of the flight
func (f *Feed) Start(ctx context.Context) error {
	if f.store == nil {
		return nil
	}
	ttl := f.seq.Last().Timestamp.Sub(f.now()) + time.Hour
	if err := f.store.StoreSequence(ctx, f.FlightID, f.seq, ttl); err != nil {
		return fmt.Errorf("failed to register demo trajectory: %w", err)
	}
	return nil
}

// Tick publishes the position at the current time
func (f *Feed) Tick() (*types.PositionUpdate, error) {
	snap, err := f.resolver.ResolveAt(f.seq, f.now())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve position: %w", err)
	}

	phase := f.envelope.PhaseAt(float64(snap.Index) / float64(len(f.seq)-1))
	update := api.PositionUpdate(f.FlightID, f.Callsign, snap, phase, position.IconName(api.DefaultIconPrefix, snap.Heading.Bucket))
	if err := f.publisher.PublishPosition(update); err != nil {
		return nil, fmt.Errorf("failed to publish position: %w", err)
	}
	return update, nil
}

// Run publishes every interval until the flight arrives or ctx is done
func (f *Feed) Run(ctx context.Context, interval time.Duration) error {
	defer f.cleanup()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		update, err := f.Tick()
		if err != nil {
			log.Printf("Warning: %v", err)
		} else if update.Status == string(position.StatusArrived) {
			f.logger.Info(ctx, "demo flight arrived", logging.String("flight_id", f.FlightID))
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *Feed) cleanup() {
	if f.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.store.DeleteSequence(ctx, f.FlightID); err != nil {
		log.Printf("Warning: Failed to delete demo trajectory: %v", err)
	}
}

// createClients connects to NATS and, when configured, Redis
func createClients(cfg *config.FeedConfig) (*nats.Client, *redis.Client, error) {
	natsClient, err := nats.New(cfg.NATSURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create NATS client: %w", err)
	}

	if cfg.RedisAddr == "" {
		return natsClient, nil, nil
	}
	redisClient, err := redis.New(cfg.RedisAddr)
	if err != nil {
		natsClient.Close()
		return nil, nil, fmt.Errorf("failed to create Redis client: %w", err)
	}
	return natsClient, redisClient, nil
}

func main() {
	cfg, err := config.LoadFeed()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	natsClient, redisClient, err := createClients(cfg)
	if err != nil {
		log.Printf("Failed to create clients: %v", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	var store SequenceStore
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "error closing redisClient: %v\n", err)
			}
		}()
		store = redisClient
	}

	feed, err := NewFeed(cfg, time.Now(), natsClient, store, logger)
	if err != nil {
		log.Printf("Failed to create demo feed: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := feed.Start(ctx); err != nil {
		log.Printf("Warning: %v", err)
	}
	logger.Info(ctx, "publishing demo flight",
		logging.String("flight_id", feed.FlightID),
		logging.String("subject", nats.PositionSubject(feed.FlightID)))

	if err := feed.Run(ctx, cfg.Interval); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Demo feed stopped: %v", err)
	}
	if err := natsClient.Flush(); err != nil {
		log.Printf("Warning: Failed to flush NATS: %v", err)
	}
	log.Println("Shutting down...")
}
