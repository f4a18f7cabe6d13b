package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	natsgo "github.com/nats-io/nats.go"
	"github.com/saviobatista/flightpath/internal/config"
	"github.com/saviobatista/flightpath/internal/logging"
	"github.com/saviobatista/flightpath/internal/nats"
	"github.com/saviobatista/flightpath/internal/storage"
	"github.com/saviobatista/flightpath/internal/types"
)

// Subscriber delivers position updates
type Subscriber interface {
	SubscribePositions(flightID string, handler func(*types.PositionUpdate)) (*natsgo.Subscription, error)
}

// Archive persists position updates
type Archive interface {
	WritePosition(update *types.PositionUpdate) error
}

// Recorder writes every received position update to the archive
type Recorder struct {
	archive Archive
	logger  logging.Logger

	written atomic.Int64
	failed  atomic.Int64
}

// NewRecorder creates a recorder writing to archive
func NewRecorder(archive Archive, logger logging.Logger) *Recorder {
	return &Recorder{archive: archive, logger: logger}
}

// Handle archives one update
func (r *Recorder) Handle(update *types.PositionUpdate) {
	if err := r.archive.WritePosition(update); err != nil {
		r.failed.Add(1)
		log.Printf("Failed to write position for %s: %v", update.FlightID, err)
		return
	}
	r.written.Add(1)
}

// Counts returns how many updates were written and how many failed
func (r *Recorder) Counts() (written, failed int64) {
	return r.written.Load(), r.failed.Load()
}

// Run subscribes and records until ctx is done
func (r *Recorder) Run(ctx context.Context, sub Subscriber, flightID string) error {
	subscription, err := sub.SubscribePositions(flightID, r.Handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to positions: %w", err)
	}

	scope := "all flights"
	if flightID != "" {
		scope = flightID
	}
	r.logger.Info(ctx, "recording positions", logging.String("scope", scope))

	<-ctx.Done()

	if subscription != nil {
		if err := subscription.Unsubscribe(); err != nil {
			log.Printf("Warning: Failed to unsubscribe: %v", err)
		}
	}
	written, failed := r.Counts()
	r.logger.Info(context.Background(), "recorder stopped",
		logging.Any("written", written),
		logging.Any("failed", failed))
	return nil
}

// runRecorder wires the NATS client and the archive from cfg
func runRecorder(ctx context.Context, cfg *config.RecorderConfig, logger logging.Logger) error {
	archive, err := storage.New(cfg.OutputDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := archive.Close(); err != nil {
			log.Printf("Warning: Failed to close archive: %v", err)
		}
	}()

	client, err := nats.New(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("failed to create NATS client: %w", err)
	}
	defer client.Close()

	return NewRecorder(archive, logger).Run(ctx, client, cfg.FlightID)
}

func main() {
	cfg, err := config.LoadRecorder()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runRecorder(ctx, cfg, logger); err != nil {
		log.Printf("Recorder failed: %v", err)
		os.Exit(1)
	}
	log.Println("Shutting down...")
}
