package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/saviobatista/flightpath/internal/api"
	"github.com/saviobatista/flightpath/internal/auth"
	"github.com/saviobatista/flightpath/internal/config"
	"github.com/saviobatista/flightpath/internal/db"
	"github.com/saviobatista/flightpath/internal/logging"
	"github.com/saviobatista/flightpath/internal/proxy"
	"github.com/saviobatista/flightpath/internal/redis"
	"github.com/saviobatista/flightpath/internal/stats"
)

const shutdownTimeout = 10 * time.Second

// Server bundles the HTTP server with the backends it owns
type Server struct {
	cfg    *config.Config
	logger logging.Logger
	stats  *stats.Stats
	tokens *auth.TokenCache
	redis  *redis.Client
	db     *db.Client

	handler http.Handler
}

// NewServer wires the proxy, the trajectory API and the optional backends.
// Redis and the database are optional: when configured but unreachable the
// server starts without them.
func NewServer(cfg *config.Config, logger logging.Logger, exchanger auth.Exchanger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		stats:  stats.New(),
	}

	s.tokens = auth.NewTokenCache(exchanger,
		auth.WithSafetyMargin(cfg.TokenSafetyMargin),
		auth.WithTimeout(cfg.UpstreamTimeout),
		auth.WithRecorder(s.stats),
	)

	proxyOpts := []proxy.Option{
		proxy.WithRecorder(s.stats),
		proxy.WithLogger(logger),
	}
	handlerOpts := []api.Option{
		api.WithRecorder(s.stats),
		api.WithLogger(logger),
	}

	if cfg.RedisAddr != "" {
		redisClient, err := redis.New(cfg.RedisAddr)
		if err != nil {
			log.Printf("Warning: Redis unavailable, running without response cache: %v", err)
		} else {
			s.redis = redisClient
			proxyOpts = append(proxyOpts, proxy.WithCache(redisClient))
			handlerOpts = append(handlerOpts, api.WithSequenceStore(redisClient))
		}
	}

	if cfg.DBConnStr != "" {
		dbClient, err := db.New(cfg.DBConnStr)
		if err == nil {
			if err = dbClient.Ping(context.Background()); err != nil {
				_ = dbClient.Close()
			}
		}
		if err != nil {
			log.Printf("Warning: database unavailable, statistics will not be persisted: %v", err)
		} else {
			s.db = dbClient
			s.stats.SetStore(dbClient)
		}
	}

	p := proxy.New(proxy.Config{
		UpstreamURL:   cfg.APIURL,
		Prefix:        cfg.ProxyPrefix,
		MaxPathPoints: cfg.TrackMaxPoints,
		Timeout:       cfg.UpstreamTimeout,
		CacheTTL:      cfg.TrackCacheTTL,
	}, s.tokens, proxyOpts...)
	handlerOpts = append(handlerOpts, api.WithTrackSource(p))

	h, err := api.NewHandler(cfg.HeadingStep, cfg.SampleCount, handlerOpts...)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create API handler: %w", err)
	}

	reg := prometheus.NewRegistry()
	if err := stats.Register(reg, s.stats); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s.handler = api.NewRouter(h, api.RouterConfig{
		Proxy:       p,
		ProxyPrefix: cfg.ProxyPrefix,
		Gatherer:    reg,
		Logger:      logger,
	})
	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve handles requests on l until ctx is canceled, then drains in-flight
// requests and persists the final statistics
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.db != nil {
		go s.stats.StartPersistence(ctx, s.cfg.StatsInterval)
	}
	go s.logStats(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(l)
	}()
	s.logger.Info(ctx, "listening", logging.String("addr", l.Addr().String()))

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// logStats periodically logs statistics
func (s *Server) logStats(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logger.Info(ctx, "statistics", logging.String("stats", s.stats.String()))
		}
	}
}

// Close releases the backends
func (s *Server) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing redisClient: %v\n", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing dbClient: %v\n", err)
		}
	}
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	exchanger := auth.NewClientCredentials(cfg.AuthURL, cfg.ClientID, cfg.ClientSecret, cfg.UpstreamTimeout)
	server, err := NewServer(cfg, logger, exchanger)
	if err != nil {
		log.Printf("Failed to create server: %v", err)
		os.Exit(1)
	}
	defer server.Close()

	l, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Printf("Failed to listen on %s: %v", cfg.ListenAddr, err)
		server.Close()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Serve(ctx, l); err != nil {
		log.Printf("Server error: %v", err)
		stop()
		server.Close()
		os.Exit(1)
	}
	log.Println("Shutting down...")
}
