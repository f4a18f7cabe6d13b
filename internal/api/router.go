package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/saviobatista/flightpath/internal/logging"
)

// RouterConfig wires the pieces served next to the engine endpoints
type RouterConfig struct {
	// Proxy is mounted under ProxyPrefix when set
	Proxy       http.Handler
	ProxyPrefix string
	// Gatherer is exposed on /metrics when set
	Gatherer prometheus.Gatherer
	Logger   logging.Logger
	// AllowedOrigins defaults to any origin
	AllowedOrigins []string
}

// NewRouter builds the HTTP routes of the server
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Noop()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", logging.RequestIDHeader},
		ExposedHeaders: []string{logging.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.Proxy != nil {
		prefix := strings.TrimRight(cfg.ProxyPrefix, "/")
		r.Handle(prefix+"/*", cfg.Proxy)
	}

	r.Post("/api/trajectory", h.Trajectory)
	r.Post("/api/trajectory/geojson", h.TrajectoryGeoJSON)
	r.Post("/api/position", h.Position)
	r.Get("/api/flights/{flightID}/position", h.FlightPosition)
	r.Get("/api/live/{icao24}", h.LiveTrack)

	return r
}
