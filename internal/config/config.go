package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultListenAddr = ":3000"
	DefaultAuthURL    = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"
	DefaultAPIURL     = "https://opensky-network.org"
	DefaultPrefix     = "/api/opensky"
	DefaultNATSURL    = "nats://localhost:4222"
)

// Config holds the server configuration
type Config struct {
	ListenAddr string

	ClientID          string
	ClientSecret      string
	AuthURL           string
	APIURL            string
	ProxyPrefix       string
	TrackMaxPoints    int
	TokenSafetyMargin time.Duration
	UpstreamTimeout   time.Duration

	HeadingStep int
	SampleCount int

	RedisAddr     string
	TrackCacheTTL time.Duration

	DBConnStr     string
	StatsInterval time.Duration

	LogLevel  string
	LogFormat string
}

// FeedConfig holds the demo position feed configuration
type FeedConfig struct {
	NATSURL     string
	RedisAddr   string
	Interval    time.Duration
	HeadingStep int
	SampleCount int
	LogLevel    string
	LogFormat   string
}

// RecorderConfig holds the position recorder configuration
type RecorderConfig struct {
	NATSURL   string
	OutputDir string
	FlightID  string
	LogLevel  string
	LogFormat string
}

// Load loads the server configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	clientID := os.Getenv("OPENSKY_CLIENT_ID")
	clientSecret := os.Getenv("OPENSKY_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("OPENSKY_CLIENT_ID and OPENSKY_CLIENT_SECRET environment variables are required")
	}

	cfg := &Config{
		ListenAddr:   getString("LISTEN_ADDR", DefaultListenAddr),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthURL:      getString("OPENSKY_AUTH_URL", DefaultAuthURL),
		APIURL:       getString("OPENSKY_API_URL", DefaultAPIURL),
		ProxyPrefix:  getString("PROXY_PREFIX", DefaultPrefix),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		DBConnStr:    os.Getenv("DB_CONN_STR"),
		LogLevel:     getString("LOG_LEVEL", "info"),
		LogFormat:    getString("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.TrackMaxPoints, err = getInt("TRACK_MAX_POINTS", 20); err != nil {
		return nil, err
	}
	if cfg.TrackMaxPoints < 0 {
		return nil, fmt.Errorf("TRACK_MAX_POINTS must not be negative")
	}
	if cfg.TokenSafetyMargin, err = getDuration("TOKEN_SAFETY_MARGIN", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.UpstreamTimeout, err = getDuration("UPSTREAM_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.HeadingStep, err = getInt("HEADING_STEP", 15); err != nil {
		return nil, err
	}
	if cfg.SampleCount, err = getInt("SAMPLE_COUNT", 200); err != nil {
		return nil, err
	}
	if cfg.TrackCacheTTL, err = getDuration("TRACK_CACHE_TTL", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.StatsInterval, err = getDuration("STATS_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFeed loads the demo feed configuration
func LoadFeed() (*FeedConfig, error) {
	_ = godotenv.Load()

	cfg := &FeedConfig{
		NATSURL:   getString("NATS_URL", DefaultNATSURL),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		LogLevel:  getString("LOG_LEVEL", "info"),
		LogFormat: getString("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.Interval, err = getDuration("FEED_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.HeadingStep, err = getInt("HEADING_STEP", 15); err != nil {
		return nil, err
	}
	if cfg.SampleCount, err = getInt("SAMPLE_COUNT", 200); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRecorder loads the position recorder configuration. An empty FlightID
// records every flight.
func LoadRecorder() (*RecorderConfig, error) {
	_ = godotenv.Load()

	cfg := &RecorderConfig{
		NATSURL:   getString("NATS_URL", DefaultNATSURL),
		OutputDir: getString("OUTPUT_DIR", "./positions"),
		FlightID:  os.Getenv("FLIGHT_ID"),
		LogLevel:  getString("LOG_LEVEL", "info"),
		LogFormat: getString("LOG_FORMAT", "text"),
	}
	return cfg, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// getDuration accepts Go durations ("90s") or a plain number of seconds
func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
