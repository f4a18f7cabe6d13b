package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/saviobatista/flightpath/internal/types"
)

type Client struct {
	db *sql.DB
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Client{db: db}, nil
}

// NewWithDB wraps an existing connection pool
func NewWithDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// Ping verifies the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// StoreServiceStats stores a counter snapshot
func (c *Client) StoreServiceStats(ctx context.Context, stats types.ServiceStats) error {
	query := `
		INSERT INTO service_stats (
			time, proxy_requests, upstream_errors, truncations, cache_hits,
			token_exchanges, token_failures, trajectories_built, positions_resolved,
			uptime_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := c.db.ExecContext(ctx, query,
		stats.Time,
		int64(stats.ProxyRequests),
		int64(stats.UpstreamErrors),
		int64(stats.Truncations),
		int64(stats.CacheHits),
		int64(stats.TokenExchanges),
		int64(stats.TokenFailures),
		int64(stats.TrajectoriesBuilt),
		int64(stats.PositionsResolved),
		int64(stats.Uptime.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("failed to store service stats: %w", err)
	}
	return nil
}

// GetServiceStats retrieves snapshots for a time range, newest first
func (c *Client) GetServiceStats(ctx context.Context, start, end time.Time) ([]types.ServiceStats, error) {
	query := `
		SELECT
			time, proxy_requests, upstream_errors, truncations, cache_hits,
			token_exchanges, token_failures, trajectories_built, positions_resolved,
			uptime_seconds
		FROM service_stats
		WHERE time BETWEEN $1 AND $2
		ORDER BY time DESC
	`

	rows, err := c.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query service stats: %w", err)
	}
	defer rows.Close()

	var result []types.ServiceStats
	for rows.Next() {
		var (
			s                                                types.ServiceStats
			requests, upstreamErrors, truncations, cacheHits int64
			exchanges, failures, trajectories, positions, up int64
		)
		if err := rows.Scan(
			&s.Time, &requests, &upstreamErrors, &truncations, &cacheHits,
			&exchanges, &failures, &trajectories, &positions, &up,
		); err != nil {
			return nil, fmt.Errorf("failed to scan service stats: %w", err)
		}
		s.ProxyRequests = uint64(requests)
		s.UpstreamErrors = uint64(upstreamErrors)
		s.Truncations = uint64(truncations)
		s.CacheHits = uint64(cacheHits)
		s.TokenExchanges = uint64(exchanges)
		s.TokenFailures = uint64(failures)
		s.TrajectoriesBuilt = uint64(trajectories)
		s.PositionsResolved = uint64(positions)
		s.Uptime = time.Duration(up) * time.Second
		result = append(result, s)
	}
	return result, rows.Err()
}
