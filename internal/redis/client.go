package redis

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/saviobatista/flightpath/internal/types"
)

const (
	responseKeyPrefix = "opensky:response:"
	sequenceKeyPrefix = "trajectory:"
)

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client caches upstream responses and reconstructed trajectories in Redis
type Client struct {
	client RedisClientInterface
}

// New creates a new Redis client
func New(addr string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// ResponseKey maps an upstream URL onto a cache key
func ResponseKey(url string) string {
	sum := sha1.Sum([]byte(url))
	return responseKeyPrefix + hex.EncodeToString(sum[:])
}

// GetResponse returns a cached upstream body. ok is false on a miss.
func (c *Client) GetResponse(ctx context.Context, url string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, ResponseKey(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached response: %w", err)
	}
	return data, true, nil
}

// StoreResponse caches an upstream body for ttl
func (c *Client) StoreResponse(ctx context.Context, url string, body []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, ResponseKey(url), body, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store response: %w", err)
	}
	return nil
}

// StoreSequence caches a reconstructed trajectory under a flight id
func (c *Client) StoreSequence(ctx context.Context, flightID string, seq types.Sequence, ttl time.Duration) error {
	data, err := json.Marshal(seq)
	if err != nil {
		return fmt.Errorf("failed to marshal trajectory: %w", err)
	}
	if err := c.client.Set(ctx, sequenceKeyPrefix+flightID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store trajectory: %w", err)
	}
	return nil
}

// GetSequence returns the trajectory cached for flightID, or nil when absent
func (c *Client) GetSequence(ctx context.Context, flightID string) (types.Sequence, error) {
	data, err := c.client.Get(ctx, sequenceKeyPrefix+flightID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trajectory data: %w", err)
	}

	var seq types.Sequence
	if err := json.Unmarshal(data, &seq); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trajectory data: %w", err)
	}
	return seq, nil
}

// DeleteSequence removes a cached trajectory
func (c *Client) DeleteSequence(ctx context.Context, flightID string) error {
	return c.client.Del(ctx, sequenceKeyPrefix+flightID).Err()
}
