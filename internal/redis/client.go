package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saviobatista/ogn-feed/internal/types"
)

const (
	// EventsChannel carries every feed event as JSON
	EventsChannel = "ogn:events"
	// LatestStatsKey always holds the most recent stats snapshot
	LatestStatsKey = "ogn:stats:latest"
)

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Client publishes events and keeps session stats snapshots in Redis
type Client struct {
	client   RedisClientInterface
	statsTTL time.Duration
}

// New creates a new Redis client
func New(addr, password string, statsTTL time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client, statsTTL: statsTTL}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface, statsTTL time.Duration) *Client {
	return &Client{client: client, statsTTL: statsTTL}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// PublishEvent publishes an event on EventsChannel
func (c *Client) PublishEvent(ctx context.Context, event *types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := c.client.Publish(ctx, EventsChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func statsKey(sessionID string) string {
	return fmt.Sprintf("ogn:stats:%s", sessionID)
}

// StoreSessionStats stores the snapshot under its session key and as the latest snapshot
func (c *Client) StoreSessionStats(ctx context.Context, stats *types.SessionStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal session stats: %w", err)
	}

	if err := c.client.Set(ctx, statsKey(stats.SessionID), data, c.statsTTL).Err(); err != nil {
		return fmt.Errorf("failed to store session stats: %w", err)
	}
	if err := c.client.Set(ctx, LatestStatsKey, data, c.statsTTL).Err(); err != nil {
		return fmt.Errorf("failed to store latest stats: %w", err)
	}
	return nil
}

// getData retrieves data from Redis and unmarshals it into the target
func (c *Client) getData(ctx context.Context, key string, target interface{}, dataType string) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s data: %w", dataType, err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s data: %w", dataType, err)
	}

	return true, nil
}

// GetSessionStats retrieves a session's snapshot, nil when expired or unknown
func (c *Client) GetSessionStats(ctx context.Context, sessionID string) (*types.SessionStats, error) {
	var stats types.SessionStats
	found, err := c.getData(ctx, statsKey(sessionID), &stats, "session stats")
	if err != nil || !found {
		return nil, err
	}
	return &stats, nil
}

// GetLatestStats retrieves the most recent snapshot of any session
func (c *Client) GetLatestStats(ctx context.Context) (*types.SessionStats, error) {
	var stats types.SessionStats
	found, err := c.getData(ctx, LatestStatsKey, &stats, "latest stats")
	if err != nil || !found {
		return nil, err
	}
	return &stats, nil
}

// DeleteSessionStats removes a session's snapshot
func (c *Client) DeleteSessionStats(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, statsKey(sessionID)).Err()
}
