package tcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	handshakeEventsKey = "handshake:events" // capped list of JSON events, newest first
	handshakeStatsKey  = "handshake:stats"  // hash outcome -> count
	maxRecentEvents    = 1000
	redisOpTimeout     = 3 * time.Second
)

type HandshakeRedisRepo struct {
	client *redis.Client // Redis client instance
}

// constructor for HandshakeRedisRepo, url in redis://host:port/db form
func NewHandshakeRedisRepo(redisURL string) (*HandshakeRedisRepo, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = redisOpTimeout
	opts.WriteTimeout = redisOpTimeout

	rdb := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &HandshakeRedisRepo{client: rdb}, nil
}

// RecordHandshake pushes the event and bumps its outcome counter in one round trip.
func (r *HandshakeRedisRepo) RecordHandshake(evt *HandshakeEvent) error {
	if r == nil || r.client == nil {
		// No-op for testing/mock mode
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal handshake event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, handshakeEventsKey, payload)
	pipe.LTrim(ctx, handshakeEventsKey, 0, maxRecentEvents-1)
	pipe.HIncrBy(ctx, handshakeStatsKey, evt.Outcome, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis handshake write failed: %w", err)
	}
	return nil
}

// Recent returns up to n events, newest first.
func (r *HandshakeRedisRepo) Recent(ctx context.Context, n int) ([]*HandshakeEvent, error) {
	if r == nil || r.client == nil {
		return []*HandshakeEvent{}, nil
	}
	if n <= 0 || n > maxRecentEvents {
		n = maxRecentEvents
	}
	raw, err := r.client.LRange(ctx, handshakeEventsKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	events := make([]*HandshakeEvent, 0, len(raw))
	for _, item := range raw {
		var evt HandshakeEvent
		if err := json.Unmarshal([]byte(item), &evt); err != nil {
			continue // skip entries written by another version
		}
		events = append(events, &evt)
	}
	return events, nil
}

// Stats returns the per-outcome counters.
func (r *HandshakeRedisRepo) Stats(ctx context.Context) (map[string]int64, error) {
	if r == nil || r.client == nil {
		return map[string]int64{}, nil
	}
	fields, err := r.client.HGetAll(ctx, handshakeStatsKey).Result()
	if err != nil {
		return nil, err
	}
	stats := make(map[string]int64, len(fields))
	for outcome, v := range fields {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		stats[outcome] = n
	}
	return stats, nil
}

func (r *HandshakeRedisRepo) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
