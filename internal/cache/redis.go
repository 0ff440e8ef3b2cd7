// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Rdb is the global Redis client. Connect it once at application startup;
// leaving it nil disables round-history publication entirely.
var Rdb *redis.Client

// DefaultQueueName is the Redis list (queue) name for finished-round events.
var DefaultQueueName = "wisher_rounds"

// RoundEventRecord holds the minimal info a downstream consumer (stats,
// replays) needs about a finished round.
type RoundEventRecord struct {
	LobbyID   uuid.UUID      `json:"lobby_id"`
	RoundID   uuid.UUID      `json:"round_id"`
	Number    int            `json:"number"`
	WisherID  uuid.UUID      `json:"wisher_uuid"`
	Wish      string         `json:"wish_text"`
	Winner    uuid.UUID      `json:"winner_uuid"`
	Tally     map[string]int `json:"tally"`
	GameOver  bool           `json:"game_over"`
	Timestamp int64          `json:"timestamp"`
}

// ConnectRedis initializes the global Redis client with environment variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
func ConnectRedis() error {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	Rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		// A nil client is the disabled state; publishers check for it.
		Rdb.Close()
		Rdb = nil
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

// PublishRoundEvent serializes the given record to JSON, then pushes it to
// the Redis queue. This does not block the calling logic (other than a quick
// network send).
func PublishRoundEvent(ctx context.Context, record RoundEventRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal RoundEventRecord: %w", err)
	}

	queueName := getEnv("ROUND_QUEUE_NAME", DefaultQueueName)
	if err := Rdb.RPush(ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", queueName, err)
	}
	return nil
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
