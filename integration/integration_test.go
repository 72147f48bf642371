//go:build integration

package integration

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// TestDependencies verifies that every optional backing dependency configured
// through the environment is actually reachable. Each block skips when its
// env var is unset so the suite can run against partial stacks.
func TestDependencies(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			t.Fatalf("db connect failed: %v", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			t.Fatalf("db ping failed: %v", err)
		}
	} else {
		t.Log("DATABASE_URL not set, skipping db check")
	}

	if brokersRaw := os.Getenv("KAFKA_BROKERS"); brokersRaw != "" {
		brokers := strings.Split(brokersRaw, ",")
		conn, err := kafka.Dial("tcp", strings.TrimSpace(brokers[0]))
		if err != nil {
			t.Fatalf("kafka dial failed: %v", err)
		}
		_ = conn.Close()
	} else {
		t.Log("KAFKA_BROKERS not set, skipping kafka check")
	}

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			t.Fatalf("redis ping failed: %v", err)
		}
		_ = redisClient.Close()
	} else {
		t.Log("REDIS_ADDR not set, skipping redis check")
	}

	if asynqAddr := os.Getenv("ASYNQ_REDIS_ADDR"); asynqAddr != "" {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: asynqAddr})
		defer inspector.Close()
		if _, err := inspector.Queues(); err != nil {
			t.Fatalf("asynq inspector failed: %v", err)
		}
	} else {
		t.Log("ASYNQ_REDIS_ADDR not set, skipping asynq check")
	}
}
