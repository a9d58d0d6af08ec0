package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/productimport/internal/core"
)

const (
	defaultPrefix = "product_import"
	signalTTL     = 24 * time.Hour
	pollTimeout   = 5 * time.Second
)

// Redis is a Dispatcher and Signaler shared by every process using the same
// Redis database. Job ids go through a list; each signal is one key.
type Redis struct {
	client *redis.Client
	prefix string
}

var (
	_ core.Dispatcher = (*Redis)(nil)
	_ core.Signaler   = (*Redis)(nil)
)

// NewRedis wraps a connected client. prefix namespaces the keys.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// Connect parses url, connects, and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *Redis) queueKey() string {
	return r.prefix + ":queue"
}

func (r *Redis) signalKey(id uuid.UUID) string {
	return r.prefix + ":control:" + id.String()
}

// Enqueue appends the job id to the queue list.
func (r *Redis) Enqueue(ctx context.Context, id uuid.UUID) error {
	if err := r.client.RPush(ctx, r.queueKey(), id.String()).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Dequeue pops the oldest job id, blocking until one arrives or ctx is done.
func (r *Redis) Dequeue(ctx context.Context) (uuid.UUID, error) {
	for {
		res, err := r.client.BLPop(ctx, pollTimeout, r.queueKey()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return uuid.Nil, ctx.Err()
			}
			return uuid.Nil, fmt.Errorf("dequeue job: %w", err)
		}
		if len(res) < 2 {
			continue
		}
		id, err := uuid.Parse(res[1])
		if err != nil {
			// Not ours; drop it and keep waiting.
			continue
		}
		return id, nil
	}
}

// Raise stores sig. Pause only sets the key when no signal is pending, so a
// cancel is never downgraded.
func (r *Redis) Raise(ctx context.Context, id uuid.UUID, sig core.Signal) error {
	var err error
	if sig == core.SignalPause {
		err = r.client.SetNX(ctx, r.signalKey(id), string(sig), signalTTL).Err()
	} else {
		err = r.client.Set(ctx, r.signalKey(id), string(sig), signalTTL).Err()
	}
	if err != nil {
		return fmt.Errorf("raise %s: %w", sig, err)
	}
	return nil
}

// Take atomically reads and deletes the pending signal.
func (r *Redis) Take(ctx context.Context, id uuid.UUID) (core.Signal, error) {
	val, err := r.client.GetDel(ctx, r.signalKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return core.SignalNone, nil
	}
	if err != nil {
		return core.SignalNone, fmt.Errorf("take signal: %w", err)
	}
	return core.Signal(val), nil
}
