package store

import (
	"context"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// RedisStore wraps the queue's Redis connection. With an empty URL it runs
// an embedded in-process server instead, so local development needs no
// external Redis; the backlog is then not durable across restarts.
type RedisStore struct {
	client   *redis.Client
	embedded *miniredis.Miniredis
}

func NewRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	if redisURL == "" {
		embedded, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("starting embedded redis: %w", err)
		}
		return &RedisStore{
			client:   redis.NewClient(&redis.Options{Addr: embedded.Addr()}),
			embedded: embedded,
		}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	err := s.client.Close()
	if s.embedded != nil {
		s.embedded.Close()
	}
	return err
}

func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Embedded reports whether the store runs on the in-process server.
func (s *RedisStore) Embedded() bool {
	return s.embedded != nil
}
