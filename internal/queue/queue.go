// Package queue is the Redis-backed backlog between event ingestion and
// fan-out. The API handler enqueues and returns; a consumer pool drains the
// backlog and runs deliveries, so a burst of events or a slow endpoint
// never blocks the ingestion path.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskhive/hookbridge/internal/domain"
)

// EventQueueKey is the sorted set holding pending events, scored by
// enqueue time.
const EventQueueKey = "event_queue"

// Queue publishes ingested events to the backlog.
type Queue struct {
	client *redis.Client
	logger *slog.Logger
}

func New(client *redis.Client, logger *slog.Logger) *Queue {
	return &Queue{client: client, logger: logger}
}

// Enqueue adds one event to the backlog.
func (q *Queue) Enqueue(ctx context.Context, event *domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	err = q.client.ZAdd(ctx, EventQueueKey, redis.Z{
		Score:  float64(time.Now().UnixMicro()),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("queuing event: %w", err)
	}

	q.logger.Info("event queued",
		"event_id", event.ID,
		"event_type", event.EventType,
		"correlation_id", event.CorrelationID,
	)
	return nil
}

// Depth returns the number of events waiting in the backlog.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, EventQueueKey).Result()
}
