package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskhive/hookbridge/internal/domain"
	"github.com/taskhive/hookbridge/internal/engine"
	"github.com/taskhive/hookbridge/internal/store"
)

// Consumer polls the backlog, claims events, and fans each one out via
// the worker pool.
type Consumer struct {
	client       *redis.Client
	subs         store.Subscriptions
	dispatcher   *engine.Dispatcher
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int64

	// notify, when set, receives every per-recipient result, feeding the
	// live delivery stream.
	notify func(event *domain.Event, res engine.Result)
}

func NewConsumer(client *redis.Client, subs store.Subscriptions, dispatcher *engine.Dispatcher, pool *Pool, logger *slog.Logger) *Consumer {
	return &Consumer{
		client:       client,
		subs:         subs,
		dispatcher:   dispatcher,
		pool:         pool,
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
	}
}

// OnResult registers a per-recipient result callback. Must be set before
// Start.
func (c *Consumer) OnResult(fn func(event *domain.Event, res engine.Result)) {
	c.notify = fn
}

// Start runs the polling loop until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("queue consumer started")

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("queue consumer stopping")
			return
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

// poll fetches a batch of ready events and submits the ones this instance
// manages to claim.
func (c *Consumer) poll(ctx context.Context) {
	now := float64(time.Now().UnixMicro())

	results, err := c.client.ZRangeByScoreWithScores(ctx, EventQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(now, 'f', -1, 64),
		Count: c.batchSize,
	}).Result()
	if err != nil {
		c.logger.Error("failed to poll event queue", "error", err)
		return
	}

	for _, z := range results {
		member := z.Member.(string)

		// ZRem is the claim: if another consumer instance already took this
		// event, removed comes back 0 and we skip it.
		removed, err := c.client.ZRem(ctx, EventQueueKey, member).Result()
		if err != nil {
			c.logger.Error("failed to claim event", "error", err)
			continue
		}
		if removed == 0 {
			continue
		}

		var event domain.Event
		if err := json.Unmarshal([]byte(member), &event); err != nil {
			c.logger.Error("failed to unmarshal queued event", "error", err)
			continue
		}

		c.pool.Submit(event)
	}
}

// Process fans one event out to every matching subscription. Called by the
// pool workers.
func (c *Consumer) Process(ctx context.Context, event domain.Event) {
	recipients, err := c.subs.ListForEvent(ctx, event.EventType)
	if err != nil {
		c.logger.Error("failed to load recipients",
			"error", err,
			"event_id", event.ID,
			"event_type", event.EventType,
		)
		return
	}
	if len(recipients) == 0 {
		c.logger.Debug("no recipients for event",
			"event_id", event.ID,
			"event_type", event.EventType,
		)
		return
	}

	results := c.dispatcher.Dispatch(ctx, event.EventType, event.CorrelationID, event.Payload, recipients)

	if c.notify != nil {
		for _, res := range results {
			c.notify(&event, res)
		}
	}

	c.logger.Info("fan-out complete",
		"event_id", event.ID,
		"event_type", event.EventType,
		"recipients", len(recipients),
	)
}
