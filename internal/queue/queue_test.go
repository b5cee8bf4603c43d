package queue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/taskhive/hookbridge/internal/domain"
	"github.com/taskhive/hookbridge/internal/engine"
	"github.com/taskhive/hookbridge/internal/ledger"
	"github.com/taskhive/hookbridge/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestQueue_EnqueueAndDepth(t *testing.T) {
	client := testRedis(t)
	q := New(client, testLogger())
	ctx := context.Background()

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 0 {
		t.Errorf("expected empty queue, got depth %d", depth)
	}

	for i := 0; i < 3; i++ {
		event := &domain.Event{
			ID:            "evt-" + string(rune('a'+i)),
			EventType:     domain.EventTaskCreated,
			CorrelationID: "task-1",
			Payload:       json.RawMessage(`{}`),
			CreatedAt:     time.Now(),
		}
		if err := q.Enqueue(ctx, event); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	depth, err = q.Depth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 3 {
		t.Errorf("expected depth 3, got %d", depth)
	}
}

func TestConsumer_PollClaimsEachEventOnce(t *testing.T) {
	client := testRedis(t)
	q := New(client, testLogger())
	ctx := context.Background()

	var mu sync.Mutex
	seen := map[string]int{}
	pool := NewPool(2, func(_ context.Context, event domain.Event) {
		mu.Lock()
		seen[event.ID]++
		mu.Unlock()
	}, testLogger())
	pool.Start(ctx)

	consumer := &Consumer{
		client:       client,
		pool:         pool,
		logger:       testLogger(),
		pollInterval: time.Millisecond,
		batchSize:    10,
	}

	for i := 0; i < 5; i++ {
		event := &domain.Event{ID: "evt-" + string(rune('a'+i)), EventType: domain.EventTaskCreated}
		if err := q.Enqueue(ctx, event); err != nil {
			t.Fatal(err)
		}
	}

	consumer.poll(ctx)
	consumer.poll(ctx) // second poll must find nothing left to claim
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 5 {
		t.Fatalf("processed %d distinct events, want 5", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("event %s processed %d times, want exactly once", id, n)
		}
	}

	depth, _ := q.Depth(ctx)
	if depth != 0 {
		t.Errorf("queue should be drained, depth = %d", depth)
	}
}

func TestConsumer_ProcessFansOut(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	subs := store.NewMemorySubscriptions()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := subs.Create(ctx, domain.CreateSubscriptionRequest{
			OwnerID:     "owner-" + string(rune('1'+i)),
			EndpointURL: server.URL,
			Events:      []string{domain.EventTaskAssigned},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	repo := ledger.NewMemoryRepository()
	deliverer := engine.NewDeliverer(ledger.New(repo, testLogger()), testLogger())
	gate := engine.NewGate(subs, testLogger())
	dispatcher := engine.NewDispatcher(deliverer, gate, engine.Defaults{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		AttemptTimeout: time.Second,
	}, testLogger())

	var notified atomic.Int32
	consumer := NewConsumer(testRedis(t), subs, dispatcher, nil, testLogger())
	consumer.OnResult(func(_ *domain.Event, res engine.Result) {
		if res.Status == engine.ResultSuccess {
			notified.Add(1)
		}
	})

	consumer.Process(ctx, domain.Event{
		ID:            "evt-1",
		EventType:     domain.EventTaskAssigned,
		CorrelationID: "task-9",
		Payload:       json.RawMessage(`{"assignee":"u-1"}`),
	})

	if hits.Load() != 2 {
		t.Errorf("endpoint hit %d times, want 2 (one per recipient)", hits.Load())
	}
	if notified.Load() != 2 {
		t.Errorf("notified %d results, want 2", notified.Load())
	}

	records, err := repo.ListRecent(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Errorf("ledger has %d records, want 2", len(records))
	}
}

func TestConsumer_ProcessWithNoRecipients(t *testing.T) {
	subs := store.NewMemorySubscriptions()
	consumer := NewConsumer(testRedis(t), subs, nil, nil, testLogger())

	// Must not panic with a nil dispatcher: no recipients means no dispatch.
	consumer.Process(context.Background(), domain.Event{
		ID:        "evt-1",
		EventType: domain.EventTaskAssigned,
	})
}
