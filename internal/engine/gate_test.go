package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/taskhive/hookbridge/internal/domain"
)

// stubSubscriptionStore keeps counters in memory with the same atomicity
// contract as the postgres implementation.
type stubSubscriptionStore struct {
	mu       sync.Mutex
	failures map[string]int
}

func newStubStore() *stubSubscriptionStore {
	return &stubSubscriptionStore{failures: make(map[string]int)}
}

func (s *stubSubscriptionStore) RecordSuccess(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[id] = 0
	return nil
}

func (s *stubSubscriptionStore) RecordFailure(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[id]++
	return s.failures[id], nil
}

func activeSubscription() domain.Subscription {
	return domain.Subscription{
		ID:                     "sub-1",
		OwnerID:                "owner-1",
		EndpointURL:            "https://example.com/hook",
		Secret:                 "sec",
		Enabled:                true,
		Events:                 []string{domain.EventTaskAssigned, domain.EventCommentCreated},
		MaxConsecutiveFailures: 3,
	}
}

func TestGate_Eligible(t *testing.T) {
	gate := NewGate(newStubStore(), testLogger())

	tests := []struct {
		name      string
		mutate    func(*domain.Subscription)
		eventType string
		want      bool
	}{
		{"subscribed and healthy", nil, domain.EventTaskAssigned, true},
		{"disabled", func(s *domain.Subscription) { s.Enabled = false }, domain.EventTaskAssigned, false},
		{"not subscribed to event", nil, domain.EventTaskCompleted, false},
		{"tripped", func(s *domain.Subscription) { s.ConsecutiveFailures = 3 }, domain.EventTaskAssigned, false},
		{"one failure below threshold", func(s *domain.Subscription) { s.ConsecutiveFailures = 2 }, domain.EventTaskAssigned, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := activeSubscription()
			if tt.mutate != nil {
				tt.mutate(&sub)
			}
			if got := gate.Eligible(&sub, tt.eventType); got != tt.want {
				t.Errorf("Eligible = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGate_TripsAfterThreshold(t *testing.T) {
	store := newStubStore()
	gate := NewGate(store, testLogger())
	ctx := context.Background()

	sub := activeSubscription()

	for i := 1; i <= 3; i++ {
		if !gate.Eligible(&sub, domain.EventTaskAssigned) && i <= 3 {
			t.Fatalf("subscription should stay eligible before trip, failed at %d", i)
		}
		gate.OnOutcome(ctx, &sub, ResultFailed)
	}

	if sub.ConsecutiveFailures != 3 {
		t.Errorf("consecutive failures = %d, want 3", sub.ConsecutiveFailures)
	}
	if gate.Eligible(&sub, domain.EventTaskAssigned) {
		t.Error("subscription should be ineligible after the 3rd consecutive failure")
	}
	if gate.SkipReason(&sub, domain.EventTaskAssigned) != "circuit breaker open" {
		t.Errorf("skip reason = %q", gate.SkipReason(&sub, domain.EventTaskAssigned))
	}
}

func TestGate_SuccessResetsCounter(t *testing.T) {
	store := newStubStore()
	gate := NewGate(store, testLogger())
	ctx := context.Background()

	sub := activeSubscription()

	gate.OnOutcome(ctx, &sub, ResultFailed)
	gate.OnOutcome(ctx, &sub, ResultFailed)
	if sub.ConsecutiveFailures != 2 {
		t.Fatalf("consecutive failures = %d, want 2", sub.ConsecutiveFailures)
	}

	gate.OnOutcome(ctx, &sub, ResultSuccess)
	if sub.ConsecutiveFailures != 0 {
		t.Errorf("success should reset the counter, got %d", sub.ConsecutiveFailures)
	}

	// A fresh run of failures starts the count over.
	gate.OnOutcome(ctx, &sub, ResultFailed)
	if sub.ConsecutiveFailures != 1 {
		t.Errorf("counter after reset = %d, want 1", sub.ConsecutiveFailures)
	}
	if !gate.Eligible(&sub, domain.EventTaskAssigned) {
		t.Error("subscription should be eligible again after a reset")
	}
}

func TestGate_SkippedOutcomeDoesNotTouchCounter(t *testing.T) {
	store := newStubStore()
	gate := NewGate(store, testLogger())

	sub := activeSubscription()
	gate.OnOutcome(context.Background(), &sub, ResultSkipped)

	if sub.ConsecutiveFailures != 0 {
		t.Errorf("skipped outcome mutated the counter: %d", sub.ConsecutiveFailures)
	}
}

func TestGate_ConcurrentFailuresAreCounted(t *testing.T) {
	store := newStubStore()
	gate := NewGate(store, testLogger())
	ctx := context.Background()

	// Two events racing to the same recipient each carry their own snapshot
	// of the subscription row; only the store counter is shared.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := activeSubscription()
			sub.MaxConsecutiveFailures = 100
			gate.OnOutcome(ctx, &sub, ResultFailed)
		}()
	}
	wg.Wait()

	store.mu.Lock()
	count := store.failures["sub-1"]
	store.mu.Unlock()
	if count != 20 {
		t.Errorf("store counted %d failures, want 20 (no lost increments)", count)
	}
}
