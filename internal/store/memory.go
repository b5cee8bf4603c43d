package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskhive/hookbridge/internal/domain"
	"github.com/taskhive/hookbridge/internal/ledger"
)

// MemorySubscriptions keeps subscription configuration in process memory,
// for tests and database-less deployments. Counter mutations hold the
// repository lock, matching the atomicity the SQL implementation gets from
// single-statement updates.
type MemorySubscriptions struct {
	mu   sync.Mutex
	subs map[string]*domain.Subscription
}

func NewMemorySubscriptions() *MemorySubscriptions {
	return &MemorySubscriptions{subs: make(map[string]*domain.Subscription)}
}

func (m *MemorySubscriptions) Create(_ context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generating secret: %w", err)
	}

	maxFailures := req.MaxConsecutiveFailures
	if maxFailures <= 0 {
		maxFailures = domain.DefaultMaxConsecutiveFailures
	}

	now := time.Now()
	sub := &domain.Subscription{
		ID:                     uuid.New().String(),
		OwnerID:                req.OwnerID,
		EndpointURL:            req.EndpointURL,
		Secret:                 secret,
		Enabled:                true,
		Events:                 append([]string(nil), req.Events...),
		MaxConsecutiveFailures: maxFailures,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	out := *sub
	return &out, nil
}

func (m *MemorySubscriptions) Get(_ context.Context, id string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, nil
	}
	out := *sub
	return &out, nil
}

func (m *MemorySubscriptions) ListByOwner(_ context.Context, ownerID string) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Subscription{}
	for _, sub := range m.subs {
		if sub.OwnerID == ownerID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (m *MemorySubscriptions) Update(_ context.Context, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, nil
	}

	if req.EndpointURL != nil {
		sub.EndpointURL = *req.EndpointURL
	}
	if req.Enabled != nil {
		sub.Enabled = *req.Enabled
		if *req.Enabled {
			sub.ConsecutiveFailures = 0
		}
	}
	if req.Events != nil {
		sub.Events = append([]string(nil), req.Events...)
	}
	if req.MaxConsecutiveFailures != nil {
		sub.MaxConsecutiveFailures = *req.MaxConsecutiveFailures
	}
	sub.UpdatedAt = time.Now()

	out := *sub
	return &out, nil
}

func (m *MemorySubscriptions) ListForEvent(_ context.Context, eventType string) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Subscription{}
	for _, sub := range m.subs {
		if sub.SubscribesTo(eventType) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (m *MemorySubscriptions) RecordSuccess(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return fmt.Errorf("subscription %s not found", id)
	}
	now := time.Now()
	sub.ConsecutiveFailures = 0
	sub.LastAttemptedAt = &now
	sub.UpdatedAt = now
	return nil
}

func (m *MemorySubscriptions) RecordFailure(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return 0, fmt.Errorf("subscription %s not found", id)
	}
	now := time.Now()
	sub.ConsecutiveFailures++
	sub.LastAttemptedAt = &now
	sub.UpdatedAt = now
	return sub.ConsecutiveFailures, nil
}

// MemoryEvents keeps ingested events in process memory.
type MemoryEvents struct {
	mu     sync.Mutex
	events map[string]*domain.Event
	order  []string
}

func NewMemoryEvents() *MemoryEvents {
	return &MemoryEvents{events: make(map[string]*domain.Event)}
}

func (m *MemoryEvents) CreateEvent(_ context.Context, eventType, correlationID string, payload json.RawMessage, source string) (*domain.Event, error) {
	event := &domain.Event{
		ID:            uuid.New().String(),
		EventType:     eventType,
		CorrelationID: correlationID,
		Payload:       payload,
		Source:        source,
		CreatedAt:     time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.ID] = event
	m.order = append(m.order, event.ID)
	out := *event
	return &out, nil
}

func (m *MemoryEvents) GetEvent(_ context.Context, id string) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[id]
	if !ok {
		return nil, nil
	}
	out := *event
	return &out, nil
}

func (m *MemoryEvents) ListEvents(_ context.Context, eventType string, limit int) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := []domain.Event{}
	for i := len(m.order) - 1; i >= 0; i-- {
		event := m.events[m.order[i]]
		if eventType != "" && event.EventType != eventType {
			continue
		}
		events = append(events, *event)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

// MemorySecretLookup resolves a callback correlation id to a signing secret
// the way the SQL join does: most recent delivery for the correlation id,
// then the secret of the exact subscription that delivery went out under.
func MemorySecretLookup(subs *MemorySubscriptions, repo *ledger.MemoryRepository) func(ctx context.Context, correlationID string) (string, error) {
	return func(ctx context.Context, correlationID string) (string, error) {
		records, err := repo.ListRecent(ctx, "", 0)
		if err != nil {
			return "", err
		}
		for _, rec := range records {
			if rec.CorrelationID != correlationID {
				continue
			}
			sub, err := subs.Get(ctx, rec.SubscriptionID)
			if err != nil {
				return "", err
			}
			if sub != nil {
				return sub.Secret, nil
			}
		}
		return "", fmt.Errorf("no delivery matches correlation id %s", correlationID)
	}
}
