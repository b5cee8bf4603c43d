package store

import (
	"context"
	"testing"
	"time"

	"github.com/taskhive/hookbridge/internal/domain"
	"github.com/taskhive/hookbridge/internal/ledger"
)

func TestMemorySecretLookup_ResolvesDeliveringSubscription(t *testing.T) {
	ctx := context.Background()
	subs := NewMemorySubscriptions()
	repo := ledger.NewMemoryRepository()

	// One owner, two endpoints with different secrets. The callback must be
	// checked against the secret of the subscription the delivery actually
	// went out under, not whichever of the owner's subscriptions turns up
	// first.
	first, err := subs.Create(ctx, domain.CreateSubscriptionRequest{
		OwnerID:     "owner-1",
		EndpointURL: "https://a.example.com/hook",
		Events:      []string{domain.EventTaskAssigned},
	})
	if err != nil {
		t.Fatal(err)
	}
	second, err := subs.Create(ctx, domain.CreateSubscriptionRequest{
		OwnerID:     "owner-1",
		EndpointURL: "https://b.example.com/hook",
		Events:      []string{domain.EventTaskAssigned},
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.Secret == second.Secret {
		t.Fatal("test subscriptions share a secret")
	}

	err = repo.Begin(ctx, domain.DeliveryRecord{
		ID:             "rec-1",
		SubscriptionID: second.ID,
		OwnerID:        "owner-1",
		CorrelationID:  "task-1",
		EventType:      domain.EventTaskAssigned,
		TargetURL:      second.EndpointURL,
		Status:         domain.DeliveryStatusPending,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	lookup := MemorySecretLookup(subs, repo)
	secret, err := lookup(ctx, "task-1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if secret != second.Secret {
		t.Errorf("lookup returned the wrong subscription's secret")
	}
}

func TestMemorySecretLookup_UnknownCorrelation(t *testing.T) {
	lookup := MemorySecretLookup(NewMemorySubscriptions(), ledger.NewMemoryRepository())
	if _, err := lookup(context.Background(), "task-404"); err == nil {
		t.Error("expected an error for a correlation id with no deliveries")
	}
}
