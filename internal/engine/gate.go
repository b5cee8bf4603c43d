package engine

import (
	"context"
	"log/slog"

	"github.com/taskhive/hookbridge/internal/domain"
	"github.com/taskhive/hookbridge/internal/metrics"
)

// SubscriptionStore is the slice of the configuration repository the gate
// needs. Both mutations must be atomic at the store: two deliveries to the
// same recipient can finish concurrently, and a read-modify-write race must
// not under-count failures or drop a reset.
type SubscriptionStore interface {
	// RecordSuccess resets the consecutive-failure counter to zero and
	// stamps the last attempt time.
	RecordSuccess(ctx context.Context, subscriptionID string) error
	// RecordFailure atomically increments the counter, stamps the last
	// attempt time, and returns the new count.
	RecordFailure(ctx context.Context, subscriptionID string) (int, error)
}

// Gate decides whether a subscription may receive an event at all, and
// maintains the failure counter that eventually trips it. There is no
// time-based recovery: a tripped subscription stays off until the owner
// reconfigures it, so a permanently broken endpoint never gets hammered.
type Gate struct {
	store  SubscriptionStore
	logger *slog.Logger
}

func NewGate(store SubscriptionStore, logger *slog.Logger) *Gate {
	return &Gate{store: store, logger: logger}
}

// Eligible reports whether eventType may be sent to this subscription.
func (g *Gate) Eligible(sub *domain.Subscription, eventType string) bool {
	return sub.Enabled && !sub.Tripped() && sub.SubscribesTo(eventType)
}

// SkipReason names why Eligible returned false, for the per-recipient
// "not attempted" result.
func (g *Gate) SkipReason(sub *domain.Subscription, eventType string) string {
	switch {
	case !sub.Enabled:
		return "subscription disabled"
	case sub.Tripped():
		return "circuit breaker open"
	case !sub.SubscribesTo(eventType):
		return "event type not subscribed"
	default:
		return ""
	}
}

// OnOutcome updates the failure counter after a delivery sequence reaches a
// terminal status. Counter updates are best-effort: a store error is logged
// but does not alter the delivery result.
func (g *Gate) OnOutcome(ctx context.Context, sub *domain.Subscription, status string) {
	switch status {
	case ResultSuccess:
		if err := g.store.RecordSuccess(ctx, sub.ID); err != nil {
			g.logger.Error("failed to reset failure counter",
				"error", err,
				"subscription_id", sub.ID,
			)
			return
		}
		sub.ConsecutiveFailures = 0

	case ResultFailed:
		count, err := g.store.RecordFailure(ctx, sub.ID)
		if err != nil {
			g.logger.Error("failed to increment failure counter",
				"error", err,
				"subscription_id", sub.ID,
			)
			return
		}
		sub.ConsecutiveFailures = count
		if count == sub.MaxConsecutiveFailures {
			metrics.BreakerTrips.Inc()
			g.logger.Warn("subscription disabled after repeated failures",
				"subscription_id", sub.ID,
				"owner_id", sub.OwnerID,
				"consecutive_failures", count,
			)
		}
	}
}
