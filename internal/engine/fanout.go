package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taskhive/hookbridge/internal/domain"
	"github.com/taskhive/hookbridge/internal/metrics"
)

// Sender is the delivery engine as seen by the dispatcher.
type Sender interface {
	Deliver(ctx context.Context, req Request) (Result, error)
}

// Defaults are the attempt-loop settings the dispatcher stamps onto every
// request it creates.
type Defaults struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	AttemptTimeout time.Duration
}

// Dispatcher fans one event out to its candidate recipients. Recipients run
// concurrently and independently: one endpoint hanging, failing, or
// panicking never costs the others their result.
type Dispatcher struct {
	sender   Sender
	gate     *Gate
	defaults Defaults
	logger   *slog.Logger
}

func NewDispatcher(sender Sender, gate *Gate, defaults Defaults, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		gate:     gate,
		defaults: defaults,
		logger:   logger,
	}
}

// Dispatch delivers one event to every eligible subscription and returns
// one result per input subscription, in input order. Ineligible recipients
// are reported as skipped rather than omitted. Dispatch joins only to
// collect results; it imposes no ordering between recipients.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType, correlationID string, payload json.RawMessage, subs []domain.Subscription) []Result {
	results := make([]Result, len(subs))

	var wg sync.WaitGroup
	for i := range subs {
		sub := &subs[i]

		if !d.gate.Eligible(sub, eventType) {
			results[i] = Result{
				SubscriptionID: sub.ID,
				Status:         ResultSkipped,
				Error:          d.gate.SkipReason(sub, eventType),
			}
			metrics.DeliveriesTotal.WithLabelValues(ResultSkipped).Inc()
			continue
		}

		wg.Add(1)
		go func(i int, sub *domain.Subscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = Result{
						SubscriptionID: sub.ID,
						Status:         ResultFailed,
						Error:          fmt.Sprintf("delivery panicked: %v", r),
					}
					metrics.DeliveriesTotal.WithLabelValues(ResultFailed).Inc()
					d.logger.Error("delivery panicked",
						"subscription_id", sub.ID,
						"correlation_id", correlationID,
						"panic", fmt.Sprint(r),
					)
				}
			}()

			res, err := d.sender.Deliver(ctx, Request{
				SubscriptionID: sub.ID,
				OwnerID:        sub.OwnerID,
				CorrelationID:  correlationID,
				EventType:      eventType,
				TargetURL:      sub.EndpointURL,
				Secret:         sub.Secret,
				Payload:        payload,
				MaxAttempts:    d.defaults.MaxAttempts,
				InitialBackoff: d.defaults.InitialBackoff,
				AttemptTimeout: d.defaults.AttemptTimeout,
			})
			if err != nil {
				// Configuration error: reported as this recipient's failure,
				// but it made no attempts, so it does not feed the breaker.
				results[i] = Result{
					SubscriptionID: sub.ID,
					Status:         ResultFailed,
					Error:          err.Error(),
				}
				metrics.DeliveriesTotal.WithLabelValues(ResultFailed).Inc()
				d.logger.Error("delivery misconfigured",
					"subscription_id", sub.ID,
					"owner_id", sub.OwnerID,
					"error", err,
				)
				return
			}

			results[i] = res
			// The breaker counter is updated even when the dispatch context
			// was canceled mid-delivery; losing the update would under-count.
			d.gate.OnOutcome(context.WithoutCancel(ctx), sub, res.Status)
		}(i, sub)
	}

	wg.Wait()
	return results
}
