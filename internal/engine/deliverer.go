package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/taskhive/hookbridge/internal/domain"
	"github.com/taskhive/hookbridge/internal/ledger"
	"github.com/taskhive/hookbridge/internal/metrics"
	"github.com/taskhive/hookbridge/internal/signature"
)

// Attempt-loop defaults, overridable per request and via configuration.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = time.Second
	DefaultAttemptTimeout = 10 * time.Second
)

// Result statuses reported per recipient.
const (
	ResultSuccess = domain.DeliveryStatusSuccess
	ResultFailed  = domain.DeliveryStatusFailed
	ResultSkipped = "skipped"
)

// Request describes one delivery sequence: one event headed to one
// recipient endpoint.
type Request struct {
	SubscriptionID string
	OwnerID        string
	CorrelationID  string
	EventType      string
	TargetURL      string
	Secret         string
	Payload        json.RawMessage

	MaxAttempts    int
	InitialBackoff time.Duration
	AttemptTimeout time.Duration
}

func (r *Request) applyDefaults() {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = DefaultMaxAttempts
	}
	if r.InitialBackoff <= 0 {
		r.InitialBackoff = DefaultInitialBackoff
	}
	if r.AttemptTimeout <= 0 {
		r.AttemptTimeout = DefaultAttemptTimeout
	}
}

func (r *Request) validate() error {
	if r.TargetURL == "" {
		return &ConfigError{Field: "endpoint_url", Reason: "is empty"}
	}
	u, err := url.Parse(r.TargetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConfigError{Field: "endpoint_url", Reason: "is not a valid http(s) URL"}
	}
	if r.Secret == "" {
		return &ConfigError{Field: "secret", Reason: "is empty"}
	}
	return nil
}

// Result is the terminal outcome of one delivery sequence.
type Result struct {
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
	Attempts       int    `json:"attempts"`
	StatusCode     *int   `json:"status_code,omitempty"`
	Error          string `json:"error,omitempty"`
	RecordID       string `json:"record_id,omitempty"`
}

// Deliverer executes the attempt loop for a single (recipient, event)
// tuple: sign, send, classify, back off, retry.
type Deliverer struct {
	httpClient *http.Client
	ledger     *ledger.Ledger
	logger     *slog.Logger
}

// NewDeliverer creates a deliverer. The HTTP client carries no global
// timeout; each attempt is bounded by its own context deadline.
func NewDeliverer(led *ledger.Ledger, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		httpClient: &http.Client{},
		ledger:     led,
		logger:     logger,
	}
}

// Deliver runs the attempt loop until a 2xx response, a permanent
// rejection, an exhausted attempt budget, or cancellation. A non-nil error
// is returned only for configuration problems detected before the first
// network call; every network-level outcome is reported in the Result.
//
// Ledger bookkeeping is best-effort throughout: a pending row is opened
// before the first attempt and finalized exactly once when the loop ends.
func (d *Deliverer) Deliver(ctx context.Context, req Request) (res Result, err error) {
	req.applyDefaults()
	if err := req.validate(); err != nil {
		return Result{}, err
	}

	// Terminal bookkeeping must survive shutdown: the delivery context can be
	// canceled while the final ledger write is still owed.
	finCtx := context.WithoutCancel(ctx)

	body, err := json.Marshal(domain.Envelope{
		Event:         req.EventType,
		Timestamp:     time.Now().UnixMilli(),
		CorrelationID: req.CorrelationID,
		Data:          req.Payload,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encoding envelope: %w", err)
	}

	recordID := d.ledger.Begin(finCtx, ledger.BeginParams{
		SubscriptionID: req.SubscriptionID,
		OwnerID:        req.OwnerID,
		CorrelationID:  req.CorrelationID,
		EventType:      req.EventType,
		TargetURL:      req.TargetURL,
	})

	var (
		attempts int
		lastCode *int
		lastErr  string
	)

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("delivery panicked: %v", r)
			d.ledger.Complete(finCtx, recordID, ledger.Outcome{
				Status:       domain.DeliveryStatusFailed,
				AttemptsMade: attempts,
				Error:        msg,
			})
			metrics.DeliveriesTotal.WithLabelValues(ResultFailed).Inc()
			d.logger.Error("delivery panicked",
				"subscription_id", req.SubscriptionID,
				"correlation_id", req.CorrelationID,
				"panic", fmt.Sprint(r),
			)
			res = Result{
				SubscriptionID: req.SubscriptionID,
				Status:         ResultFailed,
				Attempts:       attempts,
				Error:          msg,
				RecordID:       recordID,
			}
			err = nil
		}
	}()

	for attempt := 1; attempt <= req.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			// Shutting down: an attempt already in flight is allowed to
			// finish, but we do not enter a new one.
			lastErr = fmt.Sprintf("delivery canceled: %v", ctx.Err())
			break
		}

		attempts = attempt
		metrics.AttemptsTotal.Inc()

		code, elapsed, attemptErr := d.attempt(ctx, &req, body)
		if attemptErr == nil && code >= 200 && code < 300 {
			ms := int(elapsed.Milliseconds())
			d.ledger.Complete(finCtx, recordID, ledger.Outcome{
				Status:         domain.DeliveryStatusSuccess,
				AttemptsMade:   attempt,
				ResponseCode:   &code,
				ResponseTimeMs: &ms,
			})
			metrics.DeliveriesTotal.WithLabelValues(ResultSuccess).Inc()
			d.logger.Info("delivery successful",
				"subscription_id", req.SubscriptionID,
				"correlation_id", req.CorrelationID,
				"event_type", req.EventType,
				"attempt", attempt,
				"status_code", code,
				"response_time_ms", ms,
			)
			c := code
			return Result{
				SubscriptionID: req.SubscriptionID,
				Status:         ResultSuccess,
				Attempts:       attempt,
				StatusCode:     &c,
				RecordID:       recordID,
			}, nil
		}

		if attemptErr != nil {
			lastCode = nil
			lastErr = attemptErr.Error()
		} else {
			c := code
			lastCode = &c
			lastErr = fmt.Sprintf("endpoint returned %d", code)
			if !retryableStatus(code) {
				// Permanent rejection: remaining attempts are not consumed.
				break
			}
		}

		d.logger.Warn("delivery attempt failed",
			"subscription_id", req.SubscriptionID,
			"correlation_id", req.CorrelationID,
			"attempt", attempt,
			"max_attempts", req.MaxAttempts,
			"error", lastErr,
		)

		if attempt == req.MaxAttempts {
			break
		}
		if !sleepCtx(ctx, backoffDelay(req.InitialBackoff, attempt)) {
			lastErr = fmt.Sprintf("delivery canceled: %v", ctx.Err())
			break
		}
	}

	d.ledger.Complete(finCtx, recordID, ledger.Outcome{
		Status:       domain.DeliveryStatusFailed,
		AttemptsMade: attempts,
		ResponseCode: lastCode,
		Error:        lastErr,
	})
	metrics.DeliveriesTotal.WithLabelValues(ResultFailed).Inc()
	d.logger.Warn("delivery failed",
		"subscription_id", req.SubscriptionID,
		"correlation_id", req.CorrelationID,
		"event_type", req.EventType,
		"attempts", attempts,
		"error", lastErr,
	)

	return Result{
		SubscriptionID: req.SubscriptionID,
		Status:         ResultFailed,
		Attempts:       attempts,
		StatusCode:     lastCode,
		Error:          lastErr,
		RecordID:       recordID,
	}, nil
}

// attempt issues one signed HTTP POST bounded by the per-attempt timeout.
// A deadline hit is reported with explicit "timed out" wording so it can be
// told apart from other connection failures in the ledger.
func (d *Deliverer) attempt(ctx context.Context, req *Request, body []byte) (int, time.Duration, error) {
	// The timeout is the only bound on the attempt itself. Detaching from the
	// parent keeps shutdown from aborting a request already on the wire; the
	// loop checks the parent context before each new attempt and each sleep.
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), req.AttemptTimeout)
	defer cancel()

	// Fresh timestamp and signature per attempt, so retries of an old
	// delivery are not themselves replayable.
	ts := signature.Timestamp(time.Now())
	sig := signature.Sign(body, req.Secret, ts)

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, req.TargetURL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Signature", signature.EncodeHeader(sig))
	httpReq.Header.Set("X-Timestamp", ts)
	httpReq.Header.Set("X-Event", req.EventType)

	start := time.Now()
	resp, err := d.httpClient.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return 0, elapsed, fmt.Errorf("timed out after %s", req.AttemptTimeout)
		}
		return 0, elapsed, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain a bounded amount so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	return resp.StatusCode, elapsed, nil
}

// backoffDelay returns the sleep before attempt k+1: initial * 2^(k-1),
// so 1s, 2s, 4s for the defaults.
func backoffDelay(initial time.Duration, attempt int) time.Duration {
	return initial << (attempt - 1)
}

// sleepCtx sleeps for d or until ctx is canceled, reporting whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
