// Package inbound is the receiving side of the webhook exchange: remote
// workers push session lifecycle callbacks that must prove possession of
// the owner's shared secret before the platform acts on their contents.
package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/taskhive/hookbridge/internal/domain"
	"github.com/taskhive/hookbridge/internal/metrics"
	"github.com/taskhive/hookbridge/internal/signature"
)

// Internal rejection reasons. These are logged and counted but never sent
// to the remote party; the wire response is uniform so a probing sender
// cannot distinguish a wrong secret from a stale timestamp.
const (
	ReasonMalformedPayload   = "malformed_payload"
	ReasonUnknownCorrelation = "unknown_correlation"
	ReasonBadSignature       = "bad_signature"
	ReasonTimestampExpired   = "timestamp_expired"
)

// Rejection is returned when a callback fails verification.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return "callback rejected: " + r.Reason
}

// SecretLookup resolves the shared secret expected for a correlation id.
// Backed by the subscription store in production.
type SecretLookup func(ctx context.Context, correlationID string) (string, error)

// Callback is a verified inbound payload.
type Callback struct {
	Envelope domain.Envelope
	// Known reports whether this version recognizes the event type.
	// Unknown types are accepted and ignored for forward compatibility.
	Known bool
}

// Verifier validates inbound callbacks before anything trusts them.
type Verifier struct {
	lookup SecretLookup
	window time.Duration
	logger *slog.Logger
}

// NewVerifier creates a verifier. A non-positive window falls back to the
// codec's default freshness window.
func NewVerifier(lookup SecretLookup, window time.Duration, logger *slog.Logger) *Verifier {
	return &Verifier{lookup: lookup, window: window, logger: logger}
}

// AcceptCallback verifies the presented X-Signature header value and
// timestamp against the raw body. The correlation id is read from the
// still-untrusted payload only to resolve which secret to verify with;
// nothing else is trusted until Verify passes. On failure the returned
// error is a *Rejection whose reason is for internal logging only.
func (v *Verifier) AcceptCallback(ctx context.Context, raw []byte, presentedSig, presentedTS string) (*Callback, error) {
	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.CorrelationID == "" || env.Event == "" {
		return nil, v.reject(ReasonMalformedPayload, env.CorrelationID)
	}

	sig, ok := signature.ParseHeader(presentedSig)
	if !ok {
		return nil, v.reject(ReasonBadSignature, env.CorrelationID)
	}

	secret, err := v.lookup(ctx, env.CorrelationID)
	if err != nil || secret == "" {
		return nil, v.reject(ReasonUnknownCorrelation, env.CorrelationID)
	}

	if err := signature.Verify(raw, sig, secret, presentedTS, v.window); err != nil {
		reason := ReasonBadSignature
		if errors.Is(err, signature.ErrTimestampExpired) {
			reason = ReasonTimestampExpired
		}
		return nil, v.reject(reason, env.CorrelationID)
	}

	return &Callback{
		Envelope: env,
		Known:    KnownSessionEvent(env.Event),
	}, nil
}

func (v *Verifier) reject(reason, correlationID string) error {
	metrics.CallbackRejections.WithLabelValues(reason).Inc()
	v.logger.Warn("inbound callback rejected",
		"reason", reason,
		"correlation_id", correlationID,
	)
	return &Rejection{Reason: reason}
}

// KnownSessionEvent reports whether the event type is part of the session
// lifecycle this version handles.
func KnownSessionEvent(eventType string) bool {
	switch eventType {
	case domain.EventSessionStarted,
		domain.EventSessionProgress,
		domain.EventSessionWaitingInput,
		domain.EventSessionCompleted,
		domain.EventSessionError:
		return true
	}
	return false
}
