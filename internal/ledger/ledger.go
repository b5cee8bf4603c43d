// Package ledger records one audit row per delivery sequence and serves the
// owner-facing reporting views. Writes are best-effort: a broken audit
// store must never abort a delivery that would otherwise succeed or fail
// cleanly, so write errors are logged, counted, and swallowed.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskhive/hookbridge/internal/domain"
	"github.com/taskhive/hookbridge/internal/metrics"
)

// BeginParams identifies the delivery sequence being opened.
type BeginParams struct {
	SubscriptionID string
	OwnerID        string
	CorrelationID  string
	EventType      string
	TargetURL      string
}

// Outcome closes a delivery sequence. Status is success or failed.
type Outcome struct {
	Status         string
	AttemptsMade   int
	ResponseCode   *int
	ResponseTimeMs *int
	Error          string
}

// Repository is the persistence collaborator behind the ledger. The pgx
// implementation lives in internal/store; MemoryRepository and
// NopRepository cover tests and environments without a database.
type Repository interface {
	Begin(ctx context.Context, rec domain.DeliveryRecord) error
	Complete(ctx context.Context, id string, out Outcome) error
	GetRecord(ctx context.Context, id string) (*domain.DeliveryRecord, error)
	ListRecent(ctx context.Context, ownerID string, limit int) ([]domain.DeliveryRecord, error)
	Stats(ctx context.Context, ownerID string, since time.Time) (domain.DeliveryStats, error)
}

// Ledger wraps a Repository with the best-effort write contract.
type Ledger struct {
	repo   Repository
	logger *slog.Logger
}

func New(repo Repository, logger *slog.Logger) *Ledger {
	return &Ledger{repo: repo, logger: logger}
}

// Begin opens a pending record and returns its id. The id is generated here
// so callers always get one back, even when the underlying write fails.
func (l *Ledger) Begin(ctx context.Context, meta BeginParams) string {
	now := time.Now()
	rec := domain.DeliveryRecord{
		ID:             uuid.New().String(),
		SubscriptionID: meta.SubscriptionID,
		OwnerID:        meta.OwnerID,
		CorrelationID:  meta.CorrelationID,
		EventType:      meta.EventType,
		TargetURL:      meta.TargetURL,
		Status:         domain.DeliveryStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := l.repo.Begin(ctx, rec); err != nil {
		metrics.LedgerWriteFailures.Inc()
		l.logger.Error("failed to open ledger record",
			"error", err,
			"record_id", rec.ID,
			"owner_id", meta.OwnerID,
			"correlation_id", meta.CorrelationID,
		)
	}
	return rec.ID
}

// Complete transitions a record to its terminal status.
func (l *Ledger) Complete(ctx context.Context, id string, out Outcome) {
	if err := l.repo.Complete(ctx, id, out); err != nil {
		metrics.LedgerWriteFailures.Inc()
		l.logger.Error("failed to finalize ledger record",
			"error", err,
			"record_id", id,
			"status", out.Status,
		)
	}
}

// GetRecord returns one record, or nil when the id is unknown.
func (l *Ledger) GetRecord(ctx context.Context, id string) (*domain.DeliveryRecord, error) {
	return l.repo.GetRecord(ctx, id)
}

// ListRecent returns an owner's records, most recent first. Unlike writes,
// reads surface their errors: a reporting view with no data should say so.
func (l *Ledger) ListRecent(ctx context.Context, ownerID string, limit int) ([]domain.DeliveryRecord, error) {
	return l.repo.ListRecent(ctx, ownerID, limit)
}

// Stats aggregates an owner's records created at or after since.
func (l *Ledger) Stats(ctx context.Context, ownerID string, since time.Time) (domain.DeliveryStats, error) {
	return l.repo.Stats(ctx, ownerID, since)
}
