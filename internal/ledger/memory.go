package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskhive/hookbridge/internal/domain"
)

// MemoryRepository keeps records in process memory. Used by tests and by
// deployments that run without an audit database.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]*domain.DeliveryRecord
	order   []string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]*domain.DeliveryRecord),
	}
}

func (m *MemoryRepository) Begin(_ context.Context, rec domain.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.ID]; exists {
		return fmt.Errorf("record %s already exists", rec.ID)
	}
	stored := rec
	m.records[rec.ID] = &stored
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *MemoryRepository) Complete(_ context.Context, id string, out Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("record %s not found", id)
	}
	if rec.Status != domain.DeliveryStatusPending {
		return fmt.Errorf("record %s already terminal (%s)", id, rec.Status)
	}

	rec.Status = out.Status
	rec.AttemptsMade = out.AttemptsMade
	rec.LastResponseCode = out.ResponseCode
	rec.LastResponseTimeMs = out.ResponseTimeMs
	if out.Error != "" {
		errCopy := out.Error
		rec.LastError = &errCopy
	}
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) ListRecent(_ context.Context, ownerID string, limit int) ([]domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := []domain.DeliveryRecord{}
	for i := len(m.order) - 1; i >= 0; i-- {
		rec := m.records[m.order[i]]
		if ownerID != "" && rec.OwnerID != ownerID {
			continue
		}
		records = append(records, *rec)
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}

func (m *MemoryRepository) Stats(_ context.Context, ownerID string, since time.Time) (domain.DeliveryStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats domain.DeliveryStats
	var totalMs, timed int
	for _, id := range m.order {
		rec := m.records[id]
		if ownerID != "" && rec.OwnerID != ownerID {
			continue
		}
		if rec.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		switch rec.Status {
		case domain.DeliveryStatusSuccess:
			stats.Successful++
		case domain.DeliveryStatusFailed:
			stats.Failed++
		}
		if rec.LastResponseTimeMs != nil {
			totalMs += *rec.LastResponseTimeMs
			timed++
		}
	}
	if timed > 0 {
		avg := float64(totalMs) / float64(timed)
		stats.AvgResponseTimeMs = &avg
	}
	return stats, nil
}

func (m *MemoryRepository) GetRecord(_ context.Context, id string) (*domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

// Get returns a copy of a record for test assertions.
func (m *MemoryRepository) Get(id string) (domain.DeliveryRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return domain.DeliveryRecord{}, false
	}
	return *rec, true
}

// NopRepository discards everything. Selected at construction time when the
// deployment has no audit store at all.
type NopRepository struct{}

func (NopRepository) Begin(context.Context, domain.DeliveryRecord) error { return nil }
func (NopRepository) Complete(context.Context, string, Outcome) error    { return nil }

func (NopRepository) GetRecord(context.Context, string) (*domain.DeliveryRecord, error) {
	return nil, nil
}

func (NopRepository) ListRecent(context.Context, string, int) ([]domain.DeliveryRecord, error) {
	return []domain.DeliveryRecord{}, nil
}

func (NopRepository) Stats(context.Context, string, time.Time) (domain.DeliveryStats, error) {
	return domain.DeliveryStats{}, nil
}
