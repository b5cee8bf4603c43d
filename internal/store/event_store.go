package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/taskhive/hookbridge/internal/domain"
)

// Events is the persistence surface for ingested platform events.
type Events interface {
	CreateEvent(ctx context.Context, eventType, correlationID string, payload json.RawMessage, source string) (*domain.Event, error)
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	ListEvents(ctx context.Context, eventType string, limit int) ([]domain.Event, error)
}

// CreateEvent persists an ingested platform event before it is queued for
// fan-out, so a failed enqueue can be replayed later.
func (s *PostgresStore) CreateEvent(ctx context.Context, eventType, correlationID string, payload json.RawMessage, source string) (*domain.Event, error) {
	event := &domain.Event{
		ID:            uuid.New().String(),
		EventType:     eventType,
		CorrelationID: correlationID,
		Payload:       payload,
		Source:        source,
		CreatedAt:     time.Now(),
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO events (id, event_type, correlation_id, payload, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, event.EventType, event.CorrelationID, event.Payload, nullable(event.Source), event.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting event: %w", err)
	}
	return event, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	var (
		event  domain.Event
		source *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, event_type, correlation_id, payload, source, created_at
		FROM events WHERE id = $1
	`, id).Scan(&event.ID, &event.EventType, &event.CorrelationID, &event.Payload, &source, &event.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying event: %w", err)
	}
	if source != nil {
		event.Source = *source
	}
	return &event, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, eventType string, limit int) ([]domain.Event, error) {
	query := `SELECT id, event_type, correlation_id, payload, source, created_at FROM events`
	args := []interface{}{}
	if eventType != "" {
		query += ` WHERE event_type = $1`
		args = append(args, eventType)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var (
			event  domain.Event
			source *string
		)
		if err := rows.Scan(&event.ID, &event.EventType, &event.CorrelationID, &event.Payload, &source, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if source != nil {
			event.Source = *source
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
