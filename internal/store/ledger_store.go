package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/taskhive/hookbridge/internal/domain"
	"github.com/taskhive/hookbridge/internal/ledger"
)

// PostgresStore implements ledger.Repository.

func (s *PostgresStore) Begin(ctx context.Context, rec domain.DeliveryRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_records (id, subscription_id, owner_id, correlation_id, event_type, target_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.SubscriptionID, rec.OwnerID, rec.CorrelationID, rec.EventType, rec.TargetURL, rec.Status, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting delivery record: %w", err)
	}
	return nil
}

// Complete finalizes a pending record. The status guard in the WHERE clause
// makes the pending → terminal transition happen at most once.
func (s *PostgresStore) Complete(ctx context.Context, id string, out ledger.Outcome) error {
	var lastErr *string
	if out.Error != "" {
		lastErr = &out.Error
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE delivery_records
		SET status = $2, attempts_made = $3, last_response_code = $4,
		    last_response_time_ms = $5, last_error = $6, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, out.Status, out.AttemptsMade, out.ResponseCode, out.ResponseTimeMs, lastErr)
	if err != nil {
		return fmt.Errorf("finalizing delivery record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delivery record %s not found or already terminal", id)
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*domain.DeliveryRecord, error) {
	var rec domain.DeliveryRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, subscription_id, owner_id, correlation_id, event_type, target_url, status, attempts_made,
		       last_response_code, last_response_time_ms, last_error, created_at, updated_at
		FROM delivery_records WHERE id = $1
	`, id).Scan(
		&rec.ID, &rec.SubscriptionID, &rec.OwnerID, &rec.CorrelationID, &rec.EventType, &rec.TargetURL,
		&rec.Status, &rec.AttemptsMade, &rec.LastResponseCode, &rec.LastResponseTimeMs,
		&rec.LastError, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying delivery record: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, ownerID string, limit int) ([]domain.DeliveryRecord, error) {
	query := `
		SELECT id, subscription_id, owner_id, correlation_id, event_type, target_url, status, attempts_made,
		       last_response_code, last_response_time_ms, last_error, created_at, updated_at
		FROM delivery_records`
	args := []interface{}{}
	if ownerID != "" {
		query += ` WHERE owner_id = $1`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying delivery records: %w", err)
	}
	defer rows.Close()

	records := []domain.DeliveryRecord{}
	for rows.Next() {
		var rec domain.DeliveryRecord
		err := rows.Scan(
			&rec.ID, &rec.SubscriptionID, &rec.OwnerID, &rec.CorrelationID, &rec.EventType, &rec.TargetURL,
			&rec.Status, &rec.AttemptsMade, &rec.LastResponseCode, &rec.LastResponseTimeMs,
			&rec.LastError, &rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context, ownerID string, since time.Time) (domain.DeliveryStats, error) {
	var (
		stats domain.DeliveryStats
		avg   *float64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'success') AS successful,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			AVG(last_response_time_ms) FILTER (WHERE last_response_time_ms IS NOT NULL) AS avg_response_ms
		FROM delivery_records
		WHERE ($1 = '' OR owner_id = $1) AND created_at >= $2
	`, ownerID, since).Scan(&stats.Total, &stats.Successful, &stats.Failed, &avg)
	if err != nil {
		return domain.DeliveryStats{}, fmt.Errorf("querying delivery stats: %w", err)
	}
	stats.AvgResponseTimeMs = avg
	return stats, nil
}
