package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/taskhive/hookbridge/internal/domain"
)

// Subscriptions is the configuration repository for webhook recipients.
// The gate's counter mutations and the fan-out's recipient lookup both go
// through it; PostgresStore and MemorySubscriptions implement it.
type Subscriptions interface {
	Create(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error)
	Get(ctx context.Context, id string) (*domain.Subscription, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Subscription, error)
	Update(ctx context.Context, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error)
	// ListForEvent returns every subscription whose event set contains
	// eventType, regardless of eligibility; the gate decides eligibility.
	ListForEvent(ctx context.Context, eventType string) ([]domain.Subscription, error)
	RecordSuccess(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string) (int, error)
}

const subscriptionColumns = `id, owner_id, endpoint_url, secret, enabled, events,
	consecutive_failures, max_consecutive_failures, last_attempted_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID, &sub.OwnerID, &sub.EndpointURL, &sub.Secret, &sub.Enabled, &sub.Events,
		&sub.ConsecutiveFailures, &sub.MaxConsecutiveFailures, &sub.LastAttemptedAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *PostgresStore) Create(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generating secret: %w", err)
	}

	maxFailures := req.MaxConsecutiveFailures
	if maxFailures <= 0 {
		maxFailures = domain.DefaultMaxConsecutiveFailures
	}

	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (owner_id, endpoint_url, secret, events, max_consecutive_failures)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+subscriptionColumns,
		req.OwnerID, req.EndpointURL, secret, req.Events, maxFailures,
	))
	if err != nil {
		return nil, fmt.Errorf("inserting subscription: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

func (s *PostgresStore) ListForEvent(ctx context.Context, eventType string) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE $1 = ANY(events) ORDER BY created_at`,
		eventType)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions for event: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

func collectSubscriptions(rows pgx.Rows) ([]domain.Subscription, error) {
	subs := []domain.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	setClauses := []string{}
	args := []interface{}{}
	argIdx := 1

	if req.EndpointURL != nil {
		setClauses = append(setClauses, fmt.Sprintf("endpoint_url = $%d", argIdx))
		args = append(args, *req.EndpointURL)
		argIdx++
	}
	if req.Enabled != nil {
		setClauses = append(setClauses, fmt.Sprintf("enabled = $%d", argIdx))
		args = append(args, *req.Enabled)
		argIdx++
		// Re-enabling is the operator's reset: the breaker does not recover
		// on its own.
		if *req.Enabled {
			setClauses = append(setClauses, "consecutive_failures = 0")
		}
	}
	if req.Events != nil {
		setClauses = append(setClauses, fmt.Sprintf("events = $%d", argIdx))
		args = append(args, req.Events)
		argIdx++
	}
	if req.MaxConsecutiveFailures != nil {
		setClauses = append(setClauses, fmt.Sprintf("max_consecutive_failures = $%d", argIdx))
		args = append(args, *req.MaxConsecutiveFailures)
		argIdx++
	}

	if len(setClauses) == 0 {
		return s.Get(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf(`UPDATE subscriptions SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(setClauses, ", "), argIdx, subscriptionColumns)
	args = append(args, id)

	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("updating subscription: %w", err)
	}
	return sub, nil
}

// RecordSuccess resets the failure counter. The single UPDATE keeps the
// reset atomic against concurrent increments.
func (s *PostgresStore) RecordSuccess(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET consecutive_failures = 0, last_attempted_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("resetting failure counter: %w", err)
	}
	return nil
}

// RecordFailure increments the failure counter in the database, never
// read-modify-write in the process, so concurrent completions cannot
// under-count.
func (s *PostgresStore) RecordFailure(ctx context.Context, id string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		UPDATE subscriptions
		SET consecutive_failures = consecutive_failures + 1, last_attempted_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING consecutive_failures
	`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing failure counter: %w", err)
	}
	return count, nil
}

// SecretForCorrelation resolves the shared secret expected on an inbound
// callback: the correlating task fanned out through the ledger, and each
// record names the exact subscription it was delivered under. Joining on the
// subscription id keeps owners with several differently-keyed endpoints
// unambiguous.
func (s *PostgresStore) SecretForCorrelation(ctx context.Context, correlationID string) (string, error) {
	var secret string
	err := s.pool.QueryRow(ctx, `
		SELECT sub.secret
		FROM delivery_records d
		JOIN subscriptions sub ON sub.id::text = d.subscription_id
		WHERE d.correlation_id = $1
		ORDER BY d.created_at DESC
		LIMIT 1
	`, correlationID).Scan(&secret)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", fmt.Errorf("no subscription correlates to %s", correlationID)
		}
		return "", fmt.Errorf("resolving callback secret: %w", err)
	}
	return secret, nil
}

// GenerateSecret produces a new shared secret for a subscription.
func GenerateSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "whbr_" + hex.EncodeToString(bytes), nil
}
