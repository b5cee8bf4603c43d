package domain

import "time"

// Delivery record statuses. A record is created pending and moves exactly
// once to success or failed when the attempt loop ends.
const (
	DeliveryStatusPending = "pending"
	DeliveryStatusSuccess = "success"
	DeliveryStatusFailed  = "failed"
)

// DeliveryRecord is one row per delivery sequence: a single invocation of
// the delivery engine, spanning however many HTTP attempts it made.
type DeliveryRecord struct {
	ID                 string    `json:"id"`
	SubscriptionID     string    `json:"subscription_id"`
	OwnerID            string    `json:"owner_id"`
	CorrelationID      string    `json:"correlation_id"`
	EventType          string    `json:"event_type"`
	TargetURL          string    `json:"target_url"`
	Status             string    `json:"status"`
	AttemptsMade       int       `json:"attempts_made"`
	LastResponseCode   *int      `json:"last_response_code,omitempty"`
	LastResponseTimeMs *int      `json:"last_response_time_ms,omitempty"`
	LastError          *string   `json:"last_error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// DeliveryStats aggregates records for an owner's reporting views.
type DeliveryStats struct {
	Total             int      `json:"total"`
	Successful        int      `json:"successful"`
	Failed            int      `json:"failed"`
	AvgResponseTimeMs *float64 `json:"avg_response_time_ms,omitempty"`
}
