package domain

import (
	"slices"
	"time"
)

// DefaultMaxConsecutiveFailures is applied when a subscription is created
// without an explicit threshold.
const DefaultMaxConsecutiveFailures = 3

// Subscription is one owner's webhook endpoint registration. The endpoint
// URL and secret arrive here already decrypted; secret-at-rest handling
// belongs to the settings subsystem.
type Subscription struct {
	ID                     string     `json:"id"`
	OwnerID                string     `json:"owner_id"`
	EndpointURL            string     `json:"endpoint_url"`
	Secret                 string     `json:"secret,omitempty"`
	Enabled                bool       `json:"enabled"`
	Events                 []string   `json:"events"`
	ConsecutiveFailures    int        `json:"consecutive_failures"`
	MaxConsecutiveFailures int        `json:"max_consecutive_failures"`
	LastAttemptedAt        *time.Time `json:"last_attempted_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// SubscribesTo reports whether the subscription wants this event type.
func (s *Subscription) SubscribesTo(eventType string) bool {
	return slices.Contains(s.Events, eventType)
}

// Tripped reports whether the failure circuit is open. A tripped
// subscription stays ineligible until an operator resets it.
func (s *Subscription) Tripped() bool {
	return s.ConsecutiveFailures >= s.MaxConsecutiveFailures
}

type CreateSubscriptionRequest struct {
	OwnerID                string   `json:"owner_id"`
	EndpointURL            string   `json:"endpoint_url"`
	Events                 []string `json:"events"`
	MaxConsecutiveFailures int      `json:"max_consecutive_failures,omitempty"`
}

type UpdateSubscriptionRequest struct {
	EndpointURL            *string  `json:"endpoint_url,omitempty"`
	Enabled                *bool    `json:"enabled,omitempty"`
	Events                 []string `json:"events,omitempty"`
	MaxConsecutiveFailures *int     `json:"max_consecutive_failures,omitempty"`
}

type CreateSubscriptionResponse struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Secret  string `json:"secret"`
}
