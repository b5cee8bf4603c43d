package domain

import (
	"encoding/json"
	"time"
)

// Outbound task lifecycle events pushed to subscriber endpoints.
const (
	EventTaskCreated    = "task.created"
	EventTaskAssigned   = "task.assigned"
	EventTaskCompleted  = "task.completed"
	EventCommentCreated = "comment.created"
)

// Inbound session lifecycle events accepted on the callback endpoint.
// Unrecognized types are accepted and ignored so newer workers can send
// event types this version does not know about.
const (
	EventSessionStarted      = "session.started"
	EventSessionProgress     = "session.progress"
	EventSessionWaitingInput = "session.waiting_input"
	EventSessionCompleted    = "session.completed"
	EventSessionError        = "session.error"
)

// Event is an internal platform event headed for fan-out.
type Event struct {
	ID            string          `json:"id"`
	EventType     string          `json:"event_type"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
	Source        string          `json:"source,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Envelope is the JSON body carried on both wire legs. Field names are the
// wire contract, shared with external receivers; they do not follow the
// snake_case used by persisted types.
type Envelope struct {
	Event         string          `json:"event"`
	Timestamp     int64           `json:"timestamp"`
	CorrelationID string          `json:"correlationId"`
	Data          json.RawMessage `json:"data"`
}
