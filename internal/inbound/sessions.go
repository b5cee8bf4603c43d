package inbound

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/taskhive/hookbridge/internal/domain"
)

// Session tracks one remote worker session reported through callbacks.
type Session struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	Status        string    `json:"status"`
	LastEventAt   time.Time `json:"last_event_at"`
}

// sessionData is the data block session lifecycle callbacks carry.
type sessionData struct {
	SessionID string `json:"session_id"`
}

// SessionRegistry is the process-scoped registry of live worker sessions.
// Entries are inserted on session.started and evicted on
// session.completed/session.error; it is constructed once and injected
// wherever session state is read, never reached through a package global.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

func NewSessionRegistry(logger *slog.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Apply folds a verified callback into the registry. Callbacks with event
// types the registry does not track are ignored.
func (r *SessionRegistry) Apply(cb *Callback) {
	if !cb.Known {
		return
	}

	var data sessionData
	if err := json.Unmarshal(cb.Envelope.Data, &data); err != nil || data.SessionID == "" {
		r.logger.Warn("session callback without session_id",
			"event", cb.Envelope.Event,
			"correlation_id", cb.Envelope.CorrelationID,
		)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch cb.Envelope.Event {
	case domain.EventSessionStarted:
		r.sessions[data.SessionID] = &Session{
			ID:            data.SessionID,
			CorrelationID: cb.Envelope.CorrelationID,
			Status:        cb.Envelope.Event,
			LastEventAt:   time.Now(),
		}

	case domain.EventSessionCompleted, domain.EventSessionError:
		delete(r.sessions, data.SessionID)

	default: // progress, waiting_input
		if s, ok := r.sessions[data.SessionID]; ok {
			s.Status = cb.Envelope.Event
			s.LastEventAt = time.Now()
		}
	}
}

// Get returns a snapshot of one session.
func (r *SessionRegistry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Active returns snapshots of all live sessions.
func (r *SessionRegistry) Active() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}
