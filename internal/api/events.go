package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/taskhive/hookbridge/internal/queue"
	"github.com/taskhive/hookbridge/internal/store"
)

type EventHandler struct {
	store store.Events
	queue *queue.Queue
}

func NewEventHandler(s store.Events, q *queue.Queue) *EventHandler {
	return &EventHandler{store: s, queue: q}
}

type createEventRequest struct {
	EventType     string          `json:"event_type"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
	Source        string          `json:"source,omitempty"`
}

type createEventResponse struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Queued    bool   `json:"queued"`
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.EventType == "" {
		respondError(w, http.StatusBadRequest, "event_type is required")
		return
	}
	if req.CorrelationID == "" {
		respondError(w, http.StatusBadRequest, "correlation_id is required")
		return
	}
	if len(req.Payload) == 0 {
		respondError(w, http.StatusBadRequest, "payload is required")
		return
	}
	if !json.Valid(req.Payload) {
		respondError(w, http.StatusBadRequest, "payload must be valid JSON")
		return
	}

	event, err := h.store.CreateEvent(r.Context(), req.EventType, req.CorrelationID, req.Payload, req.Source)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create event")
		return
	}

	// Event is saved either way; a failed enqueue can be replayed later.
	queued := true
	if err := h.queue.Enqueue(r.Context(), event); err != nil {
		queued = false
	}

	respondJSON(w, http.StatusAccepted, createEventResponse{
		EventID:   event.ID,
		EventType: event.EventType,
		Queued:    queued,
	})
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	eventType := r.URL.Query().Get("event_type")
	limit := queryLimit(r, 50)

	events, err := h.store.ListEvents(r.Context(), eventType, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	respondJSON(w, http.StatusOK, events)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	event, err := h.store.GetEvent(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	if event == nil {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}

	respondJSON(w, http.StatusOK, event)
}

// maxQueryLimit caps list page sizes so a large ?limit cannot drag an
// unbounded result set out of the store.
const maxQueryLimit = 500

func queryLimit(r *http.Request, fallback int) int {
	limit := fallback
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	return limit
}
