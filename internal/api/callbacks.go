package api

import (
	"io"
	"net/http"

	"github.com/taskhive/hookbridge/internal/inbound"
)

// maxCallbackBody bounds inbound callback payloads at 1 MiB.
const maxCallbackBody = 1 << 20

type CallbackHandler struct {
	verifier *inbound.Verifier
	sessions *inbound.SessionRegistry
}

func NewCallbackHandler(verifier *inbound.Verifier, sessions *inbound.SessionRegistry) *CallbackHandler {
	return &CallbackHandler{verifier: verifier, sessions: sessions}
}

// Receive verifies one inbound callback. Every rejection gets the same
// response, so a probing caller cannot distinguish a bad signature from an
// unknown correlation id. The detailed reason goes to the logs and metrics.
func (h *CallbackHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "callback rejected")
		return
	}

	cb, err := h.verifier.AcceptCallback(r.Context(),
		body,
		r.Header.Get("X-Signature"),
		r.Header.Get("X-Timestamp"),
	)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "callback rejected")
		return
	}

	h.sessions.Apply(cb)

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Sessions lists agent sessions currently tracked as active.
func (h *CallbackHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.sessions.Active())
}
