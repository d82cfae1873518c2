package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xblabs/WhisperDog-sub003/internal/events"
	"github.com/xblabs/WhisperDog-sub003/internal/history"
	"github.com/xblabs/WhisperDog-sub003/internal/session"
	"github.com/xblabs/WhisperDog-sub003/internal/transcribe"
)

// Handlers bundle the API's collaborators.
type Handlers struct {
	manager   *session.Manager
	store     *history.Store
	bus       *events.Bus
	version   string
	startTime time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(manager *session.Manager, store *history.Store, bus *events.Bus, version string, startTime time.Time) *Handlers {
	return &Handlers{manager: manager, store: store, bus: bus, version: version, startTime: startTime}
}

// Health reports liveness, version, and uptime.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	})
}

// Status returns the live session snapshot.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Status())
}

// StartRecording arms a new recording.
func (h *Handlers) StartRecording(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.StartRecording(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recording"})
}

// StopRecording ends capture and begins processing.
func (h *Handlers) StopRecording(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.StopRecording(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing"})
}

// Cancel aborts the in-flight chain.
func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Cancel(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// Resume answers an awaiting_user_action pause with retry or accept.
func (h *Handlers) Resume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Decision string `json:"decision"` // "retry" | "accept_empty"
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var d transcribe.Decision
	switch body.Decision {
	case "retry":
		d = transcribe.DecisionRetry
	case "accept_empty":
		d = transcribe.DecisionAcceptEmpty
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown decision %q", body.Decision))
		return
	}
	if err := h.manager.Resume(d); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resumed"})
}

// ListSessions returns recent sessions, newest first.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := h.store.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

// GetSession returns one session with its full labeled transcript.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	sess, err := h.store.Get(uint(id))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	transcript, err := sess.Transcript()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "decode transcript")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess, "transcript": transcript})
}

// Events streams pipeline progress over SSE, replaying missed events
// when the client reconnects with Last-Event-ID.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.bus.Subscribe()
	defer cancel()

	for _, e := range h.bus.ReplaySince(r.Header.Get("Last-Event-ID")) {
		writeSSE(w, e)
	}
	flusher.Flush()

	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, e)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, e events.Event) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
}
