package playback

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"formation-stage/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// Handler exposes session HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes mounts the session endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.CreateSession)
	r.Route("/sessions/{session_id}", func(r chi.Router) {
		r.Get("/", h.GetFrame)
		r.Delete("/", h.EndSession)
		r.Get("/resolve", h.Resolve)
		r.Post("/query", h.Query)
		r.Post("/seek", h.Seek)
		r.Post("/advance", h.Advance)
		r.Post("/events", h.Dispatch)
	})
}

// CreateSession handles POST /sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	f := h.svc.CreateSession()
	h.log.Info("session created", slog.String("session_id", string(f.SessionID)))
	writeJSON(w, http.StatusCreated, f)
}

// GetFrame handles GET /sessions/{session_id}.
func (h *Handler) GetFrame(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.Frame(sessionID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// EndSession handles DELETE /sessions/{session_id}.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	h.svc.EndSession(id)
	h.log.Info("session ended", slog.String("session_id", string(id)))
	w.WriteHeader(http.StatusNoContent)
}

// Resolve handles GET /sessions/{session_id}/resolve?t=12.5.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	t, err := strconv.ParseFloat(r.URL.Query().Get("t"), 64)
	if err != nil || math.IsNaN(t) || math.IsInf(t, 0) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f, err := h.svc.ResolveAt(sessionID(r), t)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"time":       t,
		"formation":  f,
		"placements": Placements(f, h.svc.Stage()),
	})
}

// Query handles POST /sessions/{session_id}/query.
// Body: { "query": "twice fancy", "num_dancers": 4 }.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)

	var q Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		h.log.Debug("invalid query body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := q.Validate(); err != nil {
		h.writeError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.IncQueries()
	}
	f, err := h.svc.Query(r.Context(), id, q)
	if err != nil {
		if h.metrics != nil {
			if errors.Is(err, ErrStaleResponse) {
				h.metrics.IncStaleResponses()
			} else {
				h.metrics.IncQueryFailures()
			}
		}
		h.writeError(w, err)
		return
	}

	h.log.Info("sequence loaded",
		slog.String("session_id", string(id)),
		slog.String("query", q.Query),
		slog.Int("num_dancers", q.NumDancers),
		slog.Uint64("generation", f.Generation))
	writeJSON(w, http.StatusOK, f)
}

// Seek handles POST /sessions/{session_id}/seek.
// Body: { "time": 42.0 }.
func (h *Handler) Seek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Time *float64 `json:"time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Time == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f, err := h.svc.Seek(sessionID(r), *body.Time)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// Advance handles POST /sessions/{session_id}/advance.
// Body: { "delta": -5 }.
func (h *Handler) Advance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Delta *float64 `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Delta == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f, err := h.svc.Advance(sessionID(r), *body.Delta)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// Dispatch handles POST /sessions/{session_id}/events.
// Body: { "kind": "key", "key": "ArrowRight" }.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var e Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		h.log.Debug("invalid event body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f, err := h.svc.Dispatch(sessionID(r), e)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.IncEvents(string(e.Kind))
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrTrackNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrUnknownEvent), errors.Is(err, ErrEmptyQuery), errors.Is(err, ErrInvalidDancers):
		status = http.StatusBadRequest
	case errors.Is(err, ErrStaleResponse):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	case errors.Is(err, ErrDataSource):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func sessionID(r *http.Request) SessionID {
	return SessionID(chi.URLParam(r, "session_id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
