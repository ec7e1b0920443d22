package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"formation-stage/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestHandler(t *testing.T, src DataSource) *Handler {
	t.Helper()
	svc := NewService(NewInMemoryRepository(), src, NewDispatcher(5), DefaultStage(), nil)
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewHandler(svc, log, nil)
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeFrame(t *testing.T, rec *httptest.ResponseRecorder) Frame {
	t.Helper()
	var f Frame
	if err := json.Unmarshal(rec.Body.Bytes(), &f); err != nil {
		t.Fatalf("decode frame: %v: %s", err, rec.Body.String())
	}
	return f
}

func createSession(t *testing.T, r http.Handler) SessionID {
	t.Helper()
	rec := do(t, r, http.MethodPost, "/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: expected 201, got %d", rec.Code)
	}
	return decodeFrame(t, rec).SessionID
}

func TestHandler_CreateSession_and_GetFrame(t *testing.T) {
	r := newTestRouter(newTestHandler(t, &fakeSource{}))
	id := createSession(t, r)
	if id == "" {
		t.Fatal("empty session id")
	}

	rec := do(t, r, http.MethodGet, "/sessions/"+string(id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	f := decodeFrame(t, rec)
	if f.Label != "00:00 / 00:00" || f.Camera != Perspective {
		t.Errorf("frame = %+v", f)
	}
}

func TestHandler_GetFrame_not_found(t *testing.T) {
	r := newTestRouter(newTestHandler(t, &fakeSource{}))
	rec := do(t, r, http.MethodGet, "/sessions/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_Query(t *testing.T) {
	src := &fakeSource{tracks: map[string]Track{
		"fancy": {Song: "Fancy", Artist: "TWICE", VideoURL: "/v/fancy.mp4", Positions: threeSamples()},
	}}
	r := newTestRouter(newTestHandler(t, src))
	id := createSession(t, r)

	rec := do(t, r, http.MethodPost, "/sessions/"+string(id)+"/query", map[string]any{"query": "fancy", "num_dancers": 4})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	f := decodeFrame(t, rec)
	if f.Song != "Fancy" || f.VideoURL != "/v/fancy.mp4" || f.Generation != 1 {
		t.Errorf("frame = %+v", f)
	}
}

func TestHandler_Query_errors(t *testing.T) {
	r := newTestRouter(newTestHandler(t, &fakeSource{}))
	id := createSession(t, r)
	path := "/sessions/" + string(id) + "/query"

	tests := []struct {
		name string
		body any
		want int
	}{
		{"bad_json", "not json", http.StatusBadRequest},
		{"empty_query", map[string]any{"query": "", "num_dancers": 2}, http.StatusBadRequest},
		{"no_dancers", map[string]any{"query": "x"}, http.StatusBadRequest},
		{"unknown_track", map[string]any{"query": "nope", "num_dancers": 2}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, r, http.MethodPost, path, tt.body); rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}

	if rec := do(t, r, http.MethodPost, "/sessions/missing/query", map[string]any{"query": "x", "num_dancers": 1}); rec.Code != http.StatusNotFound {
		t.Errorf("missing session: expected 404, got %d", rec.Code)
	}
}

func TestHandler_Query_data_source_failure(t *testing.T) {
	r := newTestRouter(newTestHandler(t, &fakeSource{err: ErrDataSource}))
	id := createSession(t, r)

	rec := do(t, r, http.MethodPost, "/sessions/"+string(id)+"/query", map[string]any{"query": "x", "num_dancers": 1})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}

func TestHandler_Query_canceled(t *testing.T) {
	for _, err := range []error{context.Canceled, context.DeadlineExceeded} {
		r := newTestRouter(newTestHandler(t, &fakeSource{err: err}))
		id := createSession(t, r)

		rec := do(t, r, http.MethodPost, "/sessions/"+string(id)+"/query", map[string]any{"query": "x", "num_dancers": 1})
		if rec.Code != http.StatusRequestTimeout {
			t.Errorf("%v: expected 408, got %d", err, rec.Code)
		}
	}
}

func TestHandler_Query_metrics(t *testing.T) {
	src := &fakeSource{tracks: map[string]Track{"fancy": {Positions: threeSamples()}}}
	m := metrics.New()
	svc := NewService(NewInMemoryRepository(), src, NewDispatcher(5), DefaultStage(), nil)
	r := newTestRouter(NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), m))
	path := "/sessions/" + string(createSession(t, r)) + "/query"

	_ = do(t, r, http.MethodPost, path, map[string]any{"query": "", "num_dancers": 2})
	_ = do(t, r, http.MethodPost, path, map[string]any{"query": "fancy"})
	_ = do(t, r, http.MethodPost, path, map[string]any{"query": "fancy", "num_dancers": 2})
	_ = do(t, r, http.MethodPost, path, map[string]any{"query": "nope", "num_dancers": 2})

	// Rejected bodies are neither queries nor data source failures.
	want := `
# HELP formation_queries_total Total number of formation queries sent to the data source
# TYPE formation_queries_total counter
formation_queries_total 2
# HELP formation_query_failures_total Total number of formation queries that failed
# TYPE formation_query_failures_total counter
formation_query_failures_total 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(want),
		"formation_queries_total", "formation_query_failures_total"); err != nil {
		t.Error(err)
	}
}

func TestHandler_Seek_and_Advance(t *testing.T) {
	r := newTestRouter(newTestHandler(t, &fakeSource{}))
	id := createSession(t, r)
	base := "/sessions/" + string(id)

	if rec := do(t, r, http.MethodPost, base+"/events", Event{Kind: EventMetadataLoaded, Duration: 60}); rec.Code != http.StatusOK {
		t.Fatalf("metadata_loaded: %d", rec.Code)
	}

	rec := do(t, r, http.MethodPost, base+"/seek", map[string]any{"time": 58})
	if rec.Code != http.StatusOK || decodeFrame(t, rec).Time != 58 {
		t.Fatalf("seek: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, r, http.MethodPost, base+"/advance", map[string]any{"delta": 5})
	if got := decodeFrame(t, rec).Time; got != 60 {
		t.Errorf("advance past end: time = %v, want 60", got)
	}

	rec = do(t, r, http.MethodPost, base+"/seek", map[string]any{"time": -5})
	if got := decodeFrame(t, rec).Time; got != 0 {
		t.Errorf("seek before start: time = %v, want 0", got)
	}

	if rec := do(t, r, http.MethodPost, base+"/seek", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Errorf("seek without time: expected 400, got %d", rec.Code)
	}
	if rec := do(t, r, http.MethodPost, base+"/advance", "nope"); rec.Code != http.StatusBadRequest {
		t.Errorf("advance with bad body: expected 400, got %d", rec.Code)
	}
}

func TestHandler_Dispatch(t *testing.T) {
	r := newTestRouter(newTestHandler(t, &fakeSource{}))
	id := createSession(t, r)
	path := "/sessions/" + string(id) + "/events"

	_ = do(t, r, http.MethodPost, path, Event{Kind: EventMetadataLoaded, Duration: 100})

	rec := do(t, r, http.MethodPost, path, Event{Kind: EventScrubClick, Fraction: 0.5})
	if got := decodeFrame(t, rec).Time; got != 50 {
		t.Errorf("scrub_click: time = %v, want 50", got)
	}

	rec = do(t, r, http.MethodPost, path, Event{Kind: EventKey, Key: "ArrowLeft"})
	if got := decodeFrame(t, rec).Time; got != 45 {
		t.Errorf("ArrowLeft: time = %v, want 45", got)
	}

	rec = do(t, r, http.MethodPost, path, Event{Kind: EventCameraToggle})
	if got := decodeFrame(t, rec).Camera; got != Orthographic {
		t.Errorf("camera = %v, want orthographic", got)
	}

	if rec := do(t, r, http.MethodPost, path, Event{Kind: "wheel"}); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown event: expected 400, got %d", rec.Code)
	}
}

func TestHandler_Resolve(t *testing.T) {
	src := &fakeSource{tracks: map[string]Track{"x": {Positions: threeSamples()}}}
	r := newTestRouter(newTestHandler(t, src))
	id := createSession(t, r)
	base := "/sessions/" + string(id)
	_ = do(t, r, http.MethodPost, base+"/query", map[string]any{"query": "x", "num_dancers": 2})

	rec := do(t, r, http.MethodGet, base+"/resolve?t=7", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Formation  Formation   `json:"formation"`
		Placements []Placement `json:"placements"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Formation) != 2 || body.Formation[0][1] != 1 || len(body.Placements) != 2 {
		t.Errorf("resolve body = %+v", body)
	}

	if rec := do(t, r, http.MethodGet, base+"/resolve?t=abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad t: expected 400, got %d", rec.Code)
	}
}

func TestHandler_EndSession(t *testing.T) {
	r := newTestRouter(newTestHandler(t, &fakeSource{}))
	id := createSession(t, r)

	if rec := do(t, r, http.MethodDelete, "/sessions/"+string(id), nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := do(t, r, http.MethodGet, "/sessions/"+string(id), nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after end, got %d", rec.Code)
	}
}
