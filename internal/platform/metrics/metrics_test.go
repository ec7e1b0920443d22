package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRequestMiddleware(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Get("/sessions/{session_id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "session_id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
		}
	})

	for _, id := range []string{"a", "b", "missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil))
	}

	if got := testutil.ToFloat64(m.requestsTotal); got != 3 {
		t.Errorf("requests = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.errorsTotal); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.requestDuration); n != 1 {
		t.Errorf("expected one route series, got %d", n)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.IncQueries()
	m.IncStaleResponses()
	m.IncEvents("key")

	srv := httptest.NewServer(m.Handler(func() { m.SetActiveSessions(4) }))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		"formation_queries_total 1",
		"formation_stale_responses_total 1",
		`formation_input_events_total{kind="key"} 1`,
		"formation_active_sessions 4",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
