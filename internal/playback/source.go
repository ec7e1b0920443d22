package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// DataSource fetches the formation sequence for a query.
type DataSource interface {
	Fetch(ctx context.Context, q Query) (Track, error)
}

var (
	// ErrEmptyQuery is returned for a blank query string.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrInvalidDancers is returned when num_dancers is not positive.
	ErrInvalidDancers = errors.New("num_dancers must be positive")

	// ErrTrackNotFound is returned when the data source has no track for a query.
	ErrTrackNotFound = errors.New("track not found")

	// ErrDataSource wraps transport and decoding failures from the data source.
	ErrDataSource = errors.New("data source failure")
)

// Validate checks the request before it is sent to a data source.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return ErrEmptyQuery
	}
	if q.NumDancers <= 0 {
		return ErrInvalidDancers
	}
	return nil
}

const defaultFetchTimeout = 30 * time.Second

// HTTPSource posts queries to the formation extraction back end.
// Identical queries in flight at the same time share one request.
type HTTPSource struct {
	url    string
	client *http.Client
	group  singleflight.Group
}

// NewHTTPSource returns an HTTPSource posting to url. If timeout <= 0 a
// default of 30s is used.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &HTTPSource{url: url, client: &http.Client{Timeout: timeout}}
}

// Fetch implements DataSource.Fetch.
func (h *HTTPSource) Fetch(ctx context.Context, q Query) (Track, error) {
	if err := q.Validate(); err != nil {
		return Track{}, err
	}

	// The shared request outlives any single caller and is bounded by the
	// client timeout. Each caller stops waiting when its own ctx ends.
	key := strconv.Itoa(q.NumDancers) + "\x00" + q.Query
	ch := h.group.DoChan(key, func() (any, error) {
		return h.fetch(context.WithoutCancel(ctx), q)
	})
	select {
	case <-ctx.Done():
		return Track{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Track{}, res.Err
		}
		return res.Val.(Track), nil
	}
}

func (h *HTTPSource) fetch(ctx context.Context, q Query) (Track, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return Track{}, fmt.Errorf("%w: encode query: %v", ErrDataSource, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Track{}, fmt.Errorf("%w: build request: %v", ErrDataSource, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Track{}, fmt.Errorf("%w: %v", ErrDataSource, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Track{}, fmt.Errorf("%w: %q", ErrTrackNotFound, q.Query)
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Track{}, fmt.Errorf("%w: status %d: %s", ErrDataSource, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var t Track
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return Track{}, fmt.Errorf("%w: decode response: %v", ErrDataSource, err)
	}
	return t, nil
}
