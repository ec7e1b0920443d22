package playback

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Repository defines the concurrency-safe contract for accessing and mutating
// session state. All methods return copies; callers never hold a pointer into
// repository state.
type Repository interface {
	// CreateSession mounts a new session with the clock at 0.
	CreateSession() Session

	// GetSession returns a snapshot of the session.
	GetSession(id SessionID) (Session, bool)

	// UpdateSession applies fn to the session under the write lock and
	// returns the resulting snapshot. If fn returns an error the session is
	// left unchanged.
	UpdateSession(id SessionID, fn func(*Session) error) (Session, error)

	// BeginQuery marks the session as loading and returns the generation the
	// eventual response must carry to be accepted.
	BeginQuery(id SessionID, numDancers int) (uint64, error)

	// CompleteQuery installs track if gen is still the session's current
	// generation, replacing the previous sequence and rewinding the clock.
	// A stale gen returns ErrStaleResponse and leaves state untouched.
	CompleteQuery(id SessionID, gen uint64, track Track) (Session, error)

	// FailQuery records a data source failure for gen. Stale failures are
	// ignored the same way stale responses are.
	FailQuery(id SessionID, gen uint64, cause error) error

	// DeleteSession unmounts a session. Deleting an unknown session is a no-op.
	DeleteSession(id SessionID)

	// ActiveSessionCount returns the number of mounted sessions.
	// Used for metrics.
	ActiveSessionCount() int
}

var (
	// ErrSessionNotFound is returned for operations on an unknown session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStaleResponse is returned when a data source response arrives after
	// a newer query was issued for the same session.
	ErrStaleResponse = errors.New("stale data source response")
)

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// CreateSession implements Repository.CreateSession.
func (r *InMemoryRepository) CreateSession() Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Session{
		ID:     SessionID(uuid.NewString()),
		Camera: Perspective,
	}
	r.store.SetSession(s)
	return *s
}

// GetSession implements Repository.GetSession.
func (r *InMemoryRepository) GetSession(id SessionID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.store.GetSession(id)
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// UpdateSession implements Repository.UpdateSession.
func (r *InMemoryRepository) UpdateSession(id SessionID, fn func(*Session) error) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.store.GetSession(id)
	if !ok {
		return Session{}, ErrSessionNotFound
	}

	// fn runs on a copy that is committed only on success.
	next := *s
	if err := fn(&next); err != nil {
		return *s, err
	}
	*s = next
	return next, nil
}

// BeginQuery implements Repository.BeginQuery.
func (r *InMemoryRepository) BeginQuery(id SessionID, numDancers int) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.store.GetSession(id)
	if !ok {
		return 0, ErrSessionNotFound
	}
	s.Generation++
	s.Loading = true
	s.LoadError = ""
	s.NumDancers = numDancers
	return s.Generation, nil
}

// CompleteQuery implements Repository.CompleteQuery.
func (r *InMemoryRepository) CompleteQuery(id SessionID, gen uint64, track Track) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.store.GetSession(id)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if gen != s.Generation {
		return *s, ErrStaleResponse
	}

	s.Track = track
	s.Loading = false
	s.LoadError = ""
	s.Clock = 0
	s.Playing = false
	return *s, nil
}

// FailQuery implements Repository.FailQuery.
func (r *InMemoryRepository) FailQuery(id SessionID, gen uint64, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.store.GetSession(id)
	if !ok {
		return ErrSessionNotFound
	}
	if gen != s.Generation {
		return ErrStaleResponse
	}

	s.Loading = false
	if cause != nil {
		s.LoadError = cause.Error()
	}
	return nil
}

// DeleteSession implements Repository.DeleteSession.
func (r *InMemoryRepository) DeleteSession(id SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.store.DeleteSession(id)
}

// ActiveSessionCount implements Repository.ActiveSessionCount.
func (r *InMemoryRepository) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.store.ListSessionIDs())
}
