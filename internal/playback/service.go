package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// Default stage geometry: the extractor quantizes positions onto a 7x7 grid.
const (
	DefaultStageWidth = 7
	DefaultStageDepth = 7
	DefaultCellSize   = 2.0
)

// DefaultStage returns the stage used when none is configured.
func DefaultStage() Stage {
	return Stage{Width: DefaultStageWidth, Depth: DefaultStageDepth, CellSize: DefaultCellSize}
}

// Service wires sessions, the data source and input dispatch together.
type Service struct {
	repo     Repository
	source   DataSource
	dispatch *Dispatcher
	stage    Stage
	log      *slog.Logger
}

// NewService returns a Service. Zero stage dimensions fall back to DefaultStage
// and a nil logger discards output.
func NewService(repo Repository, source DataSource, dispatch *Dispatcher, stage Stage, log *slog.Logger) *Service {
	def := DefaultStage()
	if stage.Width <= 0 {
		stage.Width = def.Width
	}
	if stage.Depth <= 0 {
		stage.Depth = def.Depth
	}
	if stage.CellSize <= 0 {
		stage.CellSize = def.CellSize
	}
	if dispatch == nil {
		dispatch = NewDispatcher(DefaultSkipSeconds)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{repo: repo, source: source, dispatch: dispatch, stage: stage, log: log}
}

// Stage returns the configured stage geometry.
func (s *Service) Stage() Stage {
	return s.stage
}

// CreateSession mounts a new view and returns its first frame.
func (s *Service) CreateSession() Frame {
	sess := s.repo.CreateSession()
	return sess.Frame(s.stage)
}

// Frame returns the frame for the session's current clock.
func (s *Service) Frame(id SessionID) (Frame, error) {
	sess, ok := s.repo.GetSession(id)
	if !ok {
		return Frame{}, ErrSessionNotFound
	}
	return sess.Frame(s.stage), nil
}

// ResolveAt returns the formation at t without moving the session clock.
func (s *Service) ResolveAt(id SessionID, t float64) (Formation, error) {
	sess, ok := s.repo.GetSession(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return Resolve(sess.Track.Positions, t), nil
}

// EndSession unmounts a session.
func (s *Service) EndSession(id SessionID) {
	s.repo.DeleteSession(id)
}

// Seek moves the session clock to t, clamped to the media duration.
func (s *Service) Seek(id SessionID, t float64) (Frame, error) {
	return s.update(id, func(sess *Session) error {
		sess.Seek(t)
		return nil
	})
}

// Advance moves the session clock by delta, clamped to the media duration.
func (s *Service) Advance(id SessionID, delta float64) (Frame, error) {
	return s.update(id, func(sess *Session) error {
		sess.Advance(delta)
		return nil
	})
}

// Dispatch applies an input event and returns the redrawn frame.
func (s *Service) Dispatch(id SessionID, e Event) (Frame, error) {
	return s.update(id, func(sess *Session) error {
		return s.dispatch.Dispatch(sess, e)
	})
}

// Query fetches a new sequence for the session. The previous sequence stays
// visible while the fetch is in flight. If another query for the same session
// is issued before this one returns, this response is discarded and
// ErrStaleResponse is returned.
func (s *Service) Query(ctx context.Context, id SessionID, q Query) (Frame, error) {
	if err := q.Validate(); err != nil {
		return Frame{}, err
	}

	gen, err := s.repo.BeginQuery(id, q.NumDancers)
	if err != nil {
		return Frame{}, err
	}

	track, err := s.source.Fetch(ctx, q)
	if err != nil {
		s.log.Warn("data source fetch failed",
			slog.String("session_id", string(id)),
			slog.String("query", q.Query),
			slog.Uint64("generation", gen),
			slog.String("error", err.Error()))
		if ferr := s.repo.FailQuery(id, gen, err); errors.Is(ferr, ErrStaleResponse) {
			return Frame{}, ErrStaleResponse
		}
		return Frame{}, err
	}

	sess, err := s.repo.CompleteQuery(id, gen, track)
	if err != nil {
		if errors.Is(err, ErrStaleResponse) {
			s.log.Info("discarding stale data source response",
				slog.String("session_id", string(id)),
				slog.Uint64("generation", gen),
				slog.Uint64("current_generation", sess.Generation))
		}
		return Frame{}, err
	}

	s.log.Debug("sequence loaded",
		slog.String("session_id", string(id)),
		slog.String("song", track.Song),
		slog.Int("samples", len(track.Positions)),
		slog.Uint64("generation", gen))
	return sess.Frame(s.stage), nil
}

// ActiveSessionCount returns the number of mounted sessions.
func (s *Service) ActiveSessionCount() int {
	return s.repo.ActiveSessionCount()
}

func (s *Service) update(id SessionID, fn func(*Session) error) (Frame, error) {
	sess, err := s.repo.UpdateSession(id, fn)
	if err != nil {
		return Frame{}, err
	}
	return sess.Frame(s.stage), nil
}
