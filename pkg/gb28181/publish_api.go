package gb28181

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ringcast/mediacore/pkg/resource"
	"github.com/ringcast/mediacore/pkg/stream"
)

// PublishRequest is the body of `POST /gb/v1/publish/`.
type PublishRequest struct {
	ID   string `json:"id"`
	SSRC uint32 `json:"ssrc"`
}

// PublishResponse is returned to the caller once the session's media
// listener is up.
type PublishResponse struct {
	Code  int  `json:"code"`
	Port  int  `json:"port"`
	IsTCP bool `json:"is_tcp"`
}

// PublishService implements the GB28181 publish API: creating a
// session, registering it in the shared resource manager under both
// its string id and its SSRC fast-id, and starting its accept loop.
type PublishService struct {
	logger     *slog.Logger
	sessions   *resource.Manager
	videoCodec string
	newSource  func(id string) *stream.Source

	mu    sync.Mutex
	byID  map[string]*Session
	handles map[string]*resource.Handle
}

// NewPublishService creates a service that registers sessions into
// sessions and builds each session's Source via newSource.
func NewPublishService(sessions *resource.Manager, videoCodec string, newSource func(id string) *stream.Source, logger *slog.Logger) *PublishService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishService{
		logger:     logger.With("component", "gb28181_publish_api"),
		sessions:   sessions,
		videoCodec: videoCodec,
		newSource:  newSource,
		byID:       make(map[string]*Session),
		handles:    make(map[string]*resource.Handle),
	}
}

// Publish creates (or replaces, if id is already known) a session for
// req, registers it, starts its accept-and-serve goroutine, and
// returns the port its media listener bound to.
func (s *PublishService) Publish(ctx context.Context, req PublishRequest) (PublishResponse, error) {
	if req.ID == "" {
		return PublishResponse{}, fmt.Errorf("gb28181: publish request missing id")
	}

	source := s.newSource(req.ID)
	sess := NewSession(req.ID, req.SSRC, source, s.videoCodec, s.logger)

	port, err := sess.Listen()
	if err != nil {
		return PublishResponse{}, err
	}

	h := s.sessions.AddWithID(sess, req.ID)
	s.sessions.SetFastID(h, uint64(req.SSRC))

	s.mu.Lock()
	if old, ok := s.handles[req.ID]; ok {
		s.sessions.Remove(old)
	}
	s.byID[req.ID] = sess
	s.handles[req.ID] = h
	s.mu.Unlock()

	go func() {
		if err := sess.Serve(ctx); err != nil {
			s.logger.Info("gb28181 session serve stopped", "id", req.ID, "error", err)
		}
	}()

	return PublishResponse{Code: 0, Port: port, IsTCP: true}, nil
}

// Session returns the live session registered under id, if any.
func (s *PublishService) Session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	return sess, ok
}
