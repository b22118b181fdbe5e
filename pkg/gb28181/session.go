package gb28181

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/ringcast/mediacore/pkg/rtcnet"
	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
	"github.com/ringcast/mediacore/pkg/stream"
)

// SessionState is GB28181's two-state session lifecycle: unlike the
// RTC session (C6), there is no Closed state — the media transport may
// disconnect and later re-accept without tearing the session down.
type SessionState int

const (
	// SessionInit is the state before any media transport has
	// connected, and the state returned to on disconnect.
	SessionInit SessionState = iota
	// SessionEstablished holds while a media transport is attached.
	SessionEstablished
)

func (s SessionState) String() string {
	switch s {
	case SessionInit:
		return "init"
	case SessionEstablished:
		return "established"
	default:
		return "unknown"
	}
}

// Session is one GB28181 device publish: it owns a TCP listener for
// the device's PS-over-RTP media connection, a PS parser, and a muxer
// feeding a stream.Source.
type Session struct {
	ID   string
	SSRC uint32

	logger *slog.Logger
	source *stream.Source
	muxer  *Muxer
	parser *PSParser

	ln net.Listener

	mu             sync.Mutex
	state          SessionState
	lastRecovered  uint64
}

// NewSession creates a session bound to source, in SessionInit.
func NewSession(id string, ssrc uint32, source *stream.Source, videoCodec string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ID:     id,
		SSRC:   ssrc,
		logger: logger.With("component", "gb28181_session", "id", id),
		source: source,
		muxer:  NewMuxer(source, videoCodec),
		parser: NewPSParser(),
		state:  SessionInit,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats exposes the muxer's accumulated session totals.
func (s *Session) Stats() SessionStats {
	return s.muxer.Stats()
}

// Listen opens this session's dedicated TCP listener on an OS-assigned
// port (the publish API reports this port back to the signaling
// layer) and returns its number.
func (s *Session) Listen() (int, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("gb28181: listen: %w", err)
	}
	s.ln = ln
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Serve accepts media connections until ctx is canceled. Per spec.md
// §4.8 the listener accepts one media connection per publish; after
// that connection drops, the session returns to SessionInit and Serve
// loops back to Accept again, since GB28181 sessions are long-lived
// and may re-accept a fresh connection for the same id/ssrc.
func (s *Session) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		s.onMediaConnected()
		s.runConn(ctx, conn)
		s.onMediaDisconnected()
	}
}

func (s *Session) onMediaConnected() {
	s.mu.Lock()
	s.state = SessionEstablished
	s.mu.Unlock()
	s.logger.Info("gb28181 media transport connected")
}

func (s *Session) onMediaDisconnected() {
	s.mu.Lock()
	s.state = SessionInit
	s.mu.Unlock()
	s.logger.Info("gb28181 media transport disconnected")
}

func (s *Session) runConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	framed := rtcnet.NewFramedConn(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := framed.ReadFrame()
		if err != nil {
			return
		}
		if err := s.handleFrame(payload); err != nil {
			s.logger.Warn("gb28181 frame handling error", "error", err)
		}
	}
}

// handleFrame decodes one RTP packet carrying a PS fragment and feeds
// it through the parser and muxer. Devices packetize one PS pack's
// payload across RTP packets that all share the same RTP timestamp, so
// that timestamp doubles as the pack's media_id for the muxer's
// per-pack stats bookkeeping.
func (s *Session) handleFrame(payload []byte) error {
	pkt, err := mcrtp.Decode(payload, mcrtp.IgnorePadding(true))
	if err != nil {
		return fmt.Errorf("decode rtp: %w", err)
	}

	mediaID := fmt.Sprintf("%d", pkt.Header.Timestamp)
	msgs := s.parser.Feed(pkt.Payload)
	stats := s.parser.Stats()

	s.mu.Lock()
	recoveredNow := stats.MediaRecovered
	grew := recoveredNow > s.lastRecovered
	s.lastRecovered = recoveredNow
	s.mu.Unlock()
	if grew {
		s.logger.Warn("gb28181 ps stream resynced after parse error",
			"media_nn_recovered", recoveredNow, "drop_crc16", fmt.Sprintf("%04x", stats.LastDropCRC16))
	}

	for _, msg := range msgs {
		if err := s.muxer.HandleMessage(mediaID, msg, stats); err != nil {
			return fmt.Errorf("mux message: %w", err)
		}
	}
	return nil
}

// Close tears down the session's listener.
func (s *Session) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}
