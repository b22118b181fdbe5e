package rtcnet

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	mcsec "github.com/ringcast/mediacore/pkg/security"
)

// MaxFrameLen bounds a single RFC 4571 framed payload. Per spec.md
// §6, a payload at or above a normal MTU (1500) is treated as
// oversized rather than accepted and reassembled.
const MaxFrameLen = 1500

// ErrOversizedFrame is returned by ReadFrame/WriteFrame when a framed
// payload is MaxFrameLen bytes or longer.
var ErrOversizedFrame = errors.New("rtcnet: framed payload exceeds MaxFrameLen")

// FramedConn reads and writes RFC 4571 2-byte-length-prefixed
// datagrams over a TCP stream. Generalized from the RTSP
// interleaved-binary-data framing the GB28181 and RTC-over-TCP
// ingest paths both need, minus any RTSP request/response parsing.
type FramedConn struct {
	conn   net.Conn
	reader *bufio.Reader
	wmu    sync.Mutex
}

// NewFramedConn wraps conn for RFC 4571 framing.
func NewFramedConn(conn net.Conn) *FramedConn {
	return &FramedConn{conn: conn, reader: bufio.NewReaderSize(conn, 64*1024)}
}

// ReadFrame blocks for one complete framed payload.
func (f *FramedConn) ReadFrame() ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(f.reader, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if int(n) >= MaxFrameLen {
		return nil, ErrOversizedFrame
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(f.reader, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed payload. Safe for concurrent
// callers (writes are serialized so a length prefix is never
// interleaved with another goroutine's payload bytes).
func (f *FramedConn) WriteFrame(payload []byte) error {
	if len(payload) >= MaxFrameLen {
		return ErrOversizedFrame
	}
	f.wmu.Lock()
	defer f.wmu.Unlock()

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	if _, err := f.conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := f.conn.Write(payload)
	return err
}

// RemoteAddr returns the underlying connection's remote address.
func (f *FramedConn) RemoteAddr() net.Addr { return f.conn.RemoteAddr() }

// LocalAddr returns the underlying connection's local address.
func (f *FramedConn) LocalAddr() net.Addr { return f.conn.LocalAddr() }

// Close closes the underlying connection.
func (f *FramedConn) Close() error { return f.conn.Close() }

// TCPSession drives one accepted, framed TCP connection through
// WaitingStun -> Dtls -> Established, reusing pkg/security's State
// enum so a session's lifecycle reads the same way regardless of
// which network component carried it in.
type TCPSession struct {
	mu     sync.Mutex
	framed *FramedConn
	state  mcsec.State
}

// NewTCPSession wraps an accepted connection, starting in
// StateWaitingStun.
func NewTCPSession(conn net.Conn) *TCPSession {
	return &TCPSession{framed: NewFramedConn(conn), state: mcsec.StateWaitingStun}
}

// State returns the session's current lifecycle state.
func (s *TCPSession) State() mcsec.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *TCPSession) setState(st mcsec.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// AdvanceToDTLS transitions WaitingStun -> Dtls once the initial STUN
// binding has been validated.
func (s *TCPSession) AdvanceToDTLS() { s.setState(mcsec.StateDtls) }

// AdvanceToEstablished transitions Dtls -> Established once the DTLS
// handshake (if this is a Secure/Semi-secure session) has completed.
func (s *TCPSession) AdvanceToEstablished() { s.setState(mcsec.StateEstablished) }

// Serve reads framed datagrams until ctx is canceled or the
// connection errors, classifying and dispatching each to handler.
// Advancing state as the handshake proceeds is the handler's
// responsibility.
func (s *TCPSession) Serve(ctx context.Context, handler Handler) error {
	remote := s.framed.RemoteAddr()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		frame, err := s.framed.ReadFrame()
		if err != nil {
			return err
		}
		handler(Classify(frame), frame, remote)
	}
}

// WriteFrame sends one RFC 4571 framed datagram to the peer.
func (s *TCPSession) WriteFrame(b []byte) error { return s.framed.WriteFrame(b) }

// Close closes the underlying connection.
func (s *TCPSession) Close() error { return s.framed.Close() }
