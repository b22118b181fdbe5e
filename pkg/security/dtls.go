// Package security implements the DTLS handshake, SRTP protect/unprotect,
// and the plaintext/semi-secure/secure transport variants that sit
// between the RFC 7983 network demuxer and an RTC session's RTP/RTCP
// handling.
package security

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v3"
)

// State is a transport's position in the handshake lifecycle.
type State int

const (
	StateInit State = iota
	StateWaitingStun
	StateDtls
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateWaitingStun:
		return "waiting_stun"
	case StateDtls:
		return "dtls"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DTLSRole mirrors the ICE-lite convention used throughout: the
// controlling side dials as the DTLS client (active), the controlled
// side accepts as the DTLS server (passive).
type DTLSRole int

const (
	DTLSRoleServer DTLSRole = iota
	DTLSRoleClient
)

// Alert is forwarded to the owning session on any DTLS alert,
// including the clean-shutdown close_notify.
type Alert struct {
	Type        string
	Description string
	CloseNotify bool
}

// AlertHandler receives forwarded DTLS alerts.
type AlertHandler func(Alert)

// netConnAdapter turns a write callback plus a channel of inbound
// datagrams into a net.Conn, so pion/dtls/v3 can run its handshake
// over our own RFC 7983 demuxed UDP socket rather than owning one.
type netConnAdapter struct {
	incoming chan []byte
	write    func([]byte) (int, error)
	closed   chan struct{}
	closeOne sync.Once
	local    net.Addr
	remote   net.Addr
}

func newNetConnAdapter(write func([]byte) (int, error), local, remote net.Addr) *netConnAdapter {
	return &netConnAdapter{
		incoming: make(chan []byte, 64),
		write:    write,
		closed:   make(chan struct{}),
		local:    local,
		remote:   remote,
	}
}

// deliver hands one inbound DTLS datagram to the adapter's Read side.
// Called from the network component's receive loop.
func (c *netConnAdapter) deliver(b []byte) {
	cp := append([]byte(nil), b...)
	select {
	case c.incoming <- cp:
	case <-c.closed:
	}
}

func (c *netConnAdapter) Read(b []byte) (int, error) {
	select {
	case pkt := <-c.incoming:
		return copy(b, pkt), nil
	case <-c.closed:
		return 0, net.ErrClosed
	}
}

func (c *netConnAdapter) Write(b []byte) (int, error) { return c.write(b) }

func (c *netConnAdapter) Close() error {
	c.closeOne.Do(func() { close(c.closed) })
	return nil
}

func (c *netConnAdapter) LocalAddr() net.Addr             { return c.local }
func (c *netConnAdapter) RemoteAddr() net.Addr            { return c.remote }
func (c *netConnAdapter) SetDeadline(time.Time) error     { return nil }
func (c *netConnAdapter) SetReadDeadline(time.Time) error { return nil }
func (c *netConnAdapter) SetWriteDeadline(_ time.Time) error {
	return nil
}

// DTLSConfig configures one transport's handshake.
type DTLSConfig struct {
	Role        DTLSRole
	Certificate tls.Certificate
	OnAlert     AlertHandler
}

// DTLSTransport drives one peer's DTLS handshake over an adapted
// socket and exposes keying-material export for SRTP key derivation.
type DTLSTransport struct {
	mu      sync.Mutex
	role    DTLSRole
	cert    tls.Certificate
	onAlert AlertHandler

	conn    *dtls.Conn
	adapter *netConnAdapter
	state   State
}

// NewDTLSTransport creates a transport in StateInit.
func NewDTLSTransport(cfg DTLSConfig) *DTLSTransport {
	return &DTLSTransport{role: cfg.Role, cert: cfg.Certificate, onAlert: cfg.OnAlert, state: StateInit}
}

// Handshake runs the DTLS exchange over write (outbound datagrams to
// the peer) and blocks until the handshake completes or ctx is done.
// Every inbound DTLS datagram the RFC 7983 demuxer routes to this
// transport must be fed through Deliver.
func (t *DTLSTransport) Handshake(ctx context.Context, write func([]byte) (int, error), local, remote net.Addr) error {
	t.mu.Lock()
	t.state = StateDtls
	adapter := newNetConnAdapter(write, local, remote)
	t.adapter = adapter
	role := t.role
	cert := t.cert
	t.mu.Unlock()

	cfg := &dtls.Config{
		Certificates:         []tls.Certificate{cert},
		InsecureSkipVerify:   true, // identity is verified via the SDP a=fingerprint, not a CA chain
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
	}

	var conn *dtls.Conn
	var err error
	if role == DTLSRoleClient {
		conn, err = dtls.ClientWithContext(ctx, adapter, cfg)
	} else {
		conn, err = dtls.ServerWithContext(ctx, adapter, cfg)
	}
	if err != nil {
		t.mu.Lock()
		t.state = StateClosed
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.OnHandshakeDone()
	return nil
}

// Deliver feeds one inbound DTLS datagram to the handshake/record
// layer. Safe to call before Handshake has been started; datagrams
// arriving before the adapter exists are simply dropped (the peer's
// retransmission timer will resend).
func (t *DTLSTransport) Deliver(b []byte) {
	t.mu.Lock()
	adapter := t.adapter
	t.mu.Unlock()
	if adapter != nil {
		adapter.deliver(b)
	}
}

// OnHandshakeDone marks the transport Established. It is idempotent:
// a second call after Established — the shape of DTLS ARQ where the
// peer retransmits its Finished message — is a successful no-op.
func (t *DTLSTransport) OnHandshakeDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateEstablished || t.state == StateClosed {
		return
	}
	t.state = StateEstablished
}

// State returns the transport's current lifecycle state.
func (t *DTLSTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ExportKeyingMaterial pulls key material out of the completed DTLS
// handshake per RFC 5764, used to derive the SRTP master keys/salts.
func (t *DTLSTransport) ExportKeyingMaterial(label string, length int) ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, errors.New("security: DTLS handshake not complete")
	}
	return conn.ExportKeyingMaterial(label, nil, length)
}

// HandleAlert forwards a DTLS alert to the session. close_notify is
// treated as a clean session end rather than an error.
func (t *DTLSTransport) HandleAlert(alertType, description string) {
	closeNotify := alertType == "close_notify" || description == "close_notify"

	t.mu.Lock()
	if closeNotify {
		t.state = StateClosed
	}
	handler := t.onAlert
	t.mu.Unlock()

	if handler != nil {
		handler(Alert{Type: alertType, Description: description, CloseNotify: closeNotify})
	}
}

// Close tears down the DTLS connection, if one was established.
func (t *DTLSTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.state = StateClosed
	t.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
