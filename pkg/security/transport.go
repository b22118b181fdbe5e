package security

import "sync"

// Mode selects which of DTLS negotiation and SRTP encryption are
// active, per spec.md §4.4's three security variants.
type Mode int

const (
	// ModeSecure is the normal WebRTC path: DTLS negotiated, media
	// protected by SRTP.
	ModeSecure Mode = iota
	// ModeSemiSecure negotiates DTLS but leaves media in the clear.
	// Debugging only.
	ModeSemiSecure
	// ModePlaintext skips both. Used on loopback and by internal
	// bridges.
	ModePlaintext
)

func (m Mode) String() string {
	switch m {
	case ModeSecure:
		return "secure"
	case ModeSemiSecure:
		return "semi-secure"
	case ModePlaintext:
		return "plaintext"
	default:
		return "unknown"
	}
}

// NeedsDTLS reports whether this mode negotiates a DTLS handshake.
func (m Mode) NeedsDTLS() bool { return m == ModeSecure || m == ModeSemiSecure }

// NeedsSRTP reports whether this mode encrypts media.
func (m Mode) NeedsSRTP() bool { return m == ModeSecure }

// Transport is the uniform protect/unprotect surface an RTC session
// talks to regardless of which Mode is in effect: callers always go
// through ProtectRTP/UnprotectRTP/ProtectRTCP/UnprotectRTCP, and the
// transport decides whether that's a real SRTP operation or a
// pass-through.
type Transport struct {
	mode Mode
	dtls *DTLSTransport // nil under ModePlaintext

	mu   sync.Mutex
	srtp *SRTPContext // nil until AttachSRTP, and always nil outside ModeSecure
}

// NewTransport builds a Transport for mode. dtls may be nil when mode
// is ModePlaintext.
func NewTransport(mode Mode, dtls *DTLSTransport) *Transport {
	return &Transport{mode: mode, dtls: dtls}
}

// Mode returns the configured security variant.
func (t *Transport) Mode() Mode { return t.mode }

// DTLS exposes the underlying handshake transport, or nil under
// ModePlaintext.
func (t *Transport) DTLS() *DTLSTransport { return t.dtls }

// AttachSRTP installs the SRTP context derived from the completed
// DTLS handshake. A no-op outside ModeSecure.
func (t *Transport) AttachSRTP(ctx *SRTPContext) {
	if !t.mode.NeedsSRTP() {
		return
	}
	t.mu.Lock()
	t.srtp = ctx
	t.mu.Unlock()
}

func (t *Transport) srtpContext() *SRTPContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.srtp
}

// ProtectRTP encrypts pkt under ModeSecure once keys have been
// derived; otherwise it is returned unchanged.
func (t *Transport) ProtectRTP(pkt []byte) ([]byte, error) {
	if s := t.srtpContext(); s != nil {
		return s.ProtectRTP(pkt)
	}
	return pkt, nil
}

// UnprotectRTP decrypts pkt under ModeSecure once keys have been
// derived; otherwise it is returned unchanged.
func (t *Transport) UnprotectRTP(pkt []byte) ([]byte, error) {
	if s := t.srtpContext(); s != nil {
		return s.UnprotectRTP(pkt)
	}
	return pkt, nil
}

// ProtectRTCP mirrors ProtectRTP for RTCP packets.
func (t *Transport) ProtectRTCP(pkt []byte) ([]byte, error) {
	if s := t.srtpContext(); s != nil {
		return s.ProtectRTCP(pkt)
	}
	return pkt, nil
}

// UnprotectRTCP mirrors UnprotectRTP for RTCP packets.
func (t *Transport) UnprotectRTCP(pkt []byte) ([]byte, error) {
	if s := t.srtpContext(); s != nil {
		return s.UnprotectRTCP(pkt)
	}
	return pkt, nil
}

// State proxies the DTLS state machine. ModePlaintext has nothing to
// negotiate and reports Established immediately.
func (t *Transport) State() State {
	if t.dtls == nil {
		return StateEstablished
	}
	return t.dtls.State()
}
