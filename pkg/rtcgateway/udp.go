package rtcgateway

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun/v3"

	"github.com/ringcast/mediacore/pkg/rtcnet"
	mcsec "github.com/ringcast/mediacore/pkg/security"
)

// ListenUDP binds the shared demuxed RTC socket and reports the
// address it bound to (port 0 resolves to an ephemeral port).
func (g *Gateway) ListenUDP(addr string) (*net.UDPAddr, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rtcgateway: resolve udp addr: %w", err)
	}
	ln, err := rtcnet.ListenUDP(laddr)
	if err != nil {
		return nil, err
	}
	g.udp = ln
	return ln.LocalAddr(), nil
}

// ServeUDP reads and dispatches every datagram the bound socket
// receives until ctx is canceled. Call after ListenUDP.
func (g *Gateway) ServeUDP(ctx context.Context) error {
	if g.udp == nil {
		return fmt.Errorf("rtcgateway: ServeUDP called before ListenUDP")
	}
	return g.udp.Serve(ctx, func(class rtcnet.PacketClass, data []byte, remote net.Addr) {
		g.handleUDP(class, data, remote.(*net.UDPAddr))
	})
}

func (g *Gateway) handleUDP(class rtcnet.PacketClass, data []byte, remote *net.UDPAddr) {
	key := remote.String()

	g.mu.Lock()
	entry, known := g.byRemoteAddr[key]
	g.mu.Unlock()

	switch class {
	case rtcnet.ClassSTUN:
		g.handleStun(data, remote, entry)
	case rtcnet.ClassDTLS:
		if known {
			entry.dtls.Deliver(data)
		}
	case rtcnet.ClassRTP, rtcnet.ClassRTCP:
		if !known {
			return
		}
		g.ingestMedia(entry, class, data)
	}
}

// handleStun validates an inbound Binding Request, matches it to a
// pending (or already-bound) peer by its USERNAME's first field, and
// replies with a Binding Response. A first-time match promotes the
// peer from pendingByUfrag into byRemoteAddr and kicks off its DTLS
// handshake.
func (g *Gateway) handleStun(data []byte, remote *net.UDPAddr, known *peerEntry) {
	m := new(stun.Message)
	m.Raw = append([]byte(nil), data...)
	if err := m.Decode(); err != nil || m.Type != stun.BindingRequest {
		return
	}

	var username stun.Username
	if err := username.GetFrom(m); err != nil {
		return
	}
	ufrag := firstField(string(username))

	entry := known
	if entry == nil {
		g.mu.Lock()
		entry = g.pendingByUfrag[ufrag]
		g.mu.Unlock()
		if entry == nil {
			return
		}
	}

	_, pwd := entry.session.RemoteICECredentials()
	if _, err := rtcnet.ParseBindingRequest(data, pwd); err != nil {
		g.logger.Debug("stun binding request failed integrity check", "remote", remote, "error", err)
		return
	}

	resp, err := rtcnet.BuildBindingResponse(m, remote.IP, remote.Port, pwd)
	if err != nil {
		g.logger.Warn("build stun binding response failed", "remote", remote, "error", err)
		return
	}
	if err := g.udp.WriteTo(resp.Raw, remote); err != nil {
		g.logger.Warn("write stun binding response failed", "remote", remote, "error", err)
		return
	}

	if known != nil {
		return // already promoted; nothing left to do beyond keeping the binding alive
	}

	entry.mu.Lock()
	alreadyBound := entry.stunDone
	entry.stunDone = true
	entry.mu.Unlock()
	if alreadyBound {
		return
	}

	g.mu.Lock()
	g.byRemoteAddr[remote.String()] = entry
	delete(g.pendingByUfrag, ufrag)
	g.mu.Unlock()

	entry.writer.bind(func(b []byte) error { return g.sendCache.Send(remote, b) })
	g.startDTLS(entry, g.udp.LocalAddr(), remote)
}

func firstField(s string) string {
	for i, r := range s {
		if r == ':' {
			return s[:i]
		}
	}
	return s
}

// startDTLS runs entry's DTLS handshake in the background, guarded so
// a retransmitted STUN binding never starts a second handshake for
// the same peer, and derives/attaches the peer's SRTP keys once the
// handshake completes.
func (g *Gateway) startDTLS(entry *peerEntry, local, remote net.Addr) {
	entry.mu.Lock()
	if entry.dtlsStarted {
		entry.mu.Unlock()
		return
	}
	entry.dtlsStarted = true
	entry.mu.Unlock()

	write := func(b []byte) (int, error) {
		if err := g.sendCache.Send(remote.(*net.UDPAddr), b); err != nil {
			return 0, err
		}
		return len(b), nil
	}

	go func() {
		if err := entry.dtls.Handshake(g.ctx, write, local, remote); err != nil {
			g.logger.Warn("dtls handshake failed", "peer", entry.id, "error", err)
			return
		}
		g.onDTLSEstablished(entry)
	}()
}

func (g *Gateway) onDTLSEstablished(entry *peerEntry) {
	const clientRole = false // BuildAnswer always advertises a=setup:passive; we are always the DTLS server
	material, err := entry.dtls.ExportKeyingMaterial("EXTRACTOR-dtls_srtp", 2*(srtpKeyLen+srtpSaltLen))
	if err != nil {
		g.logger.Warn("export srtp keying material failed", "peer", entry.id, "error", err)
		return
	}
	keys, err := mcsec.SplitSRTPKeyingMaterial(material, srtpKeyLen, srtpSaltLen, clientRole)
	if err != nil {
		g.logger.Warn("split srtp keying material failed", "peer", entry.id, "error", err)
		return
	}
	srtpCtx, err := mcsec.NewSRTPContext(protectionProfile, keys)
	if err != nil {
		g.logger.Warn("build srtp context failed", "peer", entry.id, "error", err)
		return
	}
	entry.transport.AttachSRTP(srtpCtx)
	g.logger.Info("rtc peer established", "peer", entry.id)
}

func (g *Gateway) ingestMedia(entry *peerEntry, class rtcnet.PacketClass, data []byte) {
	var err error
	switch class {
	case rtcnet.ClassRTP:
		err = entry.session.IngestRTP(data, time.Now())
	case rtcnet.ClassRTCP:
		err = entry.session.IngestRTCP(data)
	}
	if err != nil {
		g.logger.Debug("rtc media ingest failed", "peer", entry.id, "error", err)
	}
}
