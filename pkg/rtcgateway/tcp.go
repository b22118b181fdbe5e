package rtcgateway

import (
	"context"
	"fmt"
	"net"

	"github.com/pion/stun/v3"

	"github.com/ringcast/mediacore/pkg/rtcnet"
)

// ListenAndServeTCP accepts RFC 4571 framed RTC connections on addr
// until ctx is canceled, serving each on its own goroutine.
func (g *Gateway) ListenAndServeTCP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rtcgateway: listen tcp: %w", err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go g.serveTCPConn(ctx, conn)
	}
}

// serveTCPConn drives one accepted framed connection through the same
// STUN -> DTLS -> established progression handleUDP drives over the
// shared UDP socket, except every write goes back down this one
// connection instead of through the send cache.
func (g *Gateway) serveTCPConn(ctx context.Context, conn net.Conn) {
	sess := rtcnet.NewTCPSession(conn)
	defer sess.Close()

	remote := conn.RemoteAddr()
	local := conn.LocalAddr()
	key := remote.String()
	var entry *peerEntry

	err := sess.Serve(ctx, func(class rtcnet.PacketClass, data []byte, _ net.Addr) {
		switch class {
		case rtcnet.ClassSTUN:
			if entry == nil {
				g.mu.Lock()
				e, known := g.byRemoteAddr[key]
				g.mu.Unlock()
				if known {
					entry = e
				}
			}
			matched := g.handleStunTCP(sess, data, remote, entry)
			if entry == nil && matched != nil {
				entry = matched
				sess.AdvanceToDTLS()
				g.startDTLSFramed(entry, sess, local, remote)
			}
		case rtcnet.ClassDTLS:
			if entry != nil {
				entry.dtls.Deliver(data)
			}
		case rtcnet.ClassRTP, rtcnet.ClassRTCP:
			if entry != nil {
				g.ingestMedia(entry, class, data)
			}
		}
	})
	if err != nil {
		g.logger.Debug("tcp rtc session serve stopped", "remote", remote, "error", err)
	}
}

// handleStunTCP mirrors handleStun for a framed connection: it
// replies over sess instead of the shared UDP socket and, on a
// first-time match, promotes the peer into byRemoteAddr keyed by the
// connection's remote address.
func (g *Gateway) handleStunTCP(sess *rtcnet.TCPSession, data []byte, remote net.Addr, known *peerEntry) *peerEntry {
	m := new(stun.Message)
	m.Raw = append([]byte(nil), data...)
	if err := m.Decode(); err != nil || m.Type != stun.BindingRequest {
		return nil
	}

	var username stun.Username
	if err := username.GetFrom(m); err != nil {
		return nil
	}
	ufrag := firstField(string(username))

	entry := known
	if entry == nil {
		g.mu.Lock()
		entry = g.pendingByUfrag[ufrag]
		g.mu.Unlock()
		if entry == nil {
			return nil
		}
	}

	_, pwd := entry.session.RemoteICECredentials()
	if _, err := rtcnet.ParseBindingRequest(data, pwd); err != nil {
		g.logger.Debug("stun binding request failed integrity check", "remote", remote, "error", err)
		return nil
	}

	udpRemote, ok := remote.(*net.UDPAddr)
	if !ok {
		// TCP candidates carry no usable mapped address; report the
		// unspecified address rather than fabricate one.
		udpRemote = &net.UDPAddr{IP: net.IPv4zero, Port: 0}
	}
	resp, err := rtcnet.BuildBindingResponse(m, udpRemote.IP, udpRemote.Port, pwd)
	if err != nil {
		g.logger.Warn("build stun binding response failed", "remote", remote, "error", err)
		return nil
	}
	if err := sess.WriteFrame(resp.Raw); err != nil {
		g.logger.Warn("write stun binding response failed", "remote", remote, "error", err)
		return nil
	}

	if known != nil {
		return known
	}

	entry.mu.Lock()
	alreadyBound := entry.stunDone
	entry.stunDone = true
	entry.mu.Unlock()
	if alreadyBound {
		return entry
	}

	g.mu.Lock()
	g.byRemoteAddr[remote.String()] = entry
	delete(g.pendingByUfrag, ufrag)
	g.mu.Unlock()

	entry.writer.bind(func(b []byte) error { return sess.WriteFrame(b) })
	return entry
}

func (g *Gateway) startDTLSFramed(entry *peerEntry, sess *rtcnet.TCPSession, local, remote net.Addr) {
	entry.mu.Lock()
	if entry.dtlsStarted {
		entry.mu.Unlock()
		return
	}
	entry.dtlsStarted = true
	entry.mu.Unlock()

	write := func(b []byte) (int, error) {
		if err := sess.WriteFrame(b); err != nil {
			return 0, err
		}
		return len(b), nil
	}

	go func() {
		if err := entry.dtls.Handshake(g.ctx, write, local, remote); err != nil {
			g.logger.Warn("dtls handshake failed", "peer", entry.id, "error", err)
			return
		}
		sess.AdvanceToEstablished()
		g.onDTLSEstablished(entry)
	}()
}
