// Package rtcgateway wires the RFC 7983 network components (pkg/rtcnet),
// the DTLS/SRTP transport (pkg/security), and the negotiated session
// (pkg/rtcsession) into a live WHIP-like publish path: an SDP offer
// comes in, a peer is learned off its first STUN binding, DTLS and SRTP
// establish over the same demuxed socket, and every inbound RTP packet
// is bridged into a stream.Source the HTTP-remux edge can mount —
// exactly the "socket bytes -> demux -> session -> track" path the rest
// of the media core already walks for GB28181 ingest.
package rtcgateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"

	pionrtp "github.com/pion/rtp"
	"github.com/pion/srtp/v3"

	"github.com/ringcast/mediacore/pkg/resource"
	"github.com/ringcast/mediacore/pkg/rtcnet"
	"github.com/ringcast/mediacore/pkg/rtcsession"
	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
	mcsec "github.com/ringcast/mediacore/pkg/security"
	"github.com/ringcast/mediacore/pkg/stream"
)

// protectionProfile is the DTLS-SRTP cipher suite this gateway derives
// keys for. pkg/security's DTLSConfig does not yet negotiate the
// use_srtp extension's profile list, so every session assumes the one
// profile nearly every WebRTC peer offers first.
const protectionProfile = srtp.ProtectionProfileAes128CmHmacSha1_80

// srtpKeyLen/srtpSaltLen are AES_CM_128_HMAC_SHA1_80's key and salt
// sizes (RFC 3711 §8.2), the split SplitSRTPKeyingMaterial needs.
const (
	srtpKeyLen  = 16
	srtpSaltLen = 14
)

// defaultClockRate returns the RTP clock rate this gateway assumes for
// a track kind absent an explicit rtpmap (ParseOffer does not carry
// one through yet): 90kHz video, 48kHz audio, the values every
// WebRTC-speaking peer in practice negotiates for H.264/HEVC and Opus.
func defaultClockRate(kind rtcsession.TrackKind) uint32 {
	if kind == rtcsession.TrackAudio {
		return 48000
	}
	return 90000
}

// Config holds the gateway's fixed, process-lifetime settings.
type Config struct {
	VideoCodec string
	Mode       mcsec.Mode
	Candidates []string // pre-formatted a=candidate values advertised in every answer
}

// peerEntry is everything the gateway tracks for one negotiated peer
// from Offer through teardown.
type peerEntry struct {
	id        string
	session   *rtcsession.Session
	transport *mcsec.Transport
	dtls      *mcsec.DTLSTransport
	bridge    *stream.RTCToRTMPBridge
	writer    *peerWriter

	mu          sync.Mutex
	stunDone    bool
	dtlsStarted bool
}

// peerWriter is the lazily-bound RTPWriter a Session writes protected
// packets through: Offer constructs the session before the peer's
// address is known, so the send function is filled in once the peer's
// first STUN binding arrives.
type peerWriter struct {
	mu   sync.Mutex
	send func([]byte) error
}

func (w *peerWriter) bind(send func([]byte) error) {
	w.mu.Lock()
	w.send = send
	w.mu.Unlock()
}

func (w *peerWriter) WriteRTP(pkt []byte) error {
	w.mu.Lock()
	send := w.send
	w.mu.Unlock()
	if send == nil {
		return fmt.Errorf("rtcgateway: peer address not yet learned")
	}
	return send(pkt)
}

// peerResource is the resource.Manager-visible handle for one peer: its
// Dispose tears down the session, DTLS transport, and RTMP bridge
// together so Remove is the one place a peer's teardown happens from.
type peerResource struct {
	entry *peerEntry
}

func (r *peerResource) Dispose() {
	r.entry.session.Close()
	if r.entry.dtls != nil {
		_ = r.entry.dtls.Close()
	}
	if r.entry.bridge != nil {
		_ = r.entry.bridge.Close()
	}
}

// Gateway owns the UDP and TCP RTC listeners and negotiates, tracks,
// and tears down every peer session they carry.
type Gateway struct {
	logger *slog.Logger
	cfg    Config
	cert   tls.Certificate
	fpAlgo string
	fpHash string

	ctx    context.Context
	cancel context.CancelFunc

	sessions  *resource.Manager
	newSource func(id string) *stream.Source

	udp       *rtcnet.UDPListener
	sendCache *rtcnet.SendCache

	mu             sync.Mutex
	pendingByUfrag map[string]*peerEntry
	byRemoteAddr   map[string]*peerEntry
	handles        map[string]*resource.Handle
	candidates     []string
}

// NewGateway builds a gateway that registers every negotiated peer
// session into sessions and sources its stream.Source via newSource,
// generating a fresh self-signed DTLS certificate for this process.
func NewGateway(cfg Config, sessions *resource.Manager, newSource func(id string) *stream.Source, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cert, fpAlgo, fpHash, err := generateCertificate()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		logger:         logger.With("component", "rtcgateway"),
		cfg:            cfg,
		cert:           cert,
		fpAlgo:         fpAlgo,
		fpHash:         fpHash,
		ctx:            ctx,
		cancel:         cancel,
		sessions:       sessions,
		newSource:      newSource,
		sendCache:      rtcnet.NewSendCache(),
		pendingByUfrag: make(map[string]*peerEntry),
		byRemoteAddr:   make(map[string]*peerEntry),
		handles:        make(map[string]*resource.Handle),
		candidates:     cfg.Candidates,
	}, nil
}

// Fingerprint reports the algo/hash pair every SDP answer advertises.
func (g *Gateway) Fingerprint() (algo, hash string) { return g.fpAlgo, g.fpHash }

// SetCandidates replaces the ICE-lite host candidates every future
// Offer's answer advertises — set once the UDP/TCP listeners are
// bound and their public-facing address is known.
func (g *Gateway) SetCandidates(candidates []string) {
	g.mu.Lock()
	g.candidates = candidates
	g.mu.Unlock()
}

// Offer negotiates a new peer session for id against offerSDP, builds
// and registers its Session, and returns the SDP answer the caller
// hands back to the publisher (the WHIP/signaling response body).
func (g *Gateway) Offer(id, offerSDP string) (answerSDP string, err error) {
	remote, err := rtcsession.ParseOffer(offerSDP)
	if err != nil {
		return "", fmt.Errorf("rtcgateway: parse offer: %w", err)
	}

	answerTracks := make([]rtcsession.TrackDescription, 0, len(remote.Tracks))
	for _, t := range remote.Tracks {
		answerTracks = append(answerTracks, rtcsession.TrackDescription{
			Kind:      t.Kind,
			MID:       t.MID,
			Direction: flipDirection(t.Direction),
			SSRC:      t.SSRC,
			Payload:   defaultPayload(t.Kind, g.cfg.VideoCodec),
		})
	}

	dtls := mcsec.NewDTLSTransport(mcsec.DTLSConfig{Role: mcsec.DTLSRoleServer, Certificate: g.cert})
	transport := mcsec.NewTransport(g.cfg.Mode, dtls)
	writer := &peerWriter{}

	g.mu.Lock()
	candidates := g.candidates
	g.mu.Unlock()

	session := rtcsession.NewSession(g.ctx, id, transport, writer, g.logger)
	answerSDP, err = session.Negotiate(offerSDP, id, g.fpAlgo, g.fpHash, answerTracks, candidates)
	if err != nil {
		return "", fmt.Errorf("rtcgateway: negotiate: %w", err)
	}

	source := g.newSource(id)
	bridge := stream.NewRTCToRTMPBridge(source, g.cfg.VideoCodec, g.logger)

	for _, t := range remote.Tracks {
		if t.SSRC == 0 {
			continue // nothing to route inbound packets by
		}
		if t.Direction == rtcsession.DirRecvonly {
			continue // we would be sending to them; this gateway only ingests for now
		}
		session.AddRecvTrack(t.Kind, t.SSRC, defaultClockRate(t.Kind))
	}

	session.OnRecvRTP(func(kind rtcsession.TrackKind, pkt *mcrtp.Packet) {
		out := &pionrtp.Packet{Header: pkt.Header, Payload: pkt.Payload}
		var err error
		if kind == rtcsession.TrackAudio {
			err = bridge.OnAudioRTP(out, false)
		} else {
			err = bridge.OnVideoRTP(out)
		}
		if err != nil {
			g.logger.Warn("rtc bridge ingest failed", "session", id, "error", err)
		}
	})

	entry := &peerEntry{id: id, session: session, transport: transport, dtls: dtls, bridge: bridge, writer: writer}

	ufrag, _ := session.RemoteICECredentials()

	g.mu.Lock()
	if old, ok := g.handles[id]; ok {
		g.sessions.Remove(old)
		delete(g.handles, id)
	}
	g.pendingByUfrag[ufrag] = entry
	h := g.sessions.AddWithID(&peerResource{entry: entry}, id)
	g.handles[id] = h
	g.mu.Unlock()

	session.Start()
	return answerSDP, nil
}

func flipDirection(d rtcsession.TrackDirection) rtcsession.TrackDirection {
	switch d {
	case rtcsession.DirSendonly:
		return rtcsession.DirRecvonly
	case rtcsession.DirRecvonly:
		return rtcsession.DirSendonly
	default:
		return d
	}
}

func defaultPayload(kind rtcsession.TrackKind, videoCodec string) rtcsession.MediaPayloadType {
	if kind == rtcsession.TrackAudio {
		return rtcsession.MediaPayloadType{PayloadType: 111, EncodingName: "opus", ClockRate: 48000, Channels: 2}
	}
	if videoCodec == "h265" || videoCodec == "hevc" {
		return rtcsession.MediaPayloadType{PayloadType: 108, EncodingName: "H265", ClockRate: 90000}
	}
	return rtcsession.MediaPayloadType{PayloadType: 102, EncodingName: "H264", ClockRate: 90000}
}

// FormatHostCandidate renders a single ICE-lite host candidate line
// (RFC 8445 §15.1, sans the leading "a=candidate:" SDP attribute
// prefix BuildAnswer's own marshaling already adds) for proto ("udp"
// or "tcp") at ip:port.
func FormatHostCandidate(foundation string, component int, proto, ip string, port int, priority uint32) string {
	return fmt.Sprintf("%s %d %s %d %s %d typ host", foundation, component, proto, priority, ip, port)
}

// Close tears down the UDP listener and every cached send socket. Peer
// sessions themselves are torn down through the resource manager, not
// here.
func (g *Gateway) Close() error {
	g.cancel()
	if g.udp != nil {
		_ = g.udp.Close()
	}
	return g.sendCache.Close()
}
