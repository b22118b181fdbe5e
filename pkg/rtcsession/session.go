// Package rtcsession ties together the security transport, the NACK/
// SR-tracking receive and send tracks, and the per-session RTCP
// pump into the object the rest of the media core calls a "session" —
// grounded on the teacher's pkg/bridge.Bridge lifecycle (CreateSession/
// Negotiate/Close) but generalized from a single Cloudflare WHIP leg to
// an arbitrary WebRTC or GB28181 peer.
package rtcsession

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtcp"
	pionrtp "github.com/pion/rtp"

	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
	mcsec "github.com/ringcast/mediacore/pkg/security"
)

// Network is the non-owning back-pointer a Session holds to whatever
// transport delivered it packets. Sessions never destroy their
// network; the resource manager is the sole destruction authority
// (spec.md §9's cyclic-reference resolution).
type Network interface {
	RTPWriter
}

// Session is one negotiated peer: it owns a security transport, a set
// of receive and send tracks keyed by SSRC, and a background loop that
// emits NACKs and Sender/Receiver Reports on a fixed tick.
type Session struct {
	id     string
	logger *slog.Logger

	transport *mcsec.Transport
	network   Network

	mu                sync.Mutex
	recvTracks        map[uint32]*RecvTrack
	sendTracks        map[uint32]*SendTrack
	srClocks          map[uint32]*SRClock
	localSDP          string
	remoteSDP         string
	remoteNegotiation NegotiationParams

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tickInterval time.Duration
	onRecvRTP    func(kind TrackKind, pkt *mcrtp.Packet)
}

// NewSession creates a session identified by id, using transport for
// all protect/unprotect operations and network as the write sink for
// anything the session emits (RTCP, retransmissions).
func NewSession(ctx context.Context, id string, transport *mcsec.Transport, network Network, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		id:           id,
		logger:       logger,
		transport:    transport,
		network:      network,
		recvTracks:   make(map[uint32]*RecvTrack),
		sendTracks:   make(map[uint32]*SendTrack),
		srClocks:     make(map[uint32]*SRClock),
		ctx:          ctx,
		cancel:       cancel,
		tickInterval: 20 * time.Millisecond,
	}
}

// ID returns the session's resource-manager id.
func (s *Session) ID() string { return s.id }

// Negotiate stores offer as the session's remote SDP, parses its ICE
// credentials/DTLS fingerprint/track set, builds a matching local
// answer advertising tracks at the given candidates, and stores the
// answer as the session's local SDP. Per spec.md §3's Session data
// model ("local & remote SDP, ICE ufrag/pwd, DTLS role"), the session
// is the single place this negotiation state lives.
func (s *Session) Negotiate(offer string, sessionID, fingerprintAlgo, fingerprintHash string, tracks []TrackDescription, candidates []string) (string, error) {
	remote, err := ParseOffer(offer)
	if err != nil {
		return "", err
	}

	answer, err := BuildAnswer(NegotiationParams{
		SessionID:       sessionID,
		ICEUfrag:        remote.ICEUfrag,
		ICEPwd:          remote.ICEPwd,
		FingerprintAlgo: fingerprintAlgo,
		FingerprintHash: fingerprintHash,
		Candidates:      candidates,
		Tracks:          tracks,
	})
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.remoteSDP = offer
	s.remoteNegotiation = remote
	s.localSDP = answer
	s.mu.Unlock()

	return answer, nil
}

// LocalSDP returns the most recently built local SDP answer, if any.
func (s *Session) LocalSDP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localSDP
}

// RemoteSDP returns the most recently negotiated remote SDP offer, if any.
func (s *Session) RemoteSDP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteSDP
}

// RemoteICECredentials returns the ufrag/pwd parsed out of the
// session's last negotiated remote offer.
func (s *Session) RemoteICECredentials() (ufrag, pwd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteNegotiation.ICEUfrag, s.remoteNegotiation.ICEPwd
}

// AddRecvTrack registers a receive track for ssrc at clockRate, to be
// fed via IngestRTP/IngestRTCP.
func (s *Session) AddRecvTrack(kind TrackKind, ssrc, clockRate uint32) *RecvTrack {
	t := NewRecvTrack(kind, ssrc, clockRate, s.logger)
	s.mu.Lock()
	s.recvTracks[ssrc] = t
	s.mu.Unlock()
	return t
}

// AddSendTrack registers a send track for ssrc, writing protected
// packets through the session's network.
func (s *Session) AddSendTrack(kind TrackKind, ssrc, clockRate uint32) *SendTrack {
	t := NewSendTrack(kind, ssrc, s.transport, s.network, s.logger)
	s.mu.Lock()
	s.sendTracks[ssrc] = t
	s.srClocks[ssrc] = NewSRClock(ssrc, clockRate)
	s.mu.Unlock()
	return t
}

// RecvTrack looks up a receive track by SSRC.
func (s *Session) RecvTrack(ssrc uint32) (*RecvTrack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.recvTracks[ssrc]
	return t, ok
}

// SendTrack looks up a send track by SSRC.
func (s *Session) SendTrack(ssrc uint32) (*SendTrack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.sendTracks[ssrc]
	return t, ok
}

// OnRecvRTP registers fn to run after every inbound packet IngestRTP
// routes to a known receive track, letting a caller downstream of the
// session (e.g. an RTP-to-RTMP bridge feeding a stream.Source) observe
// decoded media without itself owning the unprotect/decode path.
func (s *Session) OnRecvRTP(fn func(kind TrackKind, pkt *mcrtp.Packet)) {
	s.mu.Lock()
	s.onRecvRTP = fn
	s.mu.Unlock()
}

// IngestRTP unprotects and decodes a raw RTP datagram and routes it to
// the matching receive track, dropping it with a log line if the SSRC
// is unknown (§7's "unknown SSRC -> drop" not-found handling).
func (s *Session) IngestRTP(raw []byte, now time.Time) error {
	plain, err := s.transport.UnprotectRTP(raw)
	if err != nil {
		return fmt.Errorf("unprotect rtp: %w", err)
	}

	pkt, err := mcrtp.Decode(plain, mcrtp.IgnorePadding(s.transport.Mode().NeedsSRTP()))
	if err != nil {
		return fmt.Errorf("decode rtp: %w", err)
	}

	if s.transport.Mode().NeedsSRTP() {
		stripped, err := mcrtp.StripPaddingAfterDecrypt(pkt.Payload, pkt.Header.Padding)
		if err != nil {
			return fmt.Errorf("strip padding: %w", err)
		}
		pkt.Payload = stripped
	}

	s.mu.Lock()
	track, ok := s.recvTracks[pkt.Header.SSRC]
	onRecvRTP := s.onRecvRTP
	s.mu.Unlock()
	if !ok {
		s.logger.Debug("rtp for unknown ssrc dropped", "ssrc", pkt.Header.SSRC, "session", s.id)
		return nil
	}

	track.OnRTP(pkt, now)
	if onRecvRTP != nil {
		onRecvRTP(track.Kind(), pkt)
	}
	return nil
}

// IngestRTCP unprotects and parses a raw RTCP datagram, dispatching
// each compound packet to the matching track.
func (s *Session) IngestRTCP(raw []byte) error {
	plain, err := s.transport.UnprotectRTCP(raw)
	if err != nil {
		return fmt.Errorf("unprotect rtcp: %w", err)
	}

	pkts, err := rtcp.Unmarshal(plain)
	if err != nil {
		return fmt.Errorf("unmarshal rtcp: %w", err)
	}

	for _, pkt := range pkts {
		switch p := pkt.(type) {
		case *rtcp.SenderReport:
			s.mu.Lock()
			track := s.recvTracks[p.SSRC]
			s.mu.Unlock()
			if track != nil {
				FeedSenderReport(track, p)
			}
		case *rtcp.TransportLayerNack:
			s.mu.Lock()
			track := s.sendTracks[p.MediaSSRC]
			s.mu.Unlock()
			if track != nil {
				if _, err := track.OnNack(p, true); err != nil {
					s.logger.Warn("nack resend failed", "ssrc", p.MediaSSRC, "error", err)
				}
			}
		case *rtcp.PictureLossIndication:
			s.logger.Debug("pli received", "media_ssrc", p.MediaSSRC, "session", s.id)
		case *rtcp.ReceiverReport:
			s.logger.Debug("receiver report", "ssrc", p.SSRC, "session", s.id)
		}
	}
	return nil
}

// Start launches the session's periodic NACK/Sender-Report pump. Safe
// to call once per session.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.tickLoop()
}

func (s *Session) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.emitNacks(now)
			s.emitSenderReports(now)
		}
	}
}

func (s *Session) emitNacks(now time.Time) {
	s.mu.Lock()
	tracks := make([]*RecvTrack, 0, len(s.recvTracks))
	for _, t := range s.recvTracks {
		tracks = append(tracks, t)
	}
	s.mu.Unlock()

	for _, t := range tracks {
		nack := t.BuildNack(now, t.ssrc)
		if nack == nil {
			continue
		}
		raw, err := nack.Marshal()
		if err != nil {
			s.logger.Warn("marshal nack failed", "error", err)
			continue
		}
		protected, err := s.transport.ProtectRTCP(raw)
		if err != nil {
			s.logger.Warn("protect nack failed", "error", err)
			continue
		}
		if err := s.network.WriteRTP(protected); err != nil {
			s.logger.Warn("write nack failed", "error", err)
		}
	}
}

func (s *Session) emitSenderReports(now time.Time) {
	s.mu.Lock()
	clocks := make(map[uint32]*SRClock, len(s.srClocks))
	for k, v := range s.srClocks {
		clocks[k] = v
	}
	s.mu.Unlock()

	for _, clock := range clocks {
		sr, ok := clock.BuildSenderReport(now)
		if !ok {
			continue
		}
		raw, err := sr.Marshal()
		if err != nil {
			continue
		}
		protected, err := s.transport.ProtectRTCP(raw)
		if err != nil {
			continue
		}
		_ = s.network.WriteRTP(protected)
	}
}

// ObserveSend records a just-sent packet against its track's Sender
// Report clock: the first call seeds the RTP/wall mapping, and every
// call adds to the packet and octet counts the next tick's SR carries.
func (s *Session) ObserveSend(ssrc uint32, hdr pionrtp.Header, payloadLen int, sentAt time.Time) {
	s.mu.Lock()
	clock := s.srClocks[ssrc]
	s.mu.Unlock()
	if clock != nil {
		clock.Observe(sentAt, hdr.Timestamp, payloadLen)
	}
}

// Close stops the session's background loop and waits for it to exit.
// It does not touch the resource manager; callers remove the session's
// Handle separately so subscriber notification order stays under the
// manager's control.
func (s *Session) Close() {
	s.cancel()
	s.wg.Wait()
}
