package rtcsession

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtcp"
	pionrtp "github.com/pion/rtp"

	mcring "github.com/ringcast/mediacore/pkg/ring"
	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
	mcsec "github.com/ringcast/mediacore/pkg/security"
)

// TrackKind distinguishes audio from video tracks for codec/clock-rate
// bookkeeping, mirroring the teacher's separate video/audio fields.
type TrackKind int

const (
	TrackVideo TrackKind = iota
	TrackAudio
)

func (k TrackKind) String() string {
	if k == TrackAudio {
		return "audio"
	}
	return "video"
}

// RTPWriter is the transport a track hands its protected packets to —
// satisfied by a UDP send-cache entry, a framed TCP session, or (in
// tests) anything recording writes.
type RTPWriter interface {
	WriteRTP(pkt []byte) error
}

// RecvTrack ingests RTP for one SSRC: it stores packets in a
// retransmission ring, drives a NACK generator over the loss it
// observes, and feeds each Sender Report it sees to an SRAccumulator
// so callers can read back an AV-sync timestamp per packet.
type RecvTrack struct {
	kind   TrackKind
	ssrc   uint32
	logger *slog.Logger

	ring *mcring.Ring
	nack *mcring.Generator
	sync *mcring.SRAccumulator

	mu       sync.Mutex
	seqCorr  *mcrtp.SeqCorrector
	received uint64
	lost     uint64
}

// NewRecvTrack creates a receive track for ssrc at the given RTP
// clock rate (90000 video, 48000/8000 audio depending on codec).
func NewRecvTrack(kind TrackKind, ssrc uint32, clockRate uint32, logger *slog.Logger) *RecvTrack {
	return &RecvTrack{
		kind:    kind,
		ssrc:    ssrc,
		logger:  logger,
		ring:    mcring.NewRing(mcring.DefaultCapacity),
		nack:    mcring.NewGenerator(mcring.DefaultNackConfig()),
		sync:    mcring.NewSRAccumulator(clockRate),
		seqCorr: mcrtp.NewSeqCorrector(0),
	}
}

// SSRC returns the track's synchronization source identifier.
func (t *RecvTrack) SSRC() uint32 { return t.ssrc }

// Kind reports whether this track carries audio or video.
func (t *RecvTrack) Kind() TrackKind { return t.kind }

// OnRTP records an inbound, already-decrypted packet: it jitter-
// corrects the sequence number, stores the packet for retransmission,
// feeds the NACK generator, and stamps AVSyncMs if a mapping is ready.
func (t *RecvTrack) OnRTP(pkt *mcrtp.Packet, now time.Time) {
	t.mu.Lock()
	corrected := t.seqCorr.Correct(pkt.Header.SequenceNumber)
	t.received++
	t.mu.Unlock()

	pkt.Header.SequenceNumber = corrected
	t.ring.Set(corrected, pkt)
	t.nack.OnRTP(corrected, now)

	if ms, ok := t.sync.AVSyncMs(pkt.Header.Timestamp); ok {
		pkt.AVSyncMs = ms
	}
}

// OnSenderReport records a Sender Report's {NTP, RTP ts} pair for
// AV-sync derivation.
func (t *RecvTrack) OnSenderReport(ntp mcrtp.NTPTime, rtpTS uint32) {
	t.sync.AddSR(mcring.SenderReportSample{NTP: ntp, RTPTS: rtpTS})
}

// BuildNack evaluates the NACK timer gates and, if anything is due,
// returns a ready-to-send TransportLayerNack RTCP packet.
func (t *RecvTrack) BuildNack(now time.Time, senderSSRC uint32) *rtcp.TransportLayerNack {
	lost := t.nack.Tick(now)
	if len(lost) == 0 {
		return nil
	}
	return mcring.EncodeNack(senderSSRC, t.ssrc, lost)
}

// Stats reports received/lost counters for the clients/streams API facets.
func (t *RecvTrack) Stats() (received, lost uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.received, t.nack.TimeoutNacks()
}

// SendTrack emits RTP for one outbound SSRC, keeping the most recent
// packets in a ring so a TransportLayerNack received from the peer
// can be resolved into a retransmission without re-deriving state.
type SendTrack struct {
	kind   TrackKind
	ssrc   uint32
	logger *slog.Logger

	ring      *mcring.Ring
	transport *mcsec.Transport
	writer    RTPWriter

	mu     sync.Mutex
	seqNum uint16
}

// NewSendTrack creates a send track for ssrc, protecting outbound
// packets with transport and delivering them through writer.
func NewSendTrack(kind TrackKind, ssrc uint32, transport *mcsec.Transport, writer RTPWriter, logger *slog.Logger) *SendTrack {
	return &SendTrack{
		kind:      kind,
		ssrc:      ssrc,
		logger:    logger,
		ring:      mcring.NewRing(mcring.DefaultCapacity),
		transport: transport,
		writer:    writer,
	}
}

// SSRC returns the track's synchronization source identifier.
func (t *SendTrack) SSRC() uint32 { return t.ssrc }

// Send packetizes and writes hdr+payload, stamping the next sequence
// number and keeping a copy in the retransmission ring.
func (t *SendTrack) Send(hdr pionrtp.Header, payload []byte) error {
	t.mu.Lock()
	hdr.SequenceNumber = t.seqNum
	t.seqNum++
	t.mu.Unlock()

	hdr.SSRC = t.ssrc
	raw, err := (&pionrtp.Packet{Header: hdr, Payload: payload}).Marshal()
	if err != nil {
		return err
	}

	t.ring.Set(hdr.SequenceNumber, &mcrtp.Packet{Header: hdr, Payload: payload})

	protected, err := t.transport.ProtectRTP(raw)
	if err != nil {
		return err
	}
	return t.writer.WriteRTP(protected)
}

// OnNack resends every sequence number named in the peer's NACK that
// is still present in the ring. A nack_no_copy resend takes ownership
// of (and clears) the ring slot instead of copying it, matching
// spec.md §4.2's single-allocation retransmission path.
func (t *SendTrack) OnNack(pkt *rtcp.TransportLayerNack, noCopy bool) (resent int, err error) {
	for _, seq := range mcring.DecodeNack(pkt) {
		var stored *mcrtp.Packet
		if noCopy {
			stored = t.ring.Take(seq)
		} else {
			stored = t.ring.FetchExact(seq)
		}
		if stored == nil {
			continue
		}

		raw, merr := (&pionrtp.Packet{Header: stored.Header, Payload: stored.Payload}).Marshal()
		if merr != nil {
			err = merr
			continue
		}
		protected, perr := t.transport.ProtectRTP(raw)
		if perr != nil {
			err = perr
			continue
		}
		if werr := t.writer.WriteRTP(protected); werr != nil {
			err = werr
			continue
		}
		resent++
	}
	return resent, err
}
