package gb28181

import (
	"sync"

	"github.com/ringcast/mediacore/pkg/ring"
	"github.com/ringcast/mediacore/pkg/stream"

	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
)

// SessionStats mirrors the per-media_id counters a PS pack accumulates
// before being flushed into the running session totals.
type SessionStats struct {
	Packs, Msgs, Recovered, Dropped, Reserved uint64
}

// Muxer groups parsed PS elementary-stream messages into the frames a
// stream.Source expects: each message passes through an
// ring.MpegpsQueue A/V-sync gate first (so playback doesn't start
// skewed while only one of audio/video has buffered), then consecutive
// video messages belonging to the same pack are grouped into one
// access unit while audio is forwarded message-by-message, per
// spec.md §4.8.
type Muxer struct {
	queue  *ring.MpegpsQueue
	bridge *stream.RTCToRTMPBridge

	mu              sync.Mutex
	started         bool
	currentMediaID  string
	totals          SessionStats
	current         SessionStats
	pendingVideo    []byte
	pendingVideoTS  int64
}

// NewMuxer creates a muxer publishing into source via a GB28181-facing
// bridge for the given video codec ("avc"/"hevc").
func NewMuxer(source *stream.Source, videoCodec string) *Muxer {
	return &Muxer{
		queue:  ring.NewMpegpsQueue(),
		bridge: stream.NewRTCToRTMPBridge(source, videoCodec, nil),
	}
}

// HandleMessage records mediaID's pack-level statistics, pushes msg
// into the A/V-sync gate, and drains whatever the gate now allows
// through to the downstream grouping/bridge step.
func (m *Muxer) HandleMessage(mediaID string, msg ParsedMessage, parserStats RecoveryStats) error {
	m.mu.Lock()
	m.recordStatsLocked(mediaID, parserStats)
	m.mu.Unlock()

	m.queue.Push(&ring.MediaPacket{TimestampMs: msg.TimestampMs, Kind: msg.Kind, Payload: msg.Payload})

	for {
		pkt, ok := m.queue.Dequeue()
		if !ok {
			return nil
		}
		if err := m.deliverLocked(pkt); err != nil {
			return err
		}
	}
}

// recordStatsLocked flushes the previous media_id's accumulated stats
// into the session totals whenever a new media_id (a new PS pack) is
// observed, then folds parserStats' latest absolute counters into the
// pack now current.
func (m *Muxer) recordStatsLocked(mediaID string, parserStats RecoveryStats) {
	if m.started && mediaID != m.currentMediaID {
		m.current.Packs = 1
		m.totals.Packs += m.current.Packs
		m.totals.Msgs += m.current.Msgs
		m.totals.Recovered += m.current.Recovered
		m.totals.Dropped += m.current.Dropped
		m.totals.Reserved += m.current.Reserved
		m.current = SessionStats{}
	}
	m.currentMediaID = mediaID
	m.started = true

	m.current.Msgs++
	m.current.Recovered = parserStats.MediaRecovered
	m.current.Dropped = parserStats.MsgsDropped
}

// deliverLocked forwards one dequeued, sync-gated packet: audio
// one-at-a-time, video accumulated until the timestamp changes (i.e.
// the pack's access unit boundary), then flushed as one access unit.
func (m *Muxer) deliverLocked(pkt *ring.MediaPacket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch pkt.Kind {
	case mcrtp.FrameTypeAudio:
		if err := m.flushVideoLocked(); err != nil {
			return err
		}
		return m.bridge.PublishADTSAudio(uint32(pkt.TimestampMs), pkt.Payload)
	case mcrtp.FrameTypeVideo:
		if len(m.pendingVideo) > 0 && pkt.TimestampMs != m.pendingVideoTS {
			if err := m.flushVideoLocked(); err != nil {
				return err
			}
		}
		m.pendingVideo = append(m.pendingVideo, pkt.Payload...)
		m.pendingVideoTS = pkt.TimestampMs
	}
	return nil
}

func (m *Muxer) flushVideoLocked() error {
	if len(m.pendingVideo) == 0 {
		return nil
	}
	err := m.bridge.PublishAnnexBAccessUnit(uint32(m.pendingVideoTS), m.pendingVideo)
	m.pendingVideo = nil
	return err
}

// Stats returns the running session totals plus whatever the current,
// not-yet-flushed pack has accumulated so far.
func (m *Muxer) Stats() SessionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SessionStats{
		Packs:     m.totals.Packs + m.current.Packs,
		Msgs:      m.totals.Msgs + m.current.Msgs,
		Recovered: m.totals.Recovered + m.current.Recovered,
		Dropped:   m.totals.Dropped + m.current.Dropped,
		Reserved:  m.totals.Reserved + m.current.Reserved,
	}
}
