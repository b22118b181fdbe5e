package stream

import (
	"fmt"
	"log/slog"
	"sync"
)

// FrameKind distinguishes video from audio within a GOP cache; metadata
// is tracked separately since it has no timestamp/keyframe semantics.
type FrameKind int

const (
	FrameVideo FrameKind = iota
	FrameAudio
)

// Frame is one publish unit flowing through a Source: an already
// RTMP-tag-encoded video or audio payload (see BuildVideoTag/
// BuildAudioTag), tagged with enough metadata for GOP caching and
// sequence-header replay to key off of.
type Frame struct {
	Kind             FrameKind
	Timestamp        uint32
	Data             []byte
	IsKeyframe       bool
	IsSequenceHeader bool
}

// Consumer receives frames fanned out by a Source: a live viewer
// (WebRTC send track, HTTP-FLV mount) or a format bridge
// (bridge_rtmp_rtc.go). DeliverMetadata/DeliverFrame are called
// synchronously from Publish/Attach; a Consumer that cannot keep up
// should implement TryConsumer instead of blocking the fan-out loop.
type Consumer interface {
	DeliverFrame(f *Frame) error
	DeliverMetadata(data []byte) error
}

// TryConsumer is the non-blocking counterpart a Consumer may also
// implement, mirroring the teacher's TrySendMessage backpressure
// escape hatch: return false instead of blocking when the consumer's
// outbound queue is full, and the frame is dropped rather than stalling
// every other consumer behind a slow one.
type TryConsumer interface {
	TryDeliverFrame(f *Frame) bool
}

// Source is a single-publisher, many-consumer in-memory stream: it
// caches the most recent sequence headers and metadata plus the GOP
// since the last keyframe, so a newly attached consumer can catch up
// before joining the live fan-out, per the attach-then-replay
// invariant (cached sequence headers always precede any live frame).
type Source struct {
	logger    *slog.Logger
	streamURL string

	mu              sync.Mutex
	videoSeqHeader  *Frame
	audioSeqHeader  *Frame
	metadata        []byte
	gop             []*Frame
	maxGOPFrames    int
	consumers       map[string]Consumer
	droppedOverflow uint64
	droppedSlow     uint64
}

// NewSource creates a stream source for streamURL with a GOP cache
// bounded to maxGOPFrames frames, the opening keyframe included.
func NewSource(streamURL string, maxGOPFrames int, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		logger:       logger.With("component", "source", "stream", streamURL),
		streamURL:    streamURL,
		maxGOPFrames: maxGOPFrames,
		consumers:    make(map[string]Consumer),
	}
}

// StreamURL returns the source's identifying URL.
func (s *Source) StreamURL() string { return s.streamURL }

// SetMetadata caches onMetaData-equivalent bytes and fans it out live
// to every currently attached consumer.
func (s *Source) SetMetadata(data []byte) {
	s.mu.Lock()
	s.metadata = data
	consumers := s.snapshotConsumersLocked()
	s.mu.Unlock()

	for id, c := range consumers {
		if err := c.DeliverMetadata(data); err != nil {
			s.logger.Warn("metadata delivery failed", "consumer", id, "error", err)
		}
	}
}

// Publish inserts f into the GOP cache (when applicable) and fans it
// out to every attached consumer in arrival order.
func (s *Source) Publish(f *Frame) {
	s.mu.Lock()
	switch {
	case f.IsSequenceHeader:
		switch f.Kind {
		case FrameVideo:
			s.videoSeqHeader = f
		case FrameAudio:
			s.audioSeqHeader = f
		}
	case f.Kind == FrameVideo && f.IsKeyframe:
		// A new keyframe starts a fresh GOP window; anything cached
		// from the previous one is no longer "last keyframe onward".
		s.gop = []*Frame{f}
	case len(s.gop) > 0:
		// Only accumulate once a keyframe has opened the window —
		// frames arriving before the first keyframe can't be replayed
		// correctly to a late-attaching consumer, so they're fanned
		// out live only.
		if len(s.gop) < s.maxGOPFrames {
			s.gop = append(s.gop, f)
		} else {
			s.droppedOverflow++
		}
	}
	consumers := s.snapshotConsumersLocked()
	s.mu.Unlock()

	for id, c := range consumers {
		s.deliverOne(id, c, f)
	}
}

func (s *Source) deliverOne(id string, c Consumer, f *Frame) {
	if tc, ok := c.(TryConsumer); ok {
		if !tc.TryDeliverFrame(f) {
			s.mu.Lock()
			s.droppedSlow++
			s.mu.Unlock()
			s.logger.Debug("dropped frame for slow consumer", "consumer", id)
		}
		return
	}
	if err := c.DeliverFrame(f); err != nil {
		s.logger.Warn("frame delivery failed", "consumer", id, "error", err)
	}
}

func (s *Source) snapshotConsumersLocked() map[string]Consumer {
	out := make(map[string]Consumer, len(s.consumers))
	for id, c := range s.consumers {
		out[id] = c
	}
	return out
}

// Attach registers a new consumer and replays the cached sequence
// headers, metadata, then the current GOP to it before it can observe
// any live frame — the whole operation runs under the source lock so
// no Publish can interleave between the catch-up replay and
// registration, which is what guarantees the ordering invariant.
func (s *Source) Attach(id string, c Consumer) error {
	if id == "" {
		return fmt.Errorf("stream source: consumer id must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.consumers[id]; exists {
		return fmt.Errorf("stream source: consumer %q already attached", id)
	}

	if s.videoSeqHeader != nil {
		if err := c.DeliverFrame(s.videoSeqHeader); err != nil {
			return fmt.Errorf("replay video sequence header: %w", err)
		}
	}
	if s.audioSeqHeader != nil {
		if err := c.DeliverFrame(s.audioSeqHeader); err != nil {
			return fmt.Errorf("replay audio sequence header: %w", err)
		}
	}
	if s.metadata != nil {
		if err := c.DeliverMetadata(s.metadata); err != nil {
			return fmt.Errorf("replay metadata: %w", err)
		}
	}
	for _, f := range s.gop {
		if err := c.DeliverFrame(f); err != nil {
			return fmt.Errorf("replay gop: %w", err)
		}
	}

	s.consumers[id] = c
	s.logger.Debug("consumer attached", "consumer", id, "gop_frames", len(s.gop))
	return nil
}

// Detach removes a consumer; subsequent Publish calls no longer reach it.
func (s *Source) Detach(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.consumers, id)
	s.logger.Debug("consumer detached", "consumer", id)
}

// SourceStats reports the source's running counters for the API's
// streams facet.
type SourceStats struct {
	GOPFrames       int
	Consumers       int
	DroppedOverflow uint64
	DroppedSlow     uint64
}

// Stats snapshots the source's counters.
func (s *Source) Stats() SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SourceStats{
		GOPFrames:       len(s.gop),
		Consumers:       len(s.consumers),
		DroppedOverflow: s.droppedOverflow,
		DroppedSlow:     s.droppedSlow,
	}
}
