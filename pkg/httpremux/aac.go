package httpremux

import (
	"fmt"
	"io"
	"sync"

	"github.com/ringcast/mediacore/pkg/stream"
)

// AACMuxer is an audio-only HTTP remux consumer: it emits a 7-byte
// ADTS header plus the raw AAC frame for every audio tag, and silently
// drops video and metadata per spec.md §4.9.
type AACMuxer struct {
	w io.Writer

	mu     sync.Mutex
	config []byte
}

// NewAACMuxer creates a muxer writing ADTS-framed AAC to w.
func NewAACMuxer(w io.Writer) *AACMuxer { return &AACMuxer{w: w} }

// DeliverMetadata drops metadata: an audio-only ES has no container to carry it.
func (m *AACMuxer) DeliverMetadata(data []byte) error { return nil }

// DeliverFrame drops video, caches the AAC sequence header, and writes
// an ADTS-wrapped raw frame for everything else.
func (m *AACMuxer) DeliverFrame(f *stream.Frame) error {
	if f.Kind != stream.FrameAudio {
		return nil
	}
	at, err := stream.ParseAudioTag(f.Data)
	if err != nil {
		return fmt.Errorf("httpremux: parse audio tag: %w", err)
	}
	if at.Codec != stream.AudioCodecAAC {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if at.PacketType == stream.AudioPacketTypeSequenceHeader {
		m.config = at.Payload
		return nil
	}

	adts := wrapADTS(at.Payload, m.config)
	if _, err := m.w.Write(adts); err != nil {
		return fmt.Errorf("httpremux: write adts frame: %w", err)
	}
	return nil
}
