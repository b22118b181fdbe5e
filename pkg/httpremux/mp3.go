package httpremux

import (
	"fmt"
	"io"

	"github.com/ringcast/mediacore/pkg/stream"
)

// MP3Muxer is an audio-only HTTP remux consumer emitting raw MP3
// frames; video and metadata are silently dropped per spec.md §4.9.
type MP3Muxer struct {
	w io.Writer
}

// NewMP3Muxer creates a muxer writing raw MP3 frames to w.
func NewMP3Muxer(w io.Writer) *MP3Muxer { return &MP3Muxer{w: w} }

// DeliverMetadata drops metadata: a raw MP3 stream has no container to carry it.
func (m *MP3Muxer) DeliverMetadata(data []byte) error { return nil }

// DeliverFrame drops video/AAC and writes the raw MP3 payload of any
// MP3-coded audio frame.
func (m *MP3Muxer) DeliverFrame(f *stream.Frame) error {
	if f.Kind != stream.FrameAudio {
		return nil
	}
	at, err := stream.ParseAudioTag(f.Data)
	if err != nil {
		return fmt.Errorf("httpremux: parse audio tag: %w", err)
	}
	if at.Codec != stream.AudioCodecMP3 {
		return nil
	}
	if _, err := m.w.Write(at.Payload); err != nil {
		return fmt.Errorf("httpremux: write mp3 frame: %w", err)
	}
	return nil
}
