// Package httpremux serves the stream.Source pub/sub fan-out this
// module already builds for RTC/RTMP as plain HTTP byte streams: FLV,
// MPEG-TS, ADTS AAC, and MP3, each mounted dynamically on first
// request and backed by a per-stream buffer cache.
package httpremux

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/ringcast/mediacore/pkg/stream"
)

// guessBurstSize bounds how many frames FLVMuxer buffers while
// guessing the header's hasAudio/hasVideo flags, per spec.md §4.9's
// "scan the initial burst" wording — a stream that somehow never
// carries both kinds still flushes its header once this many frames
// have queued, rather than buffering forever.
const guessBurstSize = 32

// FLVMuxer is a stream.Consumer that serializes one source's frames as
// an HTTP-FLV byte stream.
type FLVMuxer struct {
	w io.Writer

	mu           sync.Mutex
	wroteHeader  bool
	guessHasAV   bool
	hasAudio     bool
	hasVideo     bool
	guessBuffer  []*stream.Frame
	guessPending bool
}

// NewFLVMuxer creates a muxer writing to w. When guessHasAV is true
// the header's audio/video present flags are decided by scanning the
// initial burst of frames rather than assuming both are present.
func NewFLVMuxer(w io.Writer, guessHasAV bool) *FLVMuxer {
	m := &FLVMuxer{w: w, guessHasAV: guessHasAV}
	if guessHasAV {
		m.guessPending = true
	} else {
		m.hasAudio, m.hasVideo = true, true
	}
	return m
}

// DeliverMetadata writes data as an FLV script-data tag (type 18).
func (m *FLVMuxer) DeliverMetadata(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureHeaderLocked(); err != nil {
		return err
	}
	return m.writeTagLocked(18, 0, data)
}

// DeliverFrame writes f as an FLV audio (type 8) or video (type 9) tag,
// buffering the initial burst first if still guessing hasAudio/hasVideo.
func (m *FLVMuxer) DeliverFrame(f *stream.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f.Kind == stream.FrameAudio {
		m.hasAudio = true
	} else {
		m.hasVideo = true
	}

	if m.guessPending {
		m.guessBuffer = append(m.guessBuffer, f)
		if !(m.hasAudio && m.hasVideo) && len(m.guessBuffer) < guessBurstSize {
			return nil
		}
		m.guessPending = false
		if err := m.ensureHeaderLocked(); err != nil {
			return err
		}
		for _, buffered := range m.guessBuffer {
			if err := m.writeFrameTagLocked(buffered); err != nil {
				return err
			}
		}
		m.guessBuffer = nil
		return nil
	}

	if err := m.ensureHeaderLocked(); err != nil {
		return err
	}
	return m.writeFrameTagLocked(f)
}

func (m *FLVMuxer) writeFrameTagLocked(f *stream.Frame) error {
	tagType := byte(9)
	if f.Kind == stream.FrameAudio {
		tagType = 8
	}
	return m.writeTagLocked(tagType, f.Timestamp, f.Data)
}

func (m *FLVMuxer) ensureHeaderLocked() error {
	if m.wroteHeader {
		return nil
	}
	flags := byte(0)
	if m.hasAudio {
		flags |= 0x04
	}
	if m.hasVideo {
		flags |= 0x01
	}
	header := []byte{'F', 'L', 'V', 1, flags, 0, 0, 0, 9, 0, 0, 0, 0}
	if _, err := m.w.Write(header); err != nil {
		return fmt.Errorf("httpremux: write flv header: %w", err)
	}
	m.wroteHeader = true
	return nil
}

func (m *FLVMuxer) writeTagLocked(tagType byte, timestamp uint32, data []byte) error {
	var tag [11]byte
	tag[0] = tagType
	tag[1] = byte(len(data) >> 16)
	tag[2] = byte(len(data) >> 8)
	tag[3] = byte(len(data))
	tag[4] = byte(timestamp >> 16)
	tag[5] = byte(timestamp >> 8)
	tag[6] = byte(timestamp)
	tag[7] = byte(timestamp >> 24)
	// tag[8:11] stream id, always 0.

	if _, err := m.w.Write(tag[:]); err != nil {
		return fmt.Errorf("httpremux: write flv tag header: %w", err)
	}
	if _, err := m.w.Write(data); err != nil {
		return fmt.Errorf("httpremux: write flv tag data: %w", err)
	}
	var prevSize [4]byte
	binary.BigEndian.PutUint32(prevSize[:], uint32(11+len(data)))
	if _, err := m.w.Write(prevSize[:]); err != nil {
		return fmt.Errorf("httpremux: write flv previous-tag-size: %w", err)
	}
	return nil
}
