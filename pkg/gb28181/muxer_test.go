package gb28181

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
	"github.com/ringcast/mediacore/pkg/stream"
)

type recordingConsumer struct {
	mu     sync.Mutex
	frames []*stream.Frame
}

func (c *recordingConsumer) DeliverFrame(f *stream.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *recordingConsumer) DeliverMetadata(data []byte) error { return nil }

func (c *recordingConsumer) snapshot() []*stream.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*stream.Frame(nil), c.frames...)
}

func newTestMuxer(t *testing.T) (*Muxer, *recordingConsumer) {
	t.Helper()
	src := stream.NewSource("gb28181://device/1", 50, nil)
	consumer := &recordingConsumer{}
	require.NoError(t, src.Attach("viewer", consumer))
	return NewMuxer(src, stream.VideoCodecAVC), consumer
}

func adtsFrame(payload []byte) []byte {
	frameLength := 7 + len(payload)
	adts := make([]byte, 7)
	adts[0] = 0xFF
	adts[1] = 0xF1
	adts[2] = (1 << 6) | (4 << 2)
	adts[3] = byte(frameLength >> 11)
	adts[4] = byte(frameLength >> 3)
	adts[5] = byte(frameLength<<5) & 0xE0
	adts[6] = 0xFC
	return append(adts, payload...)
}

// TestMuxerGatesOnAVSyncBeforeDelivering verifies the underlying
// ring.MpegpsQueue's "≥2 video ∧ ≥2 audio" gate holds off delivery
// until both elementary streams have buffered enough to avoid skew.
func TestMuxerGatesOnAVSyncBeforeDelivering(t *testing.T) {
	m, consumer := newTestMuxer(t)

	sps := []byte{mcrtp.H264NALUSPS, 0x64, 0x00, 0x1F, 0xAA}
	pps := []byte{mcrtp.H264NALUPPS, 0xEB, 0xE3}
	var annexBAU1 []byte
	for _, nalu := range [][]byte{sps, pps, append([]byte{mcrtp.H264NALUIDR}, "frame1"...)} {
		annexBAU1 = append(annexBAU1, 0, 0, 0, 1)
		annexBAU1 = append(annexBAU1, nalu...)
	}

	require.NoError(t, m.HandleMessage("1000", ParsedMessage{Kind: mcrtp.FrameTypeVideo, TimestampMs: 1000, Payload: annexBAU1}, RecoveryStats{}))
	assert.Empty(t, consumer.snapshot(), "only one video buffered so far, gate must hold")

	require.NoError(t, m.HandleMessage("1000", ParsedMessage{Kind: mcrtp.FrameTypeAudio, TimestampMs: 1000, Payload: adtsFrame([]byte{0x01})}, RecoveryStats{}))
	assert.Empty(t, consumer.snapshot(), "only one audio buffered so far, gate must hold")

	var annexBAU2 []byte
	annexBAU2 = append(annexBAU2, 0, 0, 0, 1)
	annexBAU2 = append(annexBAU2, mcrtp.H264NALUPFrame, 0x02)
	require.NoError(t, m.HandleMessage("2000", ParsedMessage{Kind: mcrtp.FrameTypeVideo, TimestampMs: 1040, Payload: annexBAU2}, RecoveryStats{}))

	require.NoError(t, m.HandleMessage("2000", ParsedMessage{Kind: mcrtp.FrameTypeAudio, TimestampMs: 1040, Payload: adtsFrame([]byte{0x02})}, RecoveryStats{}))

	frames := consumer.snapshot()
	require.NotEmpty(t, frames, "gate opens once 2 video + 2 audio are buffered")
}

func TestMuxerFlushesStatsOnNewMediaID(t *testing.T) {
	m, _ := newTestMuxer(t)

	require.NoError(t, m.HandleMessage("pack-1", ParsedMessage{Kind: mcrtp.FrameTypeVideo, TimestampMs: 0, Payload: []byte{mcrtp.H264NALUPFrame}}, RecoveryStats{MediaRecovered: 1}))
	require.NoError(t, m.HandleMessage("pack-2", ParsedMessage{Kind: mcrtp.FrameTypeVideo, TimestampMs: 40, Payload: []byte{mcrtp.H264NALUPFrame}}, RecoveryStats{MediaRecovered: 1, MsgsDropped: 2}))

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.Packs, "first pack's stats were flushed when pack-2 started")
	assert.Equal(t, uint64(2), stats.Msgs)
}
