package stream

import (
	"sync"
	"testing"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
)

type recordingSender struct {
	mu      sync.Mutex
	sent    []pionrtp.Header
	payload [][]byte
}

func (s *recordingSender) Send(hdr pionrtp.Header, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, hdr)
	s.payload = append(s.payload, append([]byte(nil), payload...))
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestRTMPToRTCBridgeSkipsSequenceHeaders(t *testing.T) {
	video := &recordingSender{}
	b := NewRTMPToRTCBridge(VideoCodecAVC, 96, 111, video, nil, nil)

	tag, err := BuildVideoTag(VideoCodecAVC, VideoFrameTypeKey, VideoPacketTypeSequenceHeader, []byte("seqhdr"))
	require.NoError(t, err)

	require.NoError(t, b.DeliverFrame(&Frame{Kind: FrameVideo, IsSequenceHeader: true, Data: tag}))
	assert.Equal(t, 0, video.count())
}

func TestRTMPToRTCBridgePacketizesSmallNALUAsSinglePacket(t *testing.T) {
	video := &recordingSender{}
	b := NewRTMPToRTCBridge(VideoCodecAVC, 96, 111, video, nil, nil)

	nalu := append([]byte{mcrtp.H264NALUIDR}, []byte("payload")...)
	var lengthPrefixed []byte
	lengthPrefixed = appendLengthPrefixed(lengthPrefixed, nalu)

	tag, err := BuildVideoTag(VideoCodecAVC, VideoFrameTypeKey, VideoPacketTypeNALU, lengthPrefixed)
	require.NoError(t, err)

	require.NoError(t, b.DeliverFrame(&Frame{Kind: FrameVideo, Timestamp: 4500, Data: tag}))
	require.Equal(t, 1, video.count())
	assert.True(t, video.sent[0].Marker)
	assert.Equal(t, uint32(4500), video.sent[0].Timestamp)
	assert.Equal(t, uint8(96), video.sent[0].PayloadType)
}

func TestRTMPToRTCBridgeFragmentsLargeNALUIntoMultiplePackets(t *testing.T) {
	video := &recordingSender{}
	b := NewRTMPToRTCBridge(VideoCodecAVC, 96, 111, video, nil, nil)

	nalu := append([]byte{mcrtp.H264NALUIDR}, make([]byte, 3000)...)
	var lengthPrefixed []byte
	lengthPrefixed = appendLengthPrefixed(lengthPrefixed, nalu)

	tag, err := BuildVideoTag(VideoCodecAVC, VideoFrameTypeKey, VideoPacketTypeNALU, lengthPrefixed)
	require.NoError(t, err)

	require.NoError(t, b.DeliverFrame(&Frame{Kind: FrameVideo, Timestamp: 100, Data: tag}))
	assert.Greater(t, video.count(), 1)
	assert.True(t, video.sent[video.count()-1].Marker, "only the last fragment carries the marker bit")
	assert.False(t, video.sent[0].Marker)
}

func TestRTMPToRTCBridgeAudioRebuildsAUHeader(t *testing.T) {
	audio := &recordingSender{}
	b := NewRTMPToRTCBridge(VideoCodecAVC, 96, 111, nil, audio, nil)

	rawAAC := []byte{0xAA, 0xBB, 0xCC}
	tag, err := BuildAudioTag(AudioCodecAAC, AudioPacketTypeRaw, rawAAC)
	require.NoError(t, err)

	require.NoError(t, b.DeliverFrame(&Frame{Kind: FrameAudio, Timestamp: 960, Data: tag}))
	require.Equal(t, 1, audio.count())

	aus, err := mcrtp.DecodeAACAUs(audio.payload[0])
	require.NoError(t, err)
	require.Len(t, aus, 1)
	assert.Equal(t, rawAAC, aus[0])
}

func TestRTMPToRTCBridgeDeliverMetadataIsNoop(t *testing.T) {
	b := NewRTMPToRTCBridge(VideoCodecAVC, 96, 111, nil, nil, nil)
	assert.NoError(t, b.DeliverMetadata([]byte("onMetaData")))
}
