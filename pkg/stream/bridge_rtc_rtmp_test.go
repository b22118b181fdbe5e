package stream

import (
	"testing"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
)

func newAttachedSource(t *testing.T) (*Source, *recordingConsumer) {
	t.Helper()
	src := NewSource("rtmp://vhost/app/stream", 100, nil)
	consumer := &recordingConsumer{}
	require.NoError(t, src.Attach("viewer", consumer))
	return src, consumer
}

func TestRTCToRTMPBridgePublishesSequenceHeaderThenKeyframe(t *testing.T) {
	src, consumer := newAttachedSource(t)
	b := NewRTCToRTMPBridge(src, VideoCodecAVC, nil)

	sps := []byte{mcrtp.H264NALUSPS, 0x64, 0x00, 0x1F, 0xAA}
	pps := []byte{mcrtp.H264NALUPPS, 0xEB, 0xE3}
	idr := append([]byte{mcrtp.H264NALUIDR}, []byte("idr-payload")...)

	require.NoError(t, b.OnVideoRTP(&pionrtp.Packet{Header: pionrtp.Header{Timestamp: 1000}, Payload: sps}))
	require.NoError(t, b.OnVideoRTP(&pionrtp.Packet{Header: pionrtp.Header{Timestamp: 1000}, Payload: pps}))
	require.NoError(t, b.OnVideoRTP(&pionrtp.Packet{Header: pionrtp.Header{Timestamp: 1000}, Payload: idr}))
	// Next AU flushes the previous one.
	require.NoError(t, b.OnVideoRTP(&pionrtp.Packet{Header: pionrtp.Header{Timestamp: 1100}, Payload: []byte{mcrtp.H264NALUPFrame, 0x01}}))

	frames, _ := consumer.snapshot()
	require.Len(t, frames, 2)
	assert.True(t, frames[0].IsSequenceHeader)
	assert.True(t, frames[1].IsKeyframe)

	vt, err := ParseVideoTag(frames[1].Data)
	require.NoError(t, err)
	assert.Equal(t, VideoPacketTypeNALU, vt.PacketType)
}

func TestRTCToRTMPBridgeReassemblesFUA(t *testing.T) {
	src, consumer := newAttachedSource(t)
	b := NewRTCToRTMPBridge(src, VideoCodecAVC, nil)

	nalu := append([]byte{mcrtp.H264NALUIDR}, make([]byte, 300)...)
	chunks := mcrtp.EncodeFUA(nalu, 100)
	require.Greater(t, len(chunks), 2)

	for _, chunk := range chunks {
		require.NoError(t, b.OnVideoRTP(&pionrtp.Packet{Header: pionrtp.Header{Timestamp: 500}, Payload: chunk}))
	}
	require.NoError(t, b.Close())

	frames, _ := consumer.snapshot()
	require.Len(t, frames, 1)
	assert.True(t, frames[0].IsKeyframe)
}

func TestRTCToRTMPBridgeAudioAACPassthrough(t *testing.T) {
	src, consumer := newAttachedSource(t)
	b := NewRTCToRTMPBridge(src, VideoCodecAVC, nil)

	au := []byte{0x21, 0x10, 0x04, 0x60}
	header := mcrtp.EncodeAACAUHeader(len(au))
	payload := append(append([]byte(nil), header...), au...)

	require.NoError(t, b.OnAudioRTP(&pionrtp.Packet{Header: pionrtp.Header{Timestamp: 960}, Payload: payload}, false))

	_, metadata := consumer.snapshot()
	assert.Empty(t, metadata)
	frames, _ := consumer.snapshot()
	require.Len(t, frames, 1)
	at, err := ParseAudioTag(frames[0].Data)
	require.NoError(t, err)
	assert.Equal(t, AudioPacketTypeRaw, at.PacketType)
	assert.Equal(t, au, at.Payload)
}

func TestRTCToRTMPBridgeAudioADTSEmitsSequenceHeaderOnce(t *testing.T) {
	src, consumer := newAttachedSource(t)
	b := NewRTCToRTMPBridge(src, VideoCodecAVC, nil)

	payload := []byte{0x11, 0x22, 0x33}
	frameLength := 7 + len(payload)
	adts := make([]byte, 7)
	adts[0] = 0xFF
	adts[1] = 0xF1
	adts[2] = (1 << 6) | (4 << 2)
	adts[3] = byte(frameLength >> 11)
	adts[4] = byte(frameLength >> 3)
	adts[5] = byte(frameLength<<5) & 0xE0
	adts[6] = 0xFC
	frame := append(adts, payload...)

	data := append(append([]byte(nil), frame...), frame...)
	require.NoError(t, b.OnAudioRTP(&pionrtp.Packet{Payload: data}, true))

	frames, _ := consumer.snapshot()
	require.Len(t, frames, 3, "one sequence header + two raw AAC frames")
	assert.True(t, frames[0].IsSequenceHeader)
	assert.False(t, frames[1].IsSequenceHeader)
	assert.False(t, frames[2].IsSequenceHeader)
}

func TestRTCToRTMPBridgePublishAnnexBAccessUnit(t *testing.T) {
	src, consumer := newAttachedSource(t)
	b := NewRTCToRTMPBridge(src, VideoCodecAVC, nil)

	sps := []byte{mcrtp.H264NALUSPS, 0x64, 0x00, 0x1F, 0xAA}
	pps := []byte{mcrtp.H264NALUPPS, 0xEB, 0xE3}
	idr := append([]byte{mcrtp.H264NALUIDR}, []byte("idr-payload")...)

	var annexB []byte
	for _, nalu := range [][]byte{sps, pps, idr} {
		annexB = append(annexB, 0x00, 0x00, 0x00, 0x01)
		annexB = append(annexB, nalu...)
	}

	require.NoError(t, b.PublishAnnexBAccessUnit(2000, annexB))

	frames, _ := consumer.snapshot()
	require.Len(t, frames, 2)
	assert.True(t, frames[0].IsSequenceHeader)
	assert.True(t, frames[1].IsKeyframe)
	assert.Equal(t, uint32(2000), frames[1].Timestamp)
}

func TestRTCToRTMPBridgePublishADTSAudio(t *testing.T) {
	src, consumer := newAttachedSource(t)
	b := NewRTCToRTMPBridge(src, VideoCodecAVC, nil)

	payload := []byte{0x11, 0x22, 0x33}
	frameLength := 7 + len(payload)
	adts := make([]byte, 7)
	adts[0] = 0xFF
	adts[1] = 0xF1
	adts[2] = (1 << 6) | (4 << 2)
	adts[3] = byte(frameLength >> 11)
	adts[4] = byte(frameLength >> 3)
	adts[5] = byte(frameLength<<5) & 0xE0
	adts[6] = 0xFC
	frame := append(adts, payload...)

	require.NoError(t, b.PublishADTSAudio(960, frame))

	frames, _ := consumer.snapshot()
	require.Len(t, frames, 2, "sequence header + one raw AAC frame")
	assert.True(t, frames[0].IsSequenceHeader)
	assert.Equal(t, uint32(960), frames[1].Timestamp)
}
