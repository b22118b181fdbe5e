package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVideoTagAVCSequenceHeader(t *testing.T) {
	raw := []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0xAA, 0xBB}
	vt, err := ParseVideoTag(raw)
	require.NoError(t, err)
	assert.Equal(t, VideoCodecAVC, vt.Codec)
	assert.Equal(t, VideoFrameTypeKey, vt.FrameType)
	assert.Equal(t, VideoPacketTypeSequenceHeader, vt.PacketType)
	assert.Equal(t, []byte{0xAA, 0xBB}, vt.Payload)
}

func TestParseVideoTagHEVCNALU(t *testing.T) {
	raw := []byte{0x2C, 0x01, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03}
	vt, err := ParseVideoTag(raw)
	require.NoError(t, err)
	assert.Equal(t, VideoCodecHEVC, vt.Codec)
	assert.Equal(t, VideoFrameTypeInter, vt.FrameType)
	assert.Equal(t, VideoPacketTypeNALU, vt.PacketType)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, vt.Payload)
}

func TestParseVideoTagRejectsUnsupportedCodec(t *testing.T) {
	_, err := ParseVideoTag([]byte{0x12})
	assert.Error(t, err)
}

func TestParseVideoTagRejectsTruncated(t *testing.T) {
	_, err := ParseVideoTag([]byte{0x17, 0x00})
	assert.Error(t, err)
}

func TestBuildVideoTagRoundTrips(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	raw, err := BuildVideoTag(VideoCodecAVC, VideoFrameTypeKey, VideoPacketTypeNALU, payload)
	require.NoError(t, err)

	vt, err := ParseVideoTag(raw)
	require.NoError(t, err)
	assert.Equal(t, VideoCodecAVC, vt.Codec)
	assert.Equal(t, VideoFrameTypeKey, vt.FrameType)
	assert.Equal(t, VideoPacketTypeNALU, vt.PacketType)
	assert.Equal(t, payload, vt.Payload)
}

func TestParseAudioTagAAC(t *testing.T) {
	raw := []byte{0xAF, 0x01, 0x11, 0x22}
	at, err := ParseAudioTag(raw)
	require.NoError(t, err)
	assert.Equal(t, AudioCodecAAC, at.Codec)
	assert.Equal(t, AudioPacketTypeRaw, at.PacketType)
	assert.Equal(t, []byte{0x11, 0x22}, at.Payload)
}

func TestParseAudioTagMP3HasNoPacketTypeByte(t *testing.T) {
	raw := []byte{0x2E, 0x11, 0x22}
	at, err := ParseAudioTag(raw)
	require.NoError(t, err)
	assert.Equal(t, AudioCodecMP3, at.Codec)
	assert.Equal(t, []byte{0x11, 0x22}, at.Payload)
}

func TestBuildAudioTagRoundTripsAAC(t *testing.T) {
	payload := []byte{0x01, 0x02}
	raw, err := BuildAudioTag(AudioCodecAAC, AudioPacketTypeSequenceHeader, payload)
	require.NoError(t, err)

	at, err := ParseAudioTag(raw)
	require.NoError(t, err)
	assert.Equal(t, AudioCodecAAC, at.Codec)
	assert.Equal(t, AudioPacketTypeSequenceHeader, at.PacketType)
	assert.Equal(t, payload, at.Payload)
}

func TestBuildAVCSequenceHeaderEncodesProfileAndParameterSets(t *testing.T) {
	sps := []byte{0x67, 0x64, 0x00, 0x1F, 0xAC, 0xD9}
	pps := [][]byte{{0x68, 0xEB, 0xE3}}

	header, err := BuildAVCSequenceHeader(sps, pps)
	require.NoError(t, err)

	assert.Equal(t, byte(1), header[0])
	assert.Equal(t, sps[1], header[1])
	assert.Equal(t, sps[2], header[2])
	assert.Equal(t, sps[3], header[3])
	assert.Equal(t, byte(1), header[5]&0x1F, "numOfSequenceParameterSets (low 5 bits of byte 5) must be 1")
}

func TestBuildAVCSequenceHeaderRejectsEmptyPPS(t *testing.T) {
	_, err := BuildAVCSequenceHeader([]byte{0x67, 0x64, 0x00, 0x1F}, nil)
	assert.Error(t, err)
}

func TestBuildHEVCSequenceHeaderIncludesAllThreeArraysWhenPresent(t *testing.T) {
	vps := []byte{0x40, 0x01}
	sps := []byte{0x42, 0x01}
	pps := []byte{0x44, 0x01}

	header, err := BuildHEVCSequenceHeader(vps, sps, pps)
	require.NoError(t, err)
	assert.Equal(t, byte(1), header[0])

	numArraysOffset := 1 + 12 + 2 + 1 + 1 + 1 + 1 + 2 + 1
	assert.Equal(t, byte(3), header[numArraysOffset], "vps, sps and pps were all supplied")
}

func TestBuildHEVCSequenceHeaderOmitsMissingVPS(t *testing.T) {
	sps := []byte{0x42, 0x01}
	pps := []byte{0x44, 0x01}

	header, err := BuildHEVCSequenceHeader(nil, sps, pps)
	require.NoError(t, err)

	numArraysOffset := 1 + 12 + 2 + 1 + 1 + 1 + 1 + 2 + 1
	assert.Equal(t, byte(2), header[numArraysOffset])
}
