package rtp

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAACAUsSingleUnit(t *testing.T) {
	au := []byte{0x21, 0x10, 0x04, 0x60, 0x8C, 0x1C}
	payload := make([]byte, 0, 2+4+len(au))
	payload = append(payload, 0x00, 16) // AU-headers-length = 16 bits
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(au))<<3)
	payload = append(payload, hdr[:]...)
	payload = append(payload, au...)

	aus, err := DecodeAACAUs(payload)
	require.NoError(t, err)
	require.Len(t, aus, 1)
	assert.Equal(t, au, aus[0])
}

func TestDecodeAACAUsRejectsShortPacket(t *testing.T) {
	_, err := DecodeAACAUs([]byte{0x00})
	assert.Error(t, err)
}

func TestEncodeAACAUHeaderRoundTrips(t *testing.T) {
	au := []byte{0xAA, 0xBB, 0xCC}
	header := EncodeAACAUHeader(len(au))
	payload := append(append([]byte(nil), header...), au...)

	aus, err := DecodeAACAUs(payload)
	require.NoError(t, err)
	require.Len(t, aus, 1)
	assert.Equal(t, au, aus[0])
}

func TestParseADTSHeaderExtractsFields(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	frameLength := 7 + len(payload)

	adts := make([]byte, 7)
	adts[0] = 0xFF
	adts[1] = 0xF1 // MPEG-4, no CRC (protection_absent=1)
	adts[2] = (1 << 6) | (4 << 2) | (1 >> 2)     // profile=LC(1), sampleRateIdx=4
	adts[3] = ((1 & 0x03) << 6) | byte(frameLength>>11)
	adts[4] = byte(frameLength >> 3)
	adts[5] = byte(frameLength<<5) & 0xE0
	adts[6] = 0xFC

	data := append(adts, payload...)
	frame, next, err := ParseADTSHeader(data)
	require.NoError(t, err)
	assert.Equal(t, frameLength, next)
	assert.Equal(t, uint8(1), frame.ProfileObjectType)
	assert.Equal(t, uint8(4), frame.SampleRateIndex)
	assert.Equal(t, uint8(1), frame.ChannelConfig)
	assert.Equal(t, payload, frame.Payload)
}

func TestParseADTSHeaderRejectsBadSyncword(t *testing.T) {
	data := make([]byte, 10)
	_, _, err := ParseADTSHeader(data)
	assert.Error(t, err)
}

func TestBuildAudioSpecificConfigEncodesObjectTypeAndRate(t *testing.T) {
	// LC profile (1) -> audioObjectType 2, sample rate index 4 (44.1kHz), stereo (2).
	asc := BuildAudioSpecificConfig(1, 4, 2)
	require.Len(t, asc, 2)

	audioObjectType := asc[0] >> 3
	sampleRateIndex := (asc[0]&0x07)<<1 | asc[1]>>7
	channelConfig := (asc[1] >> 3) & 0x0F

	assert.Equal(t, uint8(2), audioObjectType)
	assert.Equal(t, uint8(4), sampleRateIndex)
	assert.Equal(t, uint8(2), channelConfig)
}
