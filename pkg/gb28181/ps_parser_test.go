package gb28181

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
)

func buildPackHeader() []byte {
	out := []byte{0x00, 0x00, 0x01, 0xBA}
	fixed := make([]byte, 10)
	fixed[0] = 0x44 // '01' + SCR bits, marker conventions irrelevant to this parser
	fixed[9] = 0x00 // stuffing length = 0
	return append(out, fixed...)
}

func encodePTS(ptsMs int64) []byte {
	pts := ptsMs * 90
	return []byte{
		0x02<<4 | byte((pts>>30)&0x07)<<1 | 1,
		byte((pts >> 22) & 0xFF),
		byte((pts>>15)&0x7F)<<1 | 1,
		byte((pts >> 7) & 0xFF),
		byte(pts&0x7F)<<1 | 1,
	}
}

func buildPES(streamID byte, ptsMs int64, payload []byte) []byte {
	headerData := encodePTS(ptsMs)
	body := []byte{0x80, 0x80, byte(len(headerData))}
	body = append(body, headerData...)
	body = append(body, payload...)

	out := []byte{0x00, 0x00, 0x01, streamID}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(body)))
	out = append(out, lenBuf[:]...)
	out = append(out, body...)
	return out
}

func TestPSParserParsesVideoAndAudioMessages(t *testing.T) {
	p := NewPSParser()

	stream := buildPackHeader()
	stream = append(stream, buildPES(0xE0, 1000, []byte("video-payload"))...)
	stream = append(stream, buildPES(0xC0, 1000, []byte("audio-payload"))...)
	stream = append(stream, buildPackHeader()...)

	msgs := p.Feed(stream)
	require.Len(t, msgs, 2)
	assert.Equal(t, mcrtp.FrameTypeVideo, msgs[0].Kind)
	assert.Equal(t, int64(1000), msgs[0].TimestampMs)
	assert.Equal(t, []byte("video-payload"), msgs[0].Payload)
	assert.Equal(t, mcrtp.FrameTypeAudio, msgs[1].Kind)
	assert.Equal(t, []byte("audio-payload"), msgs[1].Payload)

	assert.Equal(t, RecoveryStats{}, p.Stats())
}

func TestPSParserSplitsFeedAcrossCalls(t *testing.T) {
	p := NewPSParser()

	stream := buildPackHeader()
	stream = append(stream, buildPES(0xE0, 500, []byte("chunked"))...)
	stream = append(stream, buildPackHeader()...)

	var all []ParsedMessage
	for i := 0; i < len(stream); i++ {
		all = append(all, p.Feed(stream[i:i+1])...)
	}
	require.Len(t, all, 1)
	assert.Equal(t, []byte("chunked"), all[0].Payload)
}

func TestPSParserRecoversFromCorruptStartCode(t *testing.T) {
	p := NewPSParser()

	garbage := []byte{0x00, 0x00, 0x01, 0x05, 0x12, 0x34, 0x56, 0x78, 0x9A}
	good := buildPackHeader()
	good = append(good, buildPES(0xE0, 2000, []byte("recovered-video"))...)
	good = append(good, buildPackHeader()...)

	msgs1 := p.Feed(garbage)
	assert.Empty(t, msgs1)

	msgs2 := p.Feed(good)
	require.Len(t, msgs2, 1)
	assert.Equal(t, []byte("recovered-video"), msgs2[0].Payload)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.MediaRecovered)
}

func TestPSParserOversizedTriggerDoesNotCountAsRecovered(t *testing.T) {
	p := NewPSParser()

	oversized := make([]byte, 1500)
	oversized[0], oversized[1], oversized[2], oversized[3] = 0x00, 0x00, 0x01, 0x05

	p.Feed(oversized)
	stats := p.Stats()
	assert.Equal(t, uint64(0), stats.MediaRecovered)
}
