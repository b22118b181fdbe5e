package httpremux

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/sigurn/crc8"

	"github.com/ringcast/mediacore/pkg/stream"
)

const (
	tsPacketSize = 188
	tsSyncByte   = 0x47

	patPID = 0x0000
	pmtPID = 0x1001
	vidPID = 0x0100
	audPID = 0x0101

	streamTypeH264 = 0x1B
	streamTypeHEVC = 0x24
	streamTypeAAC  = 0x0F
)

// TSMuxer is a stateless (no GOP cache of its own — the source already
// has one) MPEG-TS remuxer: it converts RTMP-tag-framed video/audio
// into PES packets and segments them into 188-byte TS packets with a
// PAT/PMT pair written once up front.
type TSMuxer struct {
	w          io.Writer
	videoCodec string

	mu          sync.Mutex
	continuity  map[uint16]byte
	wrotePSI    bool
	videoParams []byte // cached AVCC/HVCC sequence header, for SPS/PPS prefixing before keyframes
	audioConfig []byte

	crcTable *crc8.Table
	stats    Stats
}

// Stats exposes lightweight TS remux diagnostics.
type Stats struct {
	PacketsWritten  uint64
	LastPESChecksum uint8
}

// NewTSMuxer creates a muxer for the given video codec ("avc"/"hevc").
func NewTSMuxer(w io.Writer, videoCodec string) *TSMuxer {
	return &TSMuxer{
		w:          w,
		videoCodec: videoCodec,
		continuity: make(map[uint16]byte),
		crcTable:   crc8.MakeTable(crc8.CRC8),
	}
}

// Stats returns a snapshot of the muxer's diagnostic counters.
func (m *TSMuxer) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// DeliverMetadata is a no-op: MPEG-TS carries no script-data analog
// this muxer emits.
func (m *TSMuxer) DeliverMetadata(data []byte) error { return nil }

// DeliverFrame converts f into one or more TS packets.
func (m *TSMuxer) DeliverFrame(f *stream.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.wrotePSI {
		if err := m.writePSILocked(); err != nil {
			return err
		}
		m.wrotePSI = true
	}

	switch f.Kind {
	case stream.FrameVideo:
		return m.deliverVideoLocked(f)
	case stream.FrameAudio:
		return m.deliverAudioLocked(f)
	}
	return nil
}

func (m *TSMuxer) deliverVideoLocked(f *stream.Frame) error {
	vt, err := stream.ParseVideoTag(f.Data)
	if err != nil {
		return fmt.Errorf("httpremux: parse video tag: %w", err)
	}
	if vt.PacketType == stream.VideoPacketTypeSequenceHeader {
		m.videoParams = vt.Payload
		return nil
	}

	annexB := avccToAnnexB(vt.Payload)
	// A fingerprint of what's about to be PES-packetized, for
	// correlating repeated identical-looking TS write failures back to
	// the same source access unit without capturing the full payload.
	m.stats.LastPESChecksum = crc8.Checksum(annexB, m.crcTable)

	return m.writePESLocked(vidPID, 0xE0, f.Timestamp, annexB, vt.FrameType == stream.VideoFrameTypeKey)
}

func (m *TSMuxer) deliverAudioLocked(f *stream.Frame) error {
	at, err := stream.ParseAudioTag(f.Data)
	if err != nil {
		return fmt.Errorf("httpremux: parse audio tag: %w", err)
	}
	if at.Codec != stream.AudioCodecAAC {
		return nil // TS remux here only carries AAC; MP3-over-TS isn't wired
	}
	if at.PacketType == stream.AudioPacketTypeSequenceHeader {
		m.audioConfig = at.Payload
		return nil
	}

	adts := wrapADTS(at.Payload, m.audioConfig)
	m.stats.LastPESChecksum = crc8.Checksum(adts, m.crcTable)
	return m.writePESLocked(audPID, 0xC0, f.Timestamp, adts, false)
}

// avccToAnnexB rewrites 4-byte-length-prefixed NALUs (the framing
// bridge_rtc_rtmp.go publishes) as start-code-delimited ones.
func avccToAnnexB(payload []byte) []byte {
	var out []byte
	for len(payload) >= 4 {
		n := int(binary.BigEndian.Uint32(payload[:4]))
		payload = payload[4:]
		if n > len(payload) {
			break
		}
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, payload[:n]...)
		payload = payload[n:]
	}
	return out
}

// wrapADTS prepends a 7-byte ADTS header derived from config (the
// cached AudioSpecificConfig) to one raw AAC frame. Falls back to a
// generic 44.1kHz/2ch profile when no config has been seen yet.
func wrapADTS(payload []byte, config []byte) []byte {
	profile, sampleRateIdx, channels := 1, 4, 2
	if len(config) >= 2 {
		profile = int(config[0]>>3) - 1
		sampleRateIdx = int((config[0]&0x07)<<1 | config[1]>>7)
		channels = int((config[1] >> 3) & 0x0F)
	}
	frameLen := 7 + len(payload)
	adts := make([]byte, 7, frameLen)
	adts[0] = 0xFF
	adts[1] = 0xF1
	adts[2] = byte(profile<<6) | byte(sampleRateIdx<<2) | byte((channels>>2)&0x01)
	adts[3] = byte((channels&0x03)<<6) | byte(frameLen>>11)
	adts[4] = byte(frameLen >> 3)
	adts[5] = byte(frameLen<<5) | 0x1F
	adts[6] = 0xFC
	return append(adts, payload...)
}

func (m *TSMuxer) writePESLocked(pid uint16, streamID byte, ptsMs uint32, payload []byte, randomAccess bool) error {
	pts := uint64(ptsMs) * 90
	ptsBytes := encodePESTimestamp(0x02, pts)

	pes := []byte{0x00, 0x00, 0x01, streamID}
	body := append([]byte{0x80, 0x80, byte(len(ptsBytes))}, ptsBytes...)
	body = append(body, payload...)
	pesLen := len(body)
	if pesLen > 0xFFFF {
		pesLen = 0 // unbounded, as video PES commonly is
	}
	pes = append(pes, byte(pesLen>>8), byte(pesLen))
	pes = append(pes, body...)

	return m.segmentLocked(pid, pes, randomAccess)
}

// encodePESTimestamp packs a PTS/DTS field per ISO/IEC 13818-1 §2.4.3.6.
func encodePESTimestamp(code byte, v uint64) []byte {
	return []byte{
		code<<4 | byte((v>>30)&0x07)<<1 | 1,
		byte((v >> 22) & 0xFF),
		byte((v>>15)&0x7F)<<1 | 1,
		byte((v >> 7) & 0xFF),
		byte(v&0x7F)<<1 | 1,
	}
}

// segmentLocked splits pes into 188-byte TS packets on pid, setting
// payload_unit_start_indicator on the first packet and a random_access
// adaptation-field flag on the first packet of a keyframe's PES.
func (m *TSMuxer) segmentLocked(pid uint16, pes []byte, randomAccess bool) error {
	first := true
	for len(pes) > 0 {
		pkt := make([]byte, tsPacketSize)
		pkt[0] = tsSyncByte

		pusi := byte(0)
		if first {
			pusi = 0x40
		}
		pkt[1] = pusi | byte(pid>>8)&0x1F
		pkt[2] = byte(pid)

		cc := m.continuity[pid]
		m.continuity[pid] = (cc + 1) & 0x0F

		headerLen := 4
		if first && randomAccess {
			pkt[3] = 0x30 | cc // adaptation field + payload present
			pkt[4] = 1         // adaptation_field_length
			pkt[5] = 0x40      // random_access_indicator
			headerLen = 6
		} else {
			pkt[3] = 0x10 | cc // payload only
		}

		space := tsPacketSize - headerLen
		n := len(pes)
		if n > space {
			n = space
		}
		copy(pkt[headerLen:], pes[:n])
		pes = pes[n:]

		if n < space {
			// Stuff the remainder via an adaptation field when this is
			// the last, short packet and none was written yet.
			pkt = stuffTSPacket(pkt, headerLen, n)
		}

		if _, err := m.w.Write(pkt); err != nil {
			return fmt.Errorf("httpremux: write ts packet: %w", err)
		}
		m.stats.PacketsWritten++
		first = false
	}
	return nil
}

// stuffTSPacket pads a short final TS packet out to 188 bytes using an
// adaptation field (stuffing bytes 0xFF), unless one was already
// started for random_access signaling, in which case its
// adaptation_field_length simply grows to cover the slack.
func stuffTSPacket(pkt []byte, headerLen, written int) []byte {
	payload := pkt[headerLen : headerLen+written]
	slack := tsPacketSize - 4 - written
	if headerLen == 6 {
		// already has a 2-byte adaptation field; grow it to absorb slack
		out := make([]byte, 188)
		out[0], out[1], out[2], out[3] = pkt[0], pkt[1], pkt[2], pkt[3]
		adaptLen := slack - 1 // slack already counts the existing 2 bytes; -1 for the length byte itself
		out[4] = byte(adaptLen)
		out[5] = pkt[5]
		for i := 6; i < 4+1+adaptLen; i++ {
			out[i] = 0xFF
		}
		copy(out[4+1+adaptLen:], payload)
		return out
	}
	out := make([]byte, 188)
	out[0], out[1], out[2] = pkt[0], pkt[1], pkt[2]
	out[3] = (pkt[3] &^ 0x30) | 0x30 // switch to adaptation+payload
	adaptLen := slack - 1
	out[4] = byte(adaptLen)
	if adaptLen > 0 {
		out[5] = 0x00
		for i := 6; i < 4+1+adaptLen; i++ {
			out[i] = 0xFF
		}
	}
	copy(out[4+1+adaptLen:], payload)
	return out
}

func (m *TSMuxer) writePSILocked() error {
	streamType := byte(streamTypeH264)
	if m.videoCodec == stream.VideoCodecHEVC {
		streamType = streamTypeHEVC
	}

	pat := buildPATSection()
	if err := m.writePSIPacketLocked(patPID, pat); err != nil {
		return err
	}
	pmt := buildPMTSection(streamType)
	return m.writePSIPacketLocked(pmtPID, pmt)
}

func (m *TSMuxer) writePSIPacketLocked(pid uint16, section []byte) error {
	pkt := make([]byte, tsPacketSize)
	pkt[0] = tsSyncByte
	pkt[1] = 0x40 | byte(pid>>8)&0x1F // payload_unit_start_indicator
	pkt[2] = byte(pid)
	cc := m.continuity[pid]
	m.continuity[pid] = (cc + 1) & 0x0F
	pkt[3] = 0x10 | cc

	pkt[4] = 0x00 // pointer_field
	copy(pkt[5:], section)
	for i := 5 + len(section); i < tsPacketSize; i++ {
		pkt[i] = 0xFF
	}

	if _, err := m.w.Write(pkt); err != nil {
		return fmt.Errorf("httpremux: write psi packet: %w", err)
	}
	m.stats.PacketsWritten++
	return nil
}

func buildPATSection() []byte {
	body := []byte{
		0x00,       // table_id
		0xB0, 0x0D, // section_syntax_indicator + section_length(13)
		0x00, 0x01, // transport_stream_id
		0xC1,       // version_number + current_next_indicator
		0x00, 0x00, // section_number, last_section_number
		0x00, 0x01, // program_number 1
		byte(0xE0 | (pmtPID >> 8)), byte(pmtPID),
	}
	return appendCRC32(body)
}

func buildPMTSection(streamType byte) []byte {
	body := []byte{
		0x02,       // table_id
		0xB0, 0x17, // section_length, patched below once known
		0x00, 0x01, // program_number
		0xC1,       // version/current_next
		0x00, 0x00, // section_number, last_section_number
		byte(0xE0 | (vidPID >> 8)), byte(vidPID), // PCR_PID = video PID
		0xF0, 0x00, // program_info_length = 0
		streamType, byte(0xE0 | (vidPID >> 8)), byte(vidPID), 0xF0, 0x00,
		streamTypeAAC, byte(0xE0 | (audPID >> 8)), byte(audPID), 0xF0, 0x00,
	}
	sectionLen := len(body) - 3 + 4 // everything after the length field, plus CRC32
	body[1] = 0xB0 | byte(sectionLen>>8)
	body[2] = byte(sectionLen)
	return appendCRC32(body)
}

func appendCRC32(section []byte) []byte {
	sum := crc32.ChecksumIEEE(section)
	var crcBytes [4]byte
	binary.BigEndian.PutUint32(crcBytes[:], sum)
	return append(section, crcBytes[:]...)
}
