// Package gb28181 implements ingest for devices speaking the GB28181
// camera/NVR protocol: an MPEG-2 Program Stream carried over RTP,
// delivered to us RFC 4571-framed over TCP. The PS parser, session
// state machine, muxer, and publish API in this package turn that
// transport into the same stream.Source frames every other ingest
// path produces.
package gb28181

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/sigurn/crc16"

	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
)

// Per RFC 4571/MTU convention, a framed payload at or above 1500 bytes
// is treated as oversized when deciding whether a recovery counts
// toward media_nn_recovered.
const oversizedPayloadThreshold = 1500

// maxPendingBuffer bounds how much unsynced data the parser will
// accumulate while it has not yet found any start code at all (as
// opposed to a detected-but-incomplete one), so a peer that never
// sends valid PS bytes can't grow this buffer without limit.
const maxPendingBuffer = 4 << 20

const (
	startCodePackHeader       = 0xBA
	startCodeSystemHeader     = 0xBB
	startCodeProgramEnd       = 0xB9
	startCodeProgramStreamMap = 0xBC
)

func isAudioStreamID(code byte) bool { return code >= 0xC0 && code <= 0xDF }
func isVideoStreamID(code byte) bool { return code >= 0xE0 && code <= 0xEF }

// isGenericPESStreamID covers the non-AV PES-shaped stream ids (map,
// private streams, padding, ECM/EMM, program stream directory) whose
// payload we skip over without extracting a message.
func isGenericPESStreamID(code byte) bool {
	switch code {
	case startCodeProgramStreamMap, 0xBD, 0xBE, 0xBF:
		return true
	}
	return code >= 0xF0 && code <= 0xFF
}

var errNeedMoreData = errors.New("gb28181: need more data")

// ParsedMessage is one elementary-stream unit recovered from the PS,
// timestamped from its PES header's PTS when present.
type ParsedMessage struct {
	Kind        mcrtp.FrameType
	TimestampMs int64
	Payload     []byte
}

// RecoveryStats accumulates the PS parser's error-recovery counters.
type RecoveryStats struct {
	MsgsDropped    uint64
	MediaRecovered uint64

	// LastDropCRC16 is the CRC16/CCITT-FALSE checksum of the bytes
	// skipped by the most recent resync. Two recoveries reporting the
	// same checksum point at the same corrupt byte pattern recurring
	// (a flaky transcoder or a repeating line-noise burst), which a raw
	// count can't distinguish from unrelated one-off corruption.
	LastDropCRC16 uint16
}

var crcTable = crc16.MakeTable(crc16.CCITT_FALSE)

// PSParser incrementally parses a byte stream of concatenated RTP
// payloads as an MPEG-2 Program Stream, per spec.md §4.8: on a parse
// error it discards whatever it had buffered for the current attempt,
// enters recover mode, and resynchronizes on the next pack start code
// `00 00 01 BA`.
type PSParser struct {
	mu           sync.Mutex
	buf          []byte
	recovering   bool
	dropChecksum uint16
	stats        RecoveryStats
}

// NewPSParser creates an empty, synced parser.
func NewPSParser() *PSParser {
	return &PSParser{dropChecksum: crc16.Init(crcTable)}
}

// Stats returns a snapshot of the recovery counters.
func (p *PSParser) Stats() RecoveryStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Feed appends one transport payload (one RTP packet's payload) to the
// parser and returns every elementary-stream message that could be
// fully parsed from the buffered data. A parse error never propagates
// to the caller: it is absorbed into recover mode and reflected only
// in Stats().
func (p *PSParser) Feed(payload []byte) []ParsedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	oversized := len(payload) >= oversizedPayloadThreshold
	p.buf = append(p.buf, payload...)

	if p.recovering {
		if !p.recoverLocked() {
			return nil
		}
	}

	msgs, err := p.parseLocked()
	if err != nil {
		p.stats.MsgsDropped += uint64(len(msgs))
		p.recovering = true
		if !oversized {
			p.stats.MediaRecovered++
		}
		// Try to resynchronize immediately against what's already
		// buffered rather than waiting for the next Feed.
		p.recoverLocked()
		return nil
	}
	return msgs
}

// recoverLocked scans the buffer for the next pack start code,
// discarding everything before it (false `00 00 01 XX` matches whose
// 4th byte isn't the pack code are skipped past, not treated as the
// anchor). Returns true and clears recovering once re-synced; false if
// more data is needed.
func (p *PSParser) recoverLocked() bool {
	for {
		off, ok := findStartCode(p.buf)
		if !ok {
			if len(p.buf) > 3 {
				p.dropChecksum = crc16.Update(p.dropChecksum, p.buf[:len(p.buf)-3], crcTable)
				p.buf = p.buf[len(p.buf)-3:]
			}
			return false
		}
		if len(p.buf) < off+4 {
			p.dropChecksum = crc16.Update(p.dropChecksum, p.buf[:off], crcTable)
			p.buf = p.buf[off:]
			return false
		}
		if p.buf[off+3] == startCodePackHeader {
			p.dropChecksum = crc16.Update(p.dropChecksum, p.buf[:off], crcTable)
			p.buf = p.buf[off:]
			p.recovering = false
			p.stats.LastDropCRC16 = crc16.Complete(p.dropChecksum, crcTable)
			p.dropChecksum = crc16.Init(crcTable)
			return true
		}
		p.dropChecksum = crc16.Update(p.dropChecksum, p.buf[off:off+1], crcTable)
		p.buf = p.buf[off+1:]
	}
}

// parseLocked consumes as many complete PS units as are buffered,
// stopping (without error) when the next unit is only partially
// buffered so the caller can feed more bytes.
func (p *PSParser) parseLocked() ([]ParsedMessage, error) {
	var out []ParsedMessage
	for {
		off, ok := findStartCode(p.buf)
		if !ok {
			if len(p.buf) > maxPendingBuffer {
				p.buf = p.buf[len(p.buf)-3:]
			}
			return out, nil
		}
		if off > 0 {
			p.buf = p.buf[off:]
		}
		if len(p.buf) < 4 {
			return out, nil
		}

		code := p.buf[3]
		var n int
		var err error
		var msg *ParsedMessage

		switch {
		case code == startCodePackHeader:
			n, err = packHeaderLen(p.buf)
		case code == startCodeSystemHeader:
			n, err = genericLengthPrefixedLen(p.buf)
		case code == startCodeProgramEnd:
			n = 4
		case isAudioStreamID(code) || isVideoStreamID(code):
			var pm ParsedMessage
			pm, n, err = parsePESMessage(p.buf, code)
			msg = &pm
		case isGenericPESStreamID(code):
			n, err = genericLengthPrefixedLen(p.buf)
		default:
			return out, fmt.Errorf("gb28181: unknown PS start code 0x%02x", code)
		}

		if err == errNeedMoreData {
			return out, nil
		}
		if err != nil {
			return out, err
		}

		p.buf = p.buf[n:]
		if msg != nil && len(msg.Payload) > 0 {
			out = append(out, *msg)
		}
	}
}

// findStartCode returns the offset of the next `00 00 01` prefix.
func findStartCode(buf []byte) (int, bool) {
	for i := 0; i+3 <= len(buf); i++ {
		if buf[i] == 0x00 && buf[i+1] == 0x00 && buf[i+2] == 0x01 {
			return i, true
		}
	}
	return 0, false
}

// packHeaderLen returns the total length of a pack header (start code
// + 10-byte fixed SCR/mux-rate block + stuffing bytes named by the
// fixed block's low 3 bits), per ISO/IEC 13818-1 §2.5.3.3.
func packHeaderLen(buf []byte) (int, error) {
	if len(buf) < 14 {
		return 0, errNeedMoreData
	}
	stuffingLen := int(buf[13] & 0x07)
	total := 14 + stuffingLen
	if len(buf) < total {
		return 0, errNeedMoreData
	}
	return total, nil
}

// genericLengthPrefixedLen handles the PS units shaped as start code +
// stream/section id + 2-byte big-endian length + that many bytes:
// system headers and every non-AV PES-like stream id.
func genericLengthPrefixedLen(buf []byte) (int, error) {
	if len(buf) < 6 {
		return 0, errNeedMoreData
	}
	n := int(binary.BigEndian.Uint16(buf[4:6]))
	total := 6 + n
	if len(buf) < total {
		return 0, errNeedMoreData
	}
	return total, nil
}

// parsePESMessage parses one audio/video PES packet: the extended
// header (optional PTS/DTS), and the elementary payload. A
// PES_packet_length of zero means "unbounded" (common for live video
// PES) and the payload runs until the next start code.
func parsePESMessage(buf []byte, streamID byte) (ParsedMessage, int, error) {
	if len(buf) < 9 {
		return ParsedMessage{}, 0, errNeedMoreData
	}
	length := int(binary.BigEndian.Uint16(buf[4:6]))

	flags2 := buf[7]
	headerDataLen := int(buf[8])
	hdrDataStart := 9
	if len(buf) < hdrDataStart+headerDataLen {
		return ParsedMessage{}, 0, errNeedMoreData
	}

	ptsMs := int64(-1)
	ptsDtsFlags := (flags2 >> 6) & 0x3
	if ptsDtsFlags&0x2 != 0 && headerDataLen >= 5 {
		ptsMs = decodePTS(buf[hdrDataStart : hdrDataStart+5])
	}

	payloadStart := hdrDataStart + headerDataLen
	var payloadEnd int
	if length == 0 {
		next, ok := findStartCode(buf[payloadStart:])
		if !ok {
			return ParsedMessage{}, 0, errNeedMoreData
		}
		payloadEnd = payloadStart + next
	} else {
		packetEnd := 6 + length
		if len(buf) < packetEnd {
			return ParsedMessage{}, 0, errNeedMoreData
		}
		payloadEnd = packetEnd
	}

	kind := mcrtp.FrameTypeAudio
	if isVideoStreamID(streamID) {
		kind = mcrtp.FrameTypeVideo
	}
	payload := append([]byte(nil), buf[payloadStart:payloadEnd]...)
	return ParsedMessage{Kind: kind, TimestampMs: ptsMs, Payload: payload}, payloadEnd, nil
}

// decodePTS decodes a 5-byte PES PTS (or DTS) field into milliseconds
// on a 90kHz clock.
func decodePTS(b []byte) int64 {
	v := int64(b[0]&0x0E)<<29 |
		int64(b[1])<<22 |
		int64(b[2]&0xFE)<<14 |
		int64(b[3])<<7 |
		int64(b[4])>>1
	return v / 90
}
