package rtp

import (
	"encoding/binary"
	"fmt"
)

// H.264 NALU type constants (nalu_type = b[0] & 0x1F).
const (
	H264NALUUnspecified = 0
	H264NALUPFrame      = 1
	H264NALUIDR         = 5
	H264NALUSEI         = 6
	H264NALUSPS         = 7
	H264NALUPPS         = 8
	H264NALUAUD         = 9
	H264NALUSTAPA       = 24
	H264NALUFUA         = 28
)

// ClassifyH264 returns the payload variant and NALU type for the
// first byte of a de-padded H.264 RTP payload.
func ClassifyH264(b0 byte) (kind PayloadKind, naluType uint8) {
	naluType = b0 & 0x1F
	switch naluType {
	case H264NALUSTAPA:
		return PayloadSTAPA, naluType
	case H264NALUFUA:
		return PayloadFUA, naluType
	default:
		return PayloadRaw, naluType
	}
}

// IsH264Keyframe reports whether a reassembled/raw NALU type is part
// of a keyframe (IDR, SPS, or PPS).
func IsH264Keyframe(naluType uint8) bool {
	switch naluType {
	case H264NALUIDR, H264NALUSPS, H264NALUPPS:
		return true
	default:
		return false
	}
}

// appendLengthPrefixedNALU appends a 4-byte big-endian length prefix
// followed by nalu to dst. Zero-length NALUs are skipped entirely
// (not encoded, not counted), matching the STAP-A/STAP-Hevc encoder
// contract.
func appendLengthPrefixedNALU(dst, nalu []byte) []byte {
	if len(nalu) == 0 {
		return dst
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(nalu)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, nalu...)
}

// H264Reassembler stitches FU-A fragments into a length-prefixed NALU
// buffer. The buffer layout is:
// [4-byte length placeholder][nalu header byte][payload...].
// On Finish, the placeholder is rewritten with the accumulated
// length, matching the spec's "rewind to placeholder, write length,
// advance back" contract (§4.1, §9 note 3) without requiring
// negative-skip support on a byte slice: we track the header length
// and rewrite the placeholder in place instead of seeking backwards
// in a stream.
type H264Reassembler struct {
	buf     []byte
	naluLen uint32
	active  bool
}

// NewH264Reassembler creates an empty reassembler.
func NewH264Reassembler() *H264Reassembler {
	return &H264Reassembler{buf: make([]byte, 0, 4096)}
}

// Active reports whether a fragmented NALU is in progress.
func (r *H264Reassembler) Active() bool { return r.active }

// Reset discards any in-progress fragment.
func (r *H264Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.naluLen = 0
	r.active = false
}

// StartFUA begins a new fragmented NALU from an FU-A start fragment.
// nri|naluType reconstructs the single-byte NAL header per §4.1.
func (r *H264Reassembler) StartFUA(nri, naluType uint8, payload []byte) {
	r.buf = r.buf[:0]
	r.buf = append(r.buf, 0, 0, 0, 0) // 4-byte length placeholder
	header := (nri & 0xE0) | (naluType & 0x1F)
	r.buf = append(r.buf, header)
	r.buf = append(r.buf, payload...)
	r.naluLen = 1 + uint32(len(payload))
	r.active = true
}

// Append adds a middle fragment's payload to the in-progress NALU.
func (r *H264Reassembler) Append(payload []byte) error {
	if !r.active {
		return fmt.Errorf("rtp: FU-A append with no start fragment")
	}
	r.buf = append(r.buf, payload...)
	r.naluLen += uint32(len(payload))
	return nil
}

// Finish appends the end fragment's payload, writes the accumulated
// NALU length into the 4-byte placeholder, and returns the complete
// length-prefixed buffer. The reassembler is reset for reuse.
func (r *H264Reassembler) Finish(payload []byte) ([]byte, error) {
	if err := r.Append(payload); err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint32(r.buf[0:4], r.naluLen)
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	r.active = false
	r.buf = r.buf[:0]
	r.naluLen = 0
	return out, nil
}

// DecodeSTAPA splits a STAP-A payload (including the leading 1-byte
// STAP-A header) into length-prefixed NALUs (AVC-style framing),
// skipping any size-zero NALU. Returns the encoded buffer and the
// list of individual NALU type bytes seen, for keyframe
// classification.
func DecodeSTAPA(payload []byte) (encoded []byte, naluTypes []uint8, err error) {
	if len(payload) < 1 {
		return nil, nil, fmt.Errorf("rtp: STAP-A payload too short")
	}
	rest := payload[1:]
	out := make([]byte, 0, len(rest)+8)

	for len(rest) >= 2 {
		size := int(binary.BigEndian.Uint16(rest[:2]))
		rest = rest[2:]
		if size > len(rest) {
			return nil, nil, fmt.Errorf("rtp: STAP-A NALU size exceeds payload")
		}
		nalu := rest[:size]
		rest = rest[size:]
		if size == 0 {
			continue
		}
		out = appendLengthPrefixedNALU(out, nalu)
		naluTypes = append(naluTypes, nalu[0]&0x1F)
	}

	return out, naluTypes, nil
}

// EncodeSTAPA aggregates multiple raw NALUs into a single STAP-A RTP
// payload: 1-byte STAP-A header followed by 2-byte-length-prefixed
// NALUs. Size-zero NALUs are silently dropped.
func EncodeSTAPA(nalus [][]byte) []byte {
	out := make([]byte, 1, 64)
	out[0] = H264NALUSTAPA
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		var sz [2]byte
		binary.BigEndian.PutUint16(sz[:], uint16(len(n)))
		out = append(out, sz[:]...)
		out = append(out, n...)
	}
	return out
}

// STAPAContainsKeyframe reports whether any NALU type in a decoded
// STAP-A's type list is part of a keyframe.
func STAPAContainsKeyframe(naluTypes []uint8) bool {
	for _, t := range naluTypes {
		if IsH264Keyframe(t) {
			return true
		}
	}
	return false
}

// EncodeFUA fragments a raw NAL unit (header byte + payload) into a
// sequence of FU-A payloads no larger than mtu bytes each, the inverse
// of H264Reassembler. A NALU that already fits within mtu is returned
// unfragmented as its single raw form (caller sends it as PayloadRaw,
// not FU-A).
func EncodeFUA(nalu []byte, mtu int) [][]byte {
	if len(nalu) == 0 {
		return nil
	}
	if len(nalu) <= mtu {
		return [][]byte{nalu}
	}

	header := nalu[0]
	nri := header & 0x60
	naluType := header & 0x1F
	payload := nalu[1:]

	fuIndicator := nri | H264NALUFUA
	chunkSize := mtu - 2 // 1-byte FU indicator + 1-byte FU header
	if chunkSize < 1 {
		chunkSize = 1
	}

	var out [][]byte
	for offset := 0; offset < len(payload); offset += chunkSize {
		end := offset + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		fuHeader := naluType
		if offset == 0 {
			fuHeader |= 0x80 // S bit
		}
		if end == len(payload) {
			fuHeader |= 0x40 // E bit
		}
		chunk := make([]byte, 2+(end-offset))
		chunk[0] = fuIndicator
		chunk[1] = fuHeader
		copy(chunk[2:], payload[offset:end])
		out = append(out, chunk)
	}
	return out
}
