package rtp

import (
	"encoding/binary"
	"fmt"
)

// H.265/HEVC NALU type constants (nalu_type = (b[0]>>1) & 0x3F).
const (
	HevcNALUTrailR = 1
	HevcNALUBLA    = 16 // BLA_W_LP..BLA_N_LP span 16..18
	HevcNALUBLAEnd = 18
	HevcNALUIDR    = 19 // IDR_W_RADL..IDR_N_LP span 19..20
	HevcNALUCRA    = 21
	HevcNALUVPS    = 32
	HevcNALUSPS    = 33
	HevcNALUPPS    = 34
	HevcNALUSTAP   = 48
	HevcNALUFU     = 49
)

// ClassifyHevc returns the payload variant and NALU type for the
// first byte of a de-padded H.265 RTP payload.
func ClassifyHevc(b0 byte) (kind PayloadKind, naluType uint8) {
	naluType = (b0 >> 1) & 0x3F
	switch naluType {
	case HevcNALUSTAP:
		return PayloadSTAPHevc, naluType
	case HevcNALUFU:
		return PayloadFUHevc, naluType
	default:
		return PayloadRaw, naluType
	}
}

// IsHevcKeyframe reports whether a NALU type is part of a keyframe:
// VPS, SPS, PPS, IDR (19..20), CRA (21), or BLA (16..18).
func IsHevcKeyframe(naluType uint8) bool {
	switch {
	case naluType == HevcNALUVPS, naluType == HevcNALUSPS, naluType == HevcNALUPPS:
		return true
	case naluType >= HevcNALUBLA && naluType <= HevcNALUBLAEnd:
		return true
	case naluType == HevcNALUIDR || naluType == HevcNALUIDR+1:
		return true
	case naluType == HevcNALUCRA:
		return true
	default:
		return false
	}
}

// HevcReassembler is the HEVC analogue of H264Reassembler. The
// fragment header is the 2-byte HEVC NALU header {type<<1, 0x01}
// rather than a single byte, so nalu_len accounts for +2 instead of
// +1.
type HevcReassembler struct {
	buf     []byte
	naluLen uint32
	active  bool
}

// NewHevcReassembler creates an empty reassembler.
func NewHevcReassembler() *HevcReassembler {
	return &HevcReassembler{buf: make([]byte, 0, 4096)}
}

// Active reports whether a fragmented NALU is in progress.
func (r *HevcReassembler) Active() bool { return r.active }

// Reset discards any in-progress fragment.
func (r *HevcReassembler) Reset() {
	r.buf = r.buf[:0]
	r.naluLen = 0
	r.active = false
}

// StartFU begins a new fragmented NALU from an FU-Hevc start
// fragment. The 2-byte NALU header is {naluType<<1, 0x01} per §4.1.
func (r *HevcReassembler) StartFU(naluType uint8, payload []byte) {
	r.buf = r.buf[:0]
	r.buf = append(r.buf, 0, 0, 0, 0)
	r.buf = append(r.buf, naluType<<1, 0x01)
	r.buf = append(r.buf, payload...)
	r.naluLen = 2 + uint32(len(payload))
	r.active = true
}

// Append adds a middle fragment's payload to the in-progress NALU.
func (r *HevcReassembler) Append(payload []byte) error {
	if !r.active {
		return fmt.Errorf("rtp: FU-Hevc append with no start fragment")
	}
	r.buf = append(r.buf, payload...)
	r.naluLen += uint32(len(payload))
	return nil
}

// Finish appends the end fragment's payload, writes the accumulated
// length into the placeholder, and returns the complete buffer.
func (r *HevcReassembler) Finish(payload []byte) ([]byte, error) {
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

// DecodeSTAPHevc splits a STAP-Hevc payload (after its 2-byte
// aggregate NALU header) into length-prefixed NALUs, skipping any
// size-zero NALU, mirroring DecodeSTAPA for HEVC's 2-byte header.
func DecodeSTAPHevc(payload []byte) (encoded []byte, naluTypes []uint8, err error) {
	if len(payload) < 2 {
		return nil, nil, fmt.Errorf("rtp: STAP-Hevc payload too short")
	}
	rest := payload[2:]
	out := make([]byte, 0, len(rest)+8)

	for len(rest) >= 2 {
		size := int(binary.BigEndian.Uint16(rest[:2]))
		rest = rest[2:]
		if size > len(rest) {
			return nil, nil, fmt.Errorf("rtp: STAP-Hevc NALU size exceeds payload")
		}
		nalu := rest[:size]
		rest = rest[size:]
		if size == 0 {
			continue
		}
		out = appendLengthPrefixedNALU(out, nalu)
		naluTypes = append(naluTypes, (nalu[0]>>1)&0x3F)
	}

	return out, naluTypes, nil
}

// EncodeSTAPHevc aggregates raw NALUs into a STAP-Hevc RTP payload:
// 2-byte aggregate NALU header followed by 2-byte-length-prefixed
// NALUs. Size-zero NALUs are silently dropped.
func EncodeSTAPHevc(nalus [][]byte) []byte {
	out := make([]byte, 2, 64)
	out[0] = HevcNALUSTAP << 1
	out[1] = 0x01
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

// STAPHevcContainsKeyframe reports whether any NALU type in a decoded
// STAP-Hevc's type list is part of a keyframe.
func STAPHevcContainsKeyframe(naluTypes []uint8) bool {
	for _, t := range naluTypes {
		if IsHevcKeyframe(t) {
			return true
		}
	}
	return false
}

// EncodeFUHevc fragments a raw NAL unit (2-byte header + payload) into
// FU-Hevc payloads no larger than mtu bytes each, the inverse of
// HevcReassembler. A NALU that already fits within mtu is returned
// unfragmented as its single raw form.
func EncodeFUHevc(nalu []byte, mtu int) [][]byte {
	if len(nalu) < 2 {
		return nil
	}
	if len(nalu) <= mtu {
		return [][]byte{nalu}
	}

	layerIDAndTID := nalu[1]
	naluType := (nalu[0] >> 1) & 0x3F
	payload := nalu[2:]

	payloadHdr0 := (HevcNALUFU << 1) & 0xFE
	chunkSize := mtu - 3 // 2-byte PayloadHdr + 1-byte FU header
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
			fuHeader |= 0x80
		}
		if end == len(payload) {
			fuHeader |= 0x40
		}
		chunk := make([]byte, 3+(end-offset))
		chunk[0] = payloadHdr0
		chunk[1] = layerIDAndTID
		chunk[2] = fuHeader
		copy(chunk[3:], payload[offset:end])
		out = append(out, chunk)
	}
	return out
}
