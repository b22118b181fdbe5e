package stream

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	pionrtp "github.com/pion/rtp"

	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
)

// splitLengthPrefixedNALUs walks a buffer of back-to-back 4-byte
// length-prefixed NAL units (the encoding DecodeSTAPA/DecodeSTAPHevc
// produce) and returns each NALU's raw bytes, prefix stripped.
func splitLengthPrefixedNALUs(encoded []byte) [][]byte {
	var out [][]byte
	for len(encoded) >= 4 {
		n := binary.BigEndian.Uint32(encoded[:4])
		encoded = encoded[4:]
		if uint32(len(encoded)) < n {
			break
		}
		out = append(out, encoded[:n])
		encoded = encoded[n:]
	}
	return out
}

// RTCToRTMPBridge consumes RTP from an RTC receive track and produces
// RTMP-framed video/audio tags published into a Source: H.264/H.265
// FU-A/STAP-A reassembly, SPS/PPS/VPS-derived sequence-header
// synthesis, and AAC Access Unit extraction (ADTS framing, where
// present, converted to an AudioSpecificConfig sequence header).
type RTCToRTMPBridge struct {
	logger *slog.Logger
	source *Source

	videoCodec string // VideoCodecAVC or VideoCodecHEVC

	mu sync.Mutex

	h264Reasm *mcrtp.H264Reassembler
	hevcReasm *mcrtp.HevcReassembler
	fuNALUType uint8

	sps, pps, vps []byte
	paramSetsDirty bool

	haveAU      bool
	auTimestamp uint32
	auData      []byte
	auKeyframe  bool

	sawAudioSeqHeader bool
}

// NewRTCToRTMPBridge creates a bridge publishing into source for the
// given video codec ("avc" or "hevc").
func NewRTCToRTMPBridge(source *Source, videoCodec string, logger *slog.Logger) *RTCToRTMPBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &RTCToRTMPBridge{
		logger:    logger.With("component", "bridge_rtc_rtmp"),
		source:    source,
		videoCodec: videoCodec,
		h264Reasm: mcrtp.NewH264Reassembler(),
		hevcReasm: mcrtp.NewHevcReassembler(),
	}
}

// OnVideoRTP feeds one RTP video packet through reassembly, flushing
// the previous access unit whenever the timestamp advances.
func (b *RTCToRTMPBridge) OnVideoRTP(pkt *pionrtp.Packet) error {
	if len(pkt.Payload) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.haveAU && pkt.Header.Timestamp != b.auTimestamp {
		if err := b.flushVideoLocked(); err != nil {
			return err
		}
	}
	b.auTimestamp = pkt.Header.Timestamp
	b.haveAU = true

	switch b.videoCodec {
	case VideoCodecAVC:
		return b.onH264Locked(pkt.Payload)
	case VideoCodecHEVC:
		return b.onHevcLocked(pkt.Payload)
	default:
		return fmt.Errorf("bridge_rtc_rtmp: unknown video codec %q", b.videoCodec)
	}
}

func (b *RTCToRTMPBridge) onH264Locked(payload []byte) error {
	kind, naluType := mcrtp.ClassifyH264(payload[0])
	switch kind {
	case mcrtp.PayloadSTAPA:
		encoded, types, err := mcrtp.DecodeSTAPA(payload)
		if err != nil {
			return fmt.Errorf("decode stap-a: %w", err)
		}
		for i, nalu := range splitLengthPrefixedNALUs(encoded) {
			b.absorbH264NALULocked(types[i], nalu)
		}
		return nil
	case mcrtp.PayloadFUA:
		fuIndicator := payload[0]
		fuHeader := payload[1]
		start := fuHeader&0x80 != 0
		end := fuHeader&0x40 != 0
		innerType := fuHeader & 0x1F
		nri := fuIndicator & 0x60
		rest := payload[2:]

		switch {
		case start:
			b.fuNALUType = innerType
			b.h264Reasm.StartFUA(nri, innerType, rest)
			return nil
		case end:
			nalu, err := b.h264Reasm.Finish(rest)
			if err != nil {
				return fmt.Errorf("finish fu-a: %w", err)
			}
			b.absorbH264NALULocked(b.fuNALUType, nalu[4:])
			return nil
		default:
			return b.h264Reasm.Append(rest)
		}
	default:
		b.absorbH264NALULocked(naluType, payload)
		return nil
	}
}

func (b *RTCToRTMPBridge) absorbH264NALULocked(naluType uint8, nalu []byte) {
	switch naluType {
	case mcrtp.H264NALUSPS:
		b.sps = append([]byte(nil), nalu...)
		b.paramSetsDirty = true
	case mcrtp.H264NALUPPS:
		b.pps = append([]byte(nil), nalu...)
		b.paramSetsDirty = true
	default:
		b.auData = appendLengthPrefixed(b.auData, nalu)
		if naluType == mcrtp.H264NALUIDR {
			b.auKeyframe = true
		}
	}
}

func (b *RTCToRTMPBridge) onHevcLocked(payload []byte) error {
	kind, naluType := mcrtp.ClassifyHevc(payload[0])
	switch kind {
	case mcrtp.PayloadSTAPHevc:
		encoded, types, err := mcrtp.DecodeSTAPHevc(payload)
		if err != nil {
			return fmt.Errorf("decode stap-hevc: %w", err)
		}
		for i, nalu := range splitLengthPrefixedNALUs(encoded) {
			b.absorbHevcNALULocked(types[i], nalu)
		}
		return nil
	case mcrtp.PayloadFUHevc:
		fuHeader := payload[2]
		start := fuHeader&0x80 != 0
		end := fuHeader&0x40 != 0
		innerType := fuHeader & 0x3F
		rest := payload[3:]

		switch {
		case start:
			b.fuNALUType = innerType
			b.hevcReasm.StartFU(innerType, rest)
			return nil
		case end:
			nalu, err := b.hevcReasm.Finish(rest)
			if err != nil {
				return fmt.Errorf("finish fu-hevc: %w", err)
			}
			b.absorbHevcNALULocked(b.fuNALUType, nalu[4:])
			return nil
		default:
			return b.hevcReasm.Append(rest)
		}
	default:
		b.absorbHevcNALULocked(naluType, payload)
		return nil
	}
}

func (b *RTCToRTMPBridge) absorbHevcNALULocked(naluType uint8, nalu []byte) {
	switch naluType {
	case mcrtp.HevcNALUVPS:
		b.vps = append([]byte(nil), nalu...)
		b.paramSetsDirty = true
	case mcrtp.HevcNALUSPS:
		b.sps = append([]byte(nil), nalu...)
		b.paramSetsDirty = true
	case mcrtp.HevcNALUPPS:
		b.pps = append([]byte(nil), nalu...)
		b.paramSetsDirty = true
	default:
		b.auData = appendLengthPrefixed(b.auData, nalu)
		if mcrtp.IsHevcKeyframe(naluType) {
			b.auKeyframe = true
		}
	}
}

func appendLengthPrefixed(dst, nalu []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(nalu)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, nalu...)
}

// flushVideoLocked publishes a sequence header (if the parameter sets
// changed since the last one) and the accumulated access unit.
func (b *RTCToRTMPBridge) flushVideoLocked() error {
	if b.paramSetsDirty {
		if err := b.publishVideoSequenceHeaderLocked(); err != nil {
			return err
		}
		b.paramSetsDirty = false
	}

	if len(b.auData) > 0 {
		frameType := VideoFrameTypeInter
		if b.auKeyframe {
			frameType = VideoFrameTypeKey
		}
		tag, err := BuildVideoTag(b.videoCodec, frameType, VideoPacketTypeNALU, b.auData)
		if err != nil {
			return fmt.Errorf("build video tag: %w", err)
		}
		b.source.Publish(&Frame{
			Kind:       FrameVideo,
			Timestamp:  b.auTimestamp,
			Data:       tag,
			IsKeyframe: b.auKeyframe,
		})
	}

	b.auData = nil
	b.auKeyframe = false
	return nil
}

func (b *RTCToRTMPBridge) publishVideoSequenceHeaderLocked() error {
	var seqHeader []byte
	var err error

	switch b.videoCodec {
	case VideoCodecAVC:
		if len(b.sps) == 0 || len(b.pps) == 0 {
			return nil // wait for both parameter sets before publishing
		}
		seqHeader, err = BuildAVCSequenceHeader(b.sps, [][]byte{b.pps})
	case VideoCodecHEVC:
		if len(b.sps) == 0 || len(b.pps) == 0 {
			return nil
		}
		seqHeader, err = BuildHEVCSequenceHeader(b.vps, b.sps, b.pps)
	}
	if err != nil {
		return fmt.Errorf("build sequence header: %w", err)
	}
	if seqHeader == nil {
		return nil
	}

	tag, err := BuildVideoTag(b.videoCodec, VideoFrameTypeKey, VideoPacketTypeSequenceHeader, seqHeader)
	if err != nil {
		return fmt.Errorf("build sequence header tag: %w", err)
	}
	b.source.Publish(&Frame{Kind: FrameVideo, IsSequenceHeader: true, Data: tag})
	return nil
}

// Close flushes any buffered access unit; call once the source track
// has ended.
func (b *RTCToRTMPBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.haveAU {
		return nil
	}
	return b.flushVideoLocked()
}

// OnAudioRTP feeds one RTP audio packet carrying RFC 3640 AAC-hbr
// Access Units (or, for a GB28181-sourced session where the RTP
// payload carries ADTS-framed AAC directly, ADTS frames) into the
// bridge, converting each Access Unit straight into an AAC raw tag
// and synthesizing an AudioSpecificConfig sequence header the first
// time ADTS framing reveals the profile/sample-rate/channel fields.
func (b *RTCToRTMPBridge) OnAudioRTP(pkt *pionrtp.Packet, adtsFramed bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if adtsFramed {
		return b.onADTSAudioLocked(pkt.Header.Timestamp, pkt.Payload)
	}

	aus, err := mcrtp.DecodeAACAUs(pkt.Payload)
	if err != nil {
		return fmt.Errorf("decode aac aus: %w", err)
	}
	for _, au := range aus {
		tag, err := BuildAudioTag(AudioCodecAAC, AudioPacketTypeRaw, au)
		if err != nil {
			return fmt.Errorf("build audio tag: %w", err)
		}
		b.source.Publish(&Frame{Kind: FrameAudio, Timestamp: pkt.Header.Timestamp, Data: tag})
	}
	return nil
}

func (b *RTCToRTMPBridge) onADTSAudioLocked(timestamp uint32, data []byte) error {
	for len(data) > 0 {
		frame, next, err := mcrtp.ParseADTSHeader(data)
		if err != nil {
			return fmt.Errorf("parse adts header: %w", err)
		}

		if !b.sawAudioSeqHeader {
			asc := mcrtp.BuildAudioSpecificConfig(frame.ProfileObjectType, frame.SampleRateIndex, frame.ChannelConfig)
			tag, err := BuildAudioTag(AudioCodecAAC, AudioPacketTypeSequenceHeader, asc)
			if err != nil {
				return fmt.Errorf("build audio sequence header tag: %w", err)
			}
			b.source.Publish(&Frame{Kind: FrameAudio, IsSequenceHeader: true, Data: tag})
			b.sawAudioSeqHeader = true
		}

		tag, err := BuildAudioTag(AudioCodecAAC, AudioPacketTypeRaw, frame.Payload)
		if err != nil {
			return fmt.Errorf("build audio tag: %w", err)
		}
		b.source.Publish(&Frame{Kind: FrameAudio, Timestamp: timestamp, Data: tag})

		data = data[next:]
	}
	return nil
}

// PublishAnnexBAccessUnit routes one already-reassembled access unit
// (Annex-B start-code delimited, as the GB28181 PS muxer hands over
// once it has grouped a pack's consecutive video messages) through the
// same parameter-set caching and sequence-header machinery OnVideoRTP
// uses for RTP-fragmented input, then flushes it immediately — the
// caller has already established the access unit's boundary, so there
// is no next-packet timestamp change to wait for.
func (b *RTCToRTMPBridge) PublishAnnexBAccessUnit(timestamp uint32, annexB []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.auTimestamp = timestamp
	b.haveAU = true

	for _, nalu := range splitAnnexB(annexB) {
		if len(nalu) == 0 {
			continue
		}
		switch b.videoCodec {
		case VideoCodecHEVC:
			b.absorbHevcNALULocked((nalu[0]>>1)&0x3F, nalu)
		default:
			b.absorbH264NALULocked(nalu[0]&0x1F, nalu)
		}
	}
	return b.flushVideoLocked()
}

// PublishADTSAudio feeds one or more back-to-back ADTS frames (a
// GB28181 audio ES packet, not RTP-wrapped) through the same
// AAC-sequence-header/raw-tag machinery as the RTP ADTS path.
func (b *RTCToRTMPBridge) PublishADTSAudio(timestamp uint32, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.onADTSAudioLocked(timestamp, data)
}

// splitAnnexB walks a start-code-delimited (00 00 01 or 00 00 00 01)
// byte stream and returns each contained NALU, prefix stripped.
func splitAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	start := -1
	for i := 0; i+3 <= len(data); {
		scLen := 0
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			scLen = 3
		} else if i+4 <= len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			scLen = 4
		}
		if scLen > 0 {
			if start >= 0 {
				nalus = append(nalus, data[start:i])
			}
			i += scLen
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < len(data) {
		nalus = append(nalus, data[start:])
	}
	return nalus
}
