package stream

import "fmt"

// Video codec identifiers, matching FLV/RTMP's VideoTagHeader CodecID nibble.
const (
	VideoCodecAVC  = "avc"
	VideoCodecHEVC = "hevc"
)

// VideoFrameType classifies a video tag as a keyframe or not, which is
// what the GOP cache and HTTP-FLV muxer key replay decisions on.
const (
	VideoFrameTypeKey   = "keyframe"
	VideoFrameTypeInter = "inter"
)

// AVC/HEVC packet types, mirroring the FLV AVCPacketType byte.
const (
	VideoPacketTypeSequenceHeader = "sequence_header"
	VideoPacketTypeNALU           = "nalu"
)

// VideoTag is the parsed form of one RTMP video message (message type
// 9): codec, frame kind, packet kind, and the payload with the FLV
// header bytes already stripped.
type VideoTag struct {
	Codec      string
	FrameType  string
	PacketType string
	Payload    []byte
}

// ParseVideoTag parses a raw RTMP video message payload, extending the
// teacher's AVC-only classification to also recognize HEVC packet
// types (FLV's "enhanced RTMP" extension uses the same sequence-header
// vs NALU split for codec id 12 that AVC uses for codec id 7).
func ParseVideoTag(data []byte) (*VideoTag, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("rtmp video: empty payload")
	}
	b0 := data[0]
	frameTypeID := (b0 >> 4) & 0x0F
	codecID := b0 & 0x0F

	vt := &VideoTag{}
	switch frameTypeID {
	case 1:
		vt.FrameType = VideoFrameTypeKey
	case 2:
		vt.FrameType = VideoFrameTypeInter
	default:
		vt.FrameType = fmt.Sprintf("unknown_%d", frameTypeID)
	}

	switch codecID {
	case 7, 12: // AVC, HEVC
		if codecID == 7 {
			vt.Codec = VideoCodecAVC
		} else {
			vt.Codec = VideoCodecHEVC
		}
		if len(data) < 5 {
			return nil, fmt.Errorf("rtmp video: truncated tag (need packet type + composition time)")
		}
		switch data[1] {
		case 0x00:
			vt.PacketType = VideoPacketTypeSequenceHeader
		case 0x01:
			vt.PacketType = VideoPacketTypeNALU
		default:
			vt.PacketType = fmt.Sprintf("unknown_%d", data[1])
		}
		// Skip header byte + packet type byte + 3-byte composition time.
		vt.Payload = data[5:]
	default:
		return nil, fmt.Errorf("rtmp video: unsupported codec id=%d", codecID)
	}
	return vt, nil
}

// BuildVideoTag assembles a raw RTMP video message payload for codec,
// the given frame/packet kind, a zero composition time, and payload.
func BuildVideoTag(codec, frameType, packetType string, payload []byte) ([]byte, error) {
	var codecID byte
	switch codec {
	case VideoCodecAVC:
		codecID = 7
	case VideoCodecHEVC:
		codecID = 12
	default:
		return nil, fmt.Errorf("rtmp video: unknown codec %q", codec)
	}

	var frameTypeID byte
	switch frameType {
	case VideoFrameTypeKey:
		frameTypeID = 1
	case VideoFrameTypeInter:
		frameTypeID = 2
	default:
		return nil, fmt.Errorf("rtmp video: unknown frame type %q", frameType)
	}

	var packetTypeID byte
	switch packetType {
	case VideoPacketTypeSequenceHeader:
		packetTypeID = 0
	case VideoPacketTypeNALU:
		packetTypeID = 1
	default:
		return nil, fmt.Errorf("rtmp video: unknown packet type %q", packetType)
	}

	out := make([]byte, 5+len(payload))
	out[0] = frameTypeID<<4 | codecID
	out[1] = packetTypeID
	// out[2:5] composition time, left zero: passthrough paths carry
	// timing in the RTP timestamp, not FLV composition time.
	copy(out[5:], payload)
	return out, nil
}

// Audio codec identifiers, matching FLV's AudioTagHeader SoundFormat nibble.
const (
	AudioCodecMP3 = "mp3"
	AudioCodecAAC = "aac"
)

// AAC packet types, mirroring the FLV AACPacketType byte.
const (
	AudioPacketTypeSequenceHeader = "sequence_header"
	AudioPacketTypeRaw            = "raw"
)

// AudioTag is the parsed form of one RTMP audio message (message type 8).
type AudioTag struct {
	Codec      string
	PacketType string
	Payload    []byte
}

// ParseAudioTag parses a raw RTMP audio message payload.
func ParseAudioTag(data []byte) (*AudioTag, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("rtmp audio: empty payload")
	}
	soundFormat := (data[0] >> 4) & 0x0F
	at := &AudioTag{}

	switch soundFormat {
	case 2:
		at.Codec = AudioCodecMP3
		at.Payload = data[1:]
	case 10:
		at.Codec = AudioCodecAAC
		if len(data) < 2 {
			return nil, fmt.Errorf("rtmp audio: truncated aac packet (need packet type)")
		}
		switch data[1] {
		case 0x00:
			at.PacketType = AudioPacketTypeSequenceHeader
		case 0x01:
			at.PacketType = AudioPacketTypeRaw
		default:
			at.PacketType = fmt.Sprintf("unknown_%d", data[1])
		}
		at.Payload = data[2:]
	default:
		return nil, fmt.Errorf("rtmp audio: unsupported sound format id=%d", soundFormat)
	}
	return at, nil
}

// BuildAudioTag assembles a raw RTMP audio message payload for AAC;
// MP3 has no packet-type byte so soundFormat alone selects the layout.
func BuildAudioTag(codec, packetType string, payload []byte) ([]byte, error) {
	switch codec {
	case AudioCodecMP3:
		out := make([]byte, 1+len(payload))
		out[0] = 2 << 4
		copy(out[1:], payload)
		return out, nil
	case AudioCodecAAC:
		var packetTypeID byte
		switch packetType {
		case AudioPacketTypeSequenceHeader:
			packetTypeID = 0
		case AudioPacketTypeRaw:
			packetTypeID = 1
		default:
			return nil, fmt.Errorf("rtmp audio: unknown packet type %q", packetType)
		}
		// SoundRate=3 (44kHz), SoundSize=1 (16-bit), SoundType=1 (stereo):
		// nominal values for an AAC ES carried inside RTMP; actual sample
		// rate lives in the AudioSpecificConfig, not this header.
		out := make([]byte, 2+len(payload))
		out[0] = 10<<4 | 3<<2 | 1<<1 | 1
		out[1] = packetTypeID
		copy(out[2:], payload)
		return out, nil
	default:
		return nil, fmt.Errorf("rtmp audio: unknown codec %q", codec)
	}
}

// BuildAVCSequenceHeader assembles an AVCDecoderConfigurationRecord
// from one SPS and one or more PPS NAL units, per ISO/IEC 14496-15 —
// the structure an AVC sequence-header video tag's payload carries, so
// a session that only has SPS/PPS (no prior FLV source) can still
// publish a valid HTTP-FLV/RTC sequence header.
func BuildAVCSequenceHeader(sps []byte, ppsList [][]byte) ([]byte, error) {
	if len(sps) < 4 {
		return nil, fmt.Errorf("rtmp video: sps too short (%d bytes)", len(sps))
	}
	if len(ppsList) == 0 {
		return nil, fmt.Errorf("rtmp video: at least one pps required")
	}

	out := []byte{
		1,        // configurationVersion
		sps[1],   // AVCProfileIndication
		sps[2],   // profile_compatibility
		sps[3],   // AVCLevelIndication
		0xFF,     // reserved(6) + lengthSizeMinusOne=3 (4-byte NALU lengths)
		0xE1,     // reserved(3) + numOfSequenceParameterSets=1
	}
	out = append(out, byte(len(sps)>>8), byte(len(sps)))
	out = append(out, sps...)

	out = append(out, byte(len(ppsList)))
	for _, pps := range ppsList {
		out = append(out, byte(len(pps)>>8), byte(len(pps)))
		out = append(out, pps...)
	}
	return out, nil
}

// BuildHEVCSequenceHeader assembles a minimal HEVCDecoderConfigurationRecord
// from VPS/SPS/PPS NAL units, per ISO/IEC 14496-15 Annex E (simplified:
// a single array entry per NAL type, as real encoders emit for a
// single-layer live stream).
func BuildHEVCSequenceHeader(vps, sps, pps []byte) ([]byte, error) {
	if len(sps) < 2 {
		return nil, fmt.Errorf("rtmp video: hevc sps too short (%d bytes)", len(sps))
	}

	out := []byte{1} // configurationVersion
	// general_profile_space/tier/idc + 32-bit compatibility flags + 48-bit
	// constraint flags + general_level_idc: all zeroed placeholders;
	// nothing is read from the SPS here, and downstream decoders
	// re-derive the authoritative values from the VPS/SPS NAL units we
	// embed below.
	out = append(out, make([]byte, 12)...)
	out = append(out, 0xF0, 0x00) // reserved + min_spatial_segmentation_idc
	out = append(out, 0xFC)       // reserved + parallelismType
	out = append(out, 0xFC)       // reserved + chromaFormat
	out = append(out, 0xF8)       // reserved + bitDepthLumaMinus8
	out = append(out, 0xF8)       // reserved + bitDepthChromaMinus8
	out = append(out, 0x00, 0x00) // avgFrameRate
	out = append(out, 0x0F)       // constantFrameRate(2)+numTemporalLayers(3)+temporalIdNested(1)+lengthSizeMinusOne(2)=3

	arrays := []struct {
		naluType byte
		nalu     []byte
	}{
		{32, vps}, // VPS_NUT
		{33, sps}, // SPS_NUT
		{34, pps}, // PPS_NUT
	}

	count := 0
	for _, a := range arrays {
		if len(a.nalu) > 0 {
			count++
		}
	}
	out = append(out, byte(count))

	for _, a := range arrays {
		if len(a.nalu) == 0 {
			continue
		}
		out = append(out, 0x80|a.naluType) // array_completeness=1, reserved=0, NAL_unit_type
		out = append(out, 0x00, 1)         // numNalus = 1
		out = append(out, byte(len(a.nalu)>>8), byte(len(a.nalu)))
		out = append(out, a.nalu...)
	}
	return out, nil
}
