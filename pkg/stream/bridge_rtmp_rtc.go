package stream

import (
	"fmt"
	"log/slog"

	pionrtp "github.com/pion/rtp"

	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
)

// fuaMTU bounds a single RTP payload so a fragmented NALU's packets
// stay under common network path MTUs.
const fuaMTU = 1200

// RTPSender is the write side of an outbound RTC track: SequenceNumber
// and SSRC are stamped by the implementation (pkg/rtcsession.SendTrack
// satisfies this), so the bridge only fills in Timestamp/Marker/
// PayloadType.
type RTPSender interface {
	Send(hdr pionrtp.Header, payload []byte) error
}

// RTMPToRTCBridge is the inverse of RTCToRTMPBridge: it attaches to a
// Source as a Consumer, extracts NALUs/Access Units from RTMP-framed
// video/audio tags, and sends each NALU to a send track as one raw RTP
// packet when it fits fuaMTU, or as FU-A (FU-Hevc) fragments otherwise;
// NALUs are not aggregated into STAP-A/STAP-Hevc packets. Scheduling
// per the RTP clock is left to the sender's own pacing.
type RTMPToRTCBridge struct {
	logger *slog.Logger

	videoCodec        string
	videoPayloadType  uint8
	audioPayloadType  uint8

	videoSender RTPSender
	audioSender RTPSender
}

// NewRTMPToRTCBridge creates a bridge that packetizes videoCodec
// ("avc"/"hevc") NALUs for videoSender and AAC Access Units for
// audioSender, at the given RTP payload type numbers.
func NewRTMPToRTCBridge(videoCodec string, videoPayloadType, audioPayloadType uint8, videoSender, audioSender RTPSender, logger *slog.Logger) *RTMPToRTCBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &RTMPToRTCBridge{
		logger:           logger.With("component", "bridge_rtmp_rtc"),
		videoCodec:       videoCodec,
		videoPayloadType: videoPayloadType,
		audioPayloadType: audioPayloadType,
		videoSender:      videoSender,
		audioSender:      audioSender,
	}
}

// DeliverMetadata implements Consumer; RTC has no metadata channel, so
// onMetaData payloads are silently dropped.
func (b *RTMPToRTCBridge) DeliverMetadata(data []byte) error { return nil }

// DeliverFrame implements Consumer: parses the RTMP tag and fans its
// NALUs/Access Units out as RTP packets.
func (b *RTMPToRTCBridge) DeliverFrame(f *Frame) error {
	switch f.Kind {
	case FrameVideo:
		return b.deliverVideo(f)
	case FrameAudio:
		return b.deliverAudio(f)
	default:
		return fmt.Errorf("bridge_rtmp_rtc: unknown frame kind %d", f.Kind)
	}
}

func (b *RTMPToRTCBridge) deliverVideo(f *Frame) error {
	if b.videoSender == nil {
		return nil
	}

	vt, err := ParseVideoTag(f.Data)
	if err != nil {
		return fmt.Errorf("parse video tag: %w", err)
	}
	if vt.PacketType == VideoPacketTypeSequenceHeader {
		// Sequence headers describe codec parameters out of band and
		// are not sent as RTP packets.
		return nil
	}

	nalus := splitLengthPrefixedNALUs(vt.Payload)
	if len(nalus) == 0 {
		return nil
	}

	for i, nalu := range nalus {
		last := i == len(nalus)-1
		var chunks [][]byte
		switch b.videoCodec {
		case VideoCodecAVC:
			chunks = mcrtp.EncodeFUA(nalu, fuaMTU)
		case VideoCodecHEVC:
			chunks = mcrtp.EncodeFUHevc(nalu, fuaMTU)
		default:
			return fmt.Errorf("bridge_rtmp_rtc: unknown video codec %q", b.videoCodec)
		}
		for j, chunk := range chunks {
			hdr := pionrtp.Header{
				Version:     2,
				PayloadType: b.videoPayloadType,
				Timestamp:   f.Timestamp,
				Marker:      last && j == len(chunks)-1,
			}
			if err := b.videoSender.Send(hdr, chunk); err != nil {
				return fmt.Errorf("send video rtp: %w", err)
			}
		}
	}
	return nil
}

func (b *RTMPToRTCBridge) deliverAudio(f *Frame) error {
	if b.audioSender == nil {
		return nil
	}

	at, err := ParseAudioTag(f.Data)
	if err != nil {
		return fmt.Errorf("parse audio tag: %w", err)
	}
	if at.PacketType == AudioPacketTypeSequenceHeader {
		return nil
	}

	header := mcrtp.EncodeAACAUHeader(len(at.Payload))
	payload := append(append([]byte(nil), header...), at.Payload...)

	hdr := pionrtp.Header{
		Version:     2,
		PayloadType: b.audioPayloadType,
		Timestamp:   f.Timestamp,
		Marker:      true,
	}
	if err := b.audioSender.Send(hdr, payload); err != nil {
		return fmt.Errorf("send audio rtp: %w", err)
	}
	return nil
}
