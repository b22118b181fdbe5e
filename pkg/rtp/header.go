package rtp

import (
	"errors"

	pionrtp "github.com/pion/rtp"
)

// ErrPaddingOnCipheredPacket is returned by Decode when the padding
// bit is set on a packet that has not yet been unprotected by SRTP and
// ignore_padding was not requested.
var ErrPaddingOnCipheredPacket = errors.New("rtp: padding bit set on still-ciphered packet")

// FrameType classifies the media kind carried by a packet.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeAudio
	FrameTypeVideo
	FrameTypeScript
)

// PayloadKind is the closed set of payload variants a packet's
// payload can be decoded into.
type PayloadKind int

const (
	PayloadRaw PayloadKind = iota
	PayloadFUA
	PayloadFUA2
	PayloadSTAPA
	PayloadFUHevc
	PayloadFUHevc2
	PayloadSTAPHevc
	PayloadRTCPWrapped
)

// Packet is the decoded representation of a single RTP packet,
// carrying the pion header plus the spec's payload-variant tagging.
type Packet struct {
	Header      pionrtp.Header
	Payload     []byte
	Kind        PayloadKind
	FrameType   FrameType
	NALUType    uint8
	AVSyncMs    int64 // -1 if unknown
}

// decodeOptions controls Decode behavior.
type decodeOptions struct {
	ignorePadding bool
}

// DecodeOption configures Decode.
type DecodeOption func(*decodeOptions)

// IgnorePadding skips the padding-length validation so an outer layer
// (SRTP unprotect) can validate it after decryption.
func IgnorePadding(ignore bool) DecodeOption {
	return func(o *decodeOptions) { o.ignorePadding = ignore }
}

// Decode parses an RTP packet header and payload from raw wire bytes.
// Padding bytes, when present and validated, are stripped from the
// returned Payload and are never interpreted as media payload.
func Decode(buf []byte, opts ...DecodeOption) (*Packet, error) {
	var o decodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	var hdr pionrtp.Header
	n, err := hdr.Unmarshal(buf)
	if err != nil {
		return nil, err
	}
	payload := buf[n:]

	if hdr.Padding {
		if !o.ignorePadding {
			if len(payload) == 0 {
				return nil, ErrPaddingOnCipheredPacket
			}
			padLen := int(payload[len(payload)-1])
			if padLen == 0 || padLen > len(payload) {
				return nil, ErrPaddingOnCipheredPacket
			}
			payload = payload[:len(payload)-padLen]
		}
		// With ignorePadding, leave payload untouched — the caller
		// (SRTP unprotect) will re-run padding validation after
		// decryption.
	}

	return &Packet{
		Header:   hdr,
		Payload:  payload,
		AVSyncMs: -1,
	}, nil
}

// StripPaddingAfterDecrypt applies the padding-length trim to an
// already-decrypted payload. Used by the SRTP layer after
// unprotect, for packets that were decoded with IgnorePadding(true).
func StripPaddingAfterDecrypt(payload []byte, hasPadding bool) ([]byte, error) {
	if !hasPadding {
		return payload, nil
	}
	if len(payload) == 0 {
		return nil, ErrPaddingOnCipheredPacket
	}
	padLen := int(payload[len(payload)-1])
	if padLen == 0 || padLen > len(payload) {
		return nil, ErrPaddingOnCipheredPacket
	}
	return payload[:len(payload)-padLen], nil
}
