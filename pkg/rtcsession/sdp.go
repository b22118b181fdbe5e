package rtcsession

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// TrackDirection mirrors the four SDP media directions a track
// description can carry.
type TrackDirection int

const (
	DirSendonly TrackDirection = iota
	DirRecvonly
	DirSendrecv
	DirInactive
)

func (d TrackDirection) attr() string {
	switch d {
	case DirSendonly:
		return "sendonly"
	case DirRecvonly:
		return "recvonly"
	case DirInactive:
		return "inactive"
	default:
		return "sendrecv"
	}
}

// MediaPayloadType is one `a=rtpmap`/`a=fmtp` pair: a payload type
// number, its encoding name/clock/channels, and an already-joined
// format-specific parameter string.
type MediaPayloadType struct {
	PayloadType         uint8
	EncodingName        string
	ClockRate           uint32
	Channels            uint16
	FormatSpecificParam string
}

// H264Params holds the three H.264 fmtp fields SRS negotiates, each
// left empty to omit it from the joined parameter string.
type H264Params struct {
	LevelAsymmetryAllow string
	PacketizationMode   string
	ProfileLevelID      string
}

// buildH264Fmtp joins only the params that are set, in this fixed
// order, matching generate_media_payload_type's H.264 branch.
func buildH264Fmtp(p H264Params) string {
	var parts []string
	if p.LevelAsymmetryAllow != "" {
		parts = append(parts, "level-asymmetry-allowed="+p.LevelAsymmetryAllow)
	}
	if p.PacketizationMode != "" {
		parts = append(parts, "packetization-mode="+p.PacketizationMode)
	}
	if p.ProfileLevelID != "" {
		parts = append(parts, "profile-level-id="+p.ProfileLevelID)
	}
	return strings.Join(parts, ";")
}

// OpusParams holds the Opus fmtp fields. Minptime <= 0 means unset.
type OpusParams struct {
	Minptime     int
	UseInbandFEC bool
	Stereo       bool
	UseDTX       bool
}

// buildOpusFmtp reproduces generate_media_payload_type's Opus branch
// bug-for-bug (spec.md §9 open question #1, kept rather than fixed so
// wire output matches what existing SRS-speaking peers already expect):
// minptime is written without a leading separator when present, but
// every later flag is unconditionally prefixed with ";" regardless of
// whether anything precedes it — so when minptime is unset, the first
// flag still picks up a stray leading ";".
func buildOpusFmtp(p OpusParams) string {
	var out string
	if p.Minptime > 0 {
		out = fmt.Sprintf("minptime=%d", p.Minptime)
	}
	if p.UseInbandFEC {
		out += ";useinbandfec=1"
	}
	if p.Stereo {
		out += ";stereo=1"
	}
	if p.UseDTX {
		out += ";usedtx=1"
	}
	return out
}

// TrackDescription is the SDP-facing shape of a published/subscribed
// track, per spec.md §3's "Track description" data model.
type TrackDescription struct {
	Kind      TrackKind
	ID        string
	SSRC      uint32
	RTXSSRC   uint32
	Direction TrackDirection
	MID       string
	Payload   MediaPayloadType
	IsActive  bool
}

// NegotiationParams is everything BuildAnswer needs to render a local
// SDP answer for one session.
type NegotiationParams struct {
	SessionID       string
	ICEUfrag        string
	ICEPwd          string
	FingerprintAlgo string
	FingerprintHash string
	Candidates      []string // already-formatted `a=candidate:...` values
	Tracks          []TrackDescription
}

// BuildAnswer renders a local SDP answer offering/accepting params's
// tracks with DTLS passive (server) role, the shape C6's Session uses
// once ICE/DTLS negotiation parameters are known.
func BuildAnswer(params NegotiationParams) (string, error) {
	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      0,
			SessionVersion: 2,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: "mediacore",
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		Attributes: []sdp.Attribute{
			{Key: "group", Value: groupLine(params.Tracks)},
			{Key: "ice-ufrag", Value: params.ICEUfrag},
			{Key: "ice-pwd", Value: params.ICEPwd},
			{Key: "fingerprint", Value: params.FingerprintAlgo + " " + params.FingerprintHash},
		},
	}

	for _, t := range params.Tracks {
		md := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   t.Kind.String(),
				Port:    sdp.RangedPort{Value: 9},
				Protos:  []string{"UDP", "TLS", "RTP", "SAVPF"},
				Formats: []string{fmt.Sprintf("%d", t.Payload.PayloadType)},
			},
			ConnectionInformation: &sdp.ConnectionInformation{
				NetworkType: "IN",
				AddressType: "IP4",
				Address:     &sdp.Address{Address: "0.0.0.0"},
			},
		}
		md.Attributes = append(md.Attributes,
			sdp.Attribute{Key: "mid", Value: t.MID},
			sdp.Attribute{Key: "setup", Value: "passive"},
			sdp.Attribute{Key: t.Direction.attr()},
			sdp.Attribute{Key: "rtcp-mux"},
			sdp.Attribute{Key: "rtpmap", Value: fmt.Sprintf("%d %s/%d", t.Payload.PayloadType, t.Payload.EncodingName, t.Payload.ClockRate)},
		)
		if t.Payload.FormatSpecificParam != "" {
			md.Attributes = append(md.Attributes, sdp.Attribute{
				Key:   "fmtp",
				Value: fmt.Sprintf("%d %s", t.Payload.PayloadType, t.Payload.FormatSpecificParam),
			})
		}
		for _, c := range params.Candidates {
			md.Attributes = append(md.Attributes, sdp.Attribute{Key: "candidate", Value: c})
		}
		if t.SSRC != 0 {
			md.Attributes = append(md.Attributes, sdp.Attribute{
				Key:   "ssrc",
				Value: fmt.Sprintf("%d cname:%s", t.SSRC, params.SessionID),
			})
		}
		sd.MediaDescriptions = append(sd.MediaDescriptions, md)
	}

	raw, err := sd.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal sdp answer: %w", err)
	}
	return string(raw), nil
}

func groupLine(tracks []TrackDescription) string {
	mids := make([]string, 0, len(tracks))
	for _, t := range tracks {
		mids = append(mids, t.MID)
	}
	return "BUNDLE " + strings.Join(mids, " ")
}

// ParseOffer extracts the ICE credentials, DTLS fingerprint, and one
// TrackDescription per media section from a remote SDP offer.
func ParseOffer(offer string) (NegotiationParams, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(offer)); err != nil {
		return NegotiationParams{}, fmt.Errorf("unmarshal sdp offer: %w", err)
	}

	params := NegotiationParams{
		ICEUfrag:        sessionAttr(sd.Attributes, "ice-ufrag"),
		ICEPwd:          sessionAttr(sd.Attributes, "ice-pwd"),
		FingerprintAlgo: firstField(sessionAttr(sd.Attributes, "fingerprint")),
	}
	if fp := sessionAttr(sd.Attributes, "fingerprint"); fp != "" {
		if parts := strings.SplitN(fp, " ", 2); len(parts) == 2 {
			params.FingerprintAlgo, params.FingerprintHash = parts[0], parts[1]
		}
	}

	for _, md := range sd.MediaDescriptions {
		kind := TrackVideo
		if md.MediaName.Media == "audio" {
			kind = TrackAudio
		}
		td := TrackDescription{
			Kind: kind,
			MID:  mediaAttr(md.Attributes, "mid"),
		}
		switch {
		case hasAttr(md.Attributes, "sendonly"):
			td.Direction = DirSendonly
		case hasAttr(md.Attributes, "recvonly"):
			td.Direction = DirRecvonly
		case hasAttr(md.Attributes, "inactive"):
			td.Direction = DirInactive
		default:
			td.Direction = DirSendrecv
		}
		if ufrag := mediaAttr(md.Attributes, "ice-ufrag"); ufrag != "" {
			params.ICEUfrag = ufrag
		}
		if pwd := mediaAttr(md.Attributes, "ice-pwd"); pwd != "" {
			params.ICEPwd = pwd
		}
		if ssrc := firstField(mediaAttr(md.Attributes, "ssrc")); ssrc != "" {
			if v, err := strconv.ParseUint(ssrc, 10, 32); err == nil {
				td.SSRC = uint32(v)
			}
		}
		params.Tracks = append(params.Tracks, td)
	}
	return params, nil
}

func sessionAttr(attrs []sdp.Attribute, key string) string {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

func mediaAttr(attrs []sdp.Attribute, key string) string { return sessionAttr(attrs, key) }

func hasAttr(attrs []sdp.Attribute, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

func firstField(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}
