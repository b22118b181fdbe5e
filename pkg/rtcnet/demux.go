// Package rtcnet implements the UDP and TCP network components: RFC
// 7983 multiplexed-port demultiplexing, a send-socket cache for the
// UDP hot path, RFC 4571 framed TCP ingest, and STUN binding
// request/response construction and validation.
package rtcnet

import "net"

// PacketClass identifies which protocol owns an inbound datagram, per
// RFC 7983's first-byte (and, for RTP/RTCP, second-byte) demux rule.
type PacketClass int

const (
	ClassUnknown PacketClass = iota
	ClassSTUN
	ClassDTLS
	ClassRTP
	ClassRTCP
)

func (c PacketClass) String() string {
	switch c {
	case ClassSTUN:
		return "stun"
	case ClassDTLS:
		return "dtls"
	case ClassRTP:
		return "rtp"
	case ClassRTCP:
		return "rtcp"
	default:
		return "unknown"
	}
}

// Classify implements RFC 7983 §7's demultiplexing table for a single
// 5-tuple carrying STUN, DTLS, and SRTP/SRTCP:
//
//	0  <= byte0 <=  3   STUN
//	20 <= byte0 <= 63   DTLS
//	128 <= byte0 <= 191 RTP or RTCP (disambiguated by byte1)
func Classify(b []byte) PacketClass {
	if len(b) == 0 {
		return ClassUnknown
	}
	switch {
	case b[0] <= 3:
		return ClassSTUN
	case b[0] >= 20 && b[0] <= 63:
		return ClassDTLS
	case b[0] >= 128 && b[0] <= 191:
		if len(b) < 2 {
			return ClassRTP
		}
		if b[1] >= 192 && b[1] <= 223 {
			return ClassRTCP
		}
		return ClassRTP
	default:
		return ClassUnknown
	}
}

// Handler receives one classified datagram along with the peer
// address it arrived from (a *net.UDPAddr for UDP listeners, the
// connection's RemoteAddr for framed TCP sessions).
type Handler func(class PacketClass, data []byte, remote net.Addr)
