package rtcsession

import (
	"time"

	"github.com/pion/rtcp"

	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
)

// FeedSenderReport extracts the {NTP, RTP ts} pair from an inbound
// RTCP Sender Report and records it against track, so its AV-sync
// mapping reflects the sender's clock.
func FeedSenderReport(track *RecvTrack, sr *rtcp.SenderReport) {
	if sr.SSRC != track.ssrc {
		return
	}
	track.OnSenderReport(mcrtp.NTPTime(sr.NTPTime), sr.RTPTime)
}

// SRClock builds outbound Sender Reports for a SendTrack: it tracks
// the wall-clock-to-RTP-timestamp mapping established at the first
// packet and reports one sample per BuildSenderReport call.
type SRClock struct {
	ssrc      uint32
	clockRate uint32

	haveBase bool
	baseWall time.Time
	baseTS   uint32

	packetCount uint32
	octetCount  uint32
}

// NewSRClock creates a Sender Report generator for an outbound track.
func NewSRClock(ssrc, clockRate uint32) *SRClock {
	return &SRClock{ssrc: ssrc, clockRate: clockRate}
}

// Observe records one outbound packet's wall-clock send time, RTP
// timestamp, and payload size, seeding the wall/RTP mapping on the
// first call.
func (c *SRClock) Observe(sentAt time.Time, rtpTS uint32, payloadLen int) {
	if !c.haveBase {
		c.haveBase = true
		c.baseWall = sentAt
		c.baseTS = rtpTS
	}
	c.packetCount++
	c.octetCount += uint32(payloadLen)
}

// BuildSenderReport returns a Sender Report for now, or (nil, false)
// if no packet has been observed yet.
func (c *SRClock) BuildSenderReport(now time.Time) (*rtcp.SenderReport, bool) {
	if !c.haveBase {
		return nil, false
	}

	elapsed := now.Sub(c.baseWall)
	deltaTS := uint32(elapsed.Seconds() * float64(c.clockRate))
	ntp := mcrtp.FromTimeMs(now.UnixMilli()).NTP64

	return &rtcp.SenderReport{
		SSRC:        c.ssrc,
		NTPTime:     uint64(ntp),
		RTPTime:     c.baseTS + deltaTS,
		PacketCount: c.packetCount,
		OctetCount:  c.octetCount,
	}, true
}
