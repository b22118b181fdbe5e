package ring

import (
	"sync"

	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
)

// SenderReportSample is one RTCP Sender Report's {NTP, RTP ts} pair.
type SenderReportSample struct {
	NTP   mcrtp.NTPTime
	RTPTS uint32
}

// SRAccumulator holds the most recent two Sender Reports for a track
// and derives the RTP→absolute-ms mapping spec.md §4.6 requires. It
// tolerates out-of-order and duplicate SR arrival.
type SRAccumulator struct {
	mu         sync.Mutex
	clockRate  uint32
	sr1, sr2   *SenderReportSample // sr2 is always the kept sample with the later RTP timestamp
	haveSR1    bool
	haveSR2    bool
}

// NewSRAccumulator creates an accumulator for a track with the given
// RTP clock rate (e.g. 90000 for video, 48000 for Opus).
func NewSRAccumulator(clockRate uint32) *SRAccumulator {
	return &SRAccumulator{clockRate: clockRate}
}

// AddSR records a Sender Report. Duplicates (a sample equal in both NTP
// and RTPTS to one already kept) are ignored; otherwise the two most recent distinct samples are kept,
// ordered by RTP timestamp rather than arrival order so that SRs
// arriving out of order still produce the canonical mapping.
func (a *SRAccumulator) AddSR(s SenderReportSample) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.haveSR1 && s == *a.sr1 {
		return
	}
	if a.haveSR2 && s == *a.sr2 {
		return
	}

	switch {
	case !a.haveSR1:
		a.sr1 = &s
		a.haveSR1 = true
	case !a.haveSR2:
		a.sr2 = &s
		a.haveSR2 = true
	default:
		a.sr1, a.sr2 = a.sr2, &s
	}

	if a.haveSR1 && a.haveSR2 {
		// Order by RTP timestamp so sr2 is always the later sample,
		// regardless of arrival order.
		if mcrtp.Distance(a.sr1.RTPTS, a.sr2.RTPTS) < 0 {
			a.sr1, a.sr2 = a.sr2, a.sr1
		}
	}
}

// AVSyncMs computes absolute_ms(pkt) = sr2.ntp_ms + (pkt.ts -
// sr2.rtp_ts) * 1000 / clock_rate. Returns (0, false) until two SRs
// have been observed.
func (a *SRAccumulator) AVSyncMs(pktTS uint32) (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.haveSR1 || !a.haveSR2 || a.clockRate == 0 {
		return 0, false
	}

	sr2NtpMs := mcrtp.ToTimeMs(a.sr2.NTP)
	deltaTS := int64(int32(pktTS - a.sr2.RTPTS))
	deltaMs := deltaTS * 1000 / int64(a.clockRate)
	return sr2NtpMs + deltaMs, true
}
