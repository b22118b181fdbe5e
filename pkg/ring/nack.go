package ring

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
)

// NackConfig tunes the lost-packet timer gates.
type NackConfig struct {
	NackInterval time.Duration // minimum age before a lost seq is nack'd
	MaxWait      time.Duration // age beyond which a lost seq is given up on
	RateLimit    rate.Limit    // max NACK RTCP packets/sec emitted by Tick
}

// DefaultNackConfig matches common WebRTC jitter-buffer defaults.
func DefaultNackConfig() NackConfig {
	return NackConfig{
		NackInterval: 20 * time.Millisecond,
		MaxWait:      1 * time.Second,
		RateLimit:    50,
	}
}

type lostEntry struct {
	firstSeen time.Time
	retries   int
}

// Generator tracks expected sequence numbers for one receive track and
// produces NACK RTCP packets for gaps, per §4.2.
type Generator struct {
	mu           sync.Mutex
	cfg          NackConfig
	limiter      *rate.Limiter
	haveBaseline bool
	expected     uint16
	lost         map[uint16]*lostEntry

	timeoutNacks uint64
}

// NewGenerator creates a NACK generator for one SSRC.
func NewGenerator(cfg NackConfig) *Generator {
	if cfg.NackInterval <= 0 || cfg.MaxWait <= 0 {
		cfg = DefaultNackConfig()
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = DefaultNackConfig().RateLimit
	}
	return &Generator{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		lost:    make(map[uint16]*lostEntry),
	}
}

// OnRTP marks seq as received, inserting any gap since the last
// expected sequence as lost (with a "first seen" timestamp).
func (g *Generator) OnRTP(seq uint16, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.lost, seq)

	if !g.haveBaseline {
		g.haveBaseline = true
		g.expected = seq + 1
		return
	}

	dist := mcrtp.Distance(g.expected, seq)
	if dist < 0 {
		// Late arrival or retransmission of an already-passed
		// sequence; already cleared from lost above, expected unchanged.
		return
	}

	for s := g.expected; s != seq; s++ {
		if _, ok := g.lost[s]; !ok {
			g.lost[s] = &lostEntry{firstSeen: now}
		}
	}
	g.expected = seq + 1
}

// Tick evaluates the lost set against the timer gates, returning the
// sequence numbers that are now old enough to NACK (and bumping their
// retry count), and separately counting (and dropping) those that
// have exceeded MaxWait as timeout_nacks.
func (g *Generator) Tick(now time.Time) []uint16 {
	g.mu.Lock()
	var toNack []uint16
	for seq, entry := range g.lost {
		age := now.Sub(entry.firstSeen)
		if age >= g.cfg.MaxWait {
			g.timeoutNacks++
			delete(g.lost, seq)
			continue
		}
		if age >= g.cfg.NackInterval {
			entry.retries++
			toNack = append(toNack, seq)
		}
	}
	g.mu.Unlock()

	if len(toNack) == 0 {
		return nil
	}
	sort.Slice(toNack, func(i, j int) bool { return toNack[i] < toNack[j] })

	if !g.limiter.AllowN(now, 1) {
		return nil
	}
	return toNack
}

// TimeoutNacks returns the count of lost sequences given up on.
func (g *Generator) TimeoutNacks() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timeoutNacks
}
