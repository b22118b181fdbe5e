package ring

import (
	"sort"
	"testing"
	"time"
)

func lostSeqs(g *Generator) []uint16 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]uint16, 0, len(g.lost))
	for seq := range g.lost {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// End-to-end #6: a lost-set accumulated by OnRTP survives an
// encode→decode round trip bit-identically.
func TestGeneratorLostSetSurvivesNackRoundTrip(t *testing.T) {
	g := NewGenerator(NackConfig{NackInterval: time.Millisecond, MaxWait: time.Hour, RateLimit: 1000})
	base := time.Now()

	g.OnRTP(100, base)
	// seqs 101..104 are a gap.
	g.OnRTP(105, base)
	g.OnRTP(110, base)
	// seqs 106..109 are a gap.

	want := []uint16{101, 102, 103, 104, 106, 107, 108, 109}
	got := lostSeqs(g)
	if len(got) != len(want) {
		t.Fatalf("lost = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("lost = %v, want %v", got, want)
		}
	}

	toNack := g.Tick(base.Add(10 * time.Millisecond))
	pkt := EncodeNack(1, 2, toNack)
	decoded := DecodeNack(pkt)
	sort.Slice(decoded, func(i, j int) bool { return decoded[i] < decoded[j] })

	if len(decoded) != len(want) {
		t.Fatalf("decoded = %v, want %v", decoded, want)
	}
	for i := range want {
		if decoded[i] != want[i] {
			t.Fatalf("decoded = %v, want %v", decoded, want)
		}
	}
}

func TestGeneratorIgnoresLateArrival(t *testing.T) {
	g := NewGenerator(DefaultNackConfig())
	base := time.Now()

	g.OnRTP(10, base)
	g.OnRTP(12, base) // gap at 11
	if got := lostSeqs(g); len(got) != 1 || got[0] != 11 {
		t.Fatalf("lost = %v, want [11]", got)
	}

	// A stale/duplicate arrival of an already-passed sequence must not
	// rewind `expected` or otherwise disturb the lost set.
	g.OnRTP(5, base)
	if got := lostSeqs(g); len(got) != 1 || got[0] != 11 {
		t.Fatalf("lost after late arrival = %v, want [11]", got)
	}
}

func TestGeneratorClearsOnLateRecovery(t *testing.T) {
	g := NewGenerator(DefaultNackConfig())
	base := time.Now()

	g.OnRTP(1, base)
	g.OnRTP(4, base) // gap at 2, 3
	g.OnRTP(2, base) // recovered out of order

	got := lostSeqs(g)
	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("lost = %v, want [3]", got)
	}
}

func TestGeneratorTimeoutDropsEntryAndCountsIt(t *testing.T) {
	cfg := NackConfig{NackInterval: time.Millisecond, MaxWait: 5 * time.Millisecond, RateLimit: 1000}
	g := NewGenerator(cfg)
	base := time.Now()

	g.OnRTP(1, base)
	g.OnRTP(3, base) // gap at 2

	_ = g.Tick(base.Add(10 * time.Millisecond))
	if got := g.TimeoutNacks(); got != 1 {
		t.Fatalf("TimeoutNacks() = %d, want 1", got)
	}
	if got := lostSeqs(g); len(got) != 0 {
		t.Fatalf("lost after timeout = %v, want empty", got)
	}
}

func TestGeneratorTickBeforeIntervalReturnsNothing(t *testing.T) {
	cfg := NackConfig{NackInterval: 50 * time.Millisecond, MaxWait: time.Second, RateLimit: 1000}
	g := NewGenerator(cfg)
	base := time.Now()

	g.OnRTP(1, base)
	g.OnRTP(3, base) // gap at 2

	if got := g.Tick(base.Add(time.Millisecond)); got != nil {
		t.Fatalf("Tick before NackInterval elapsed = %v, want nil", got)
	}
}
