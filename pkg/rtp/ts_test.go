package rtp

import "testing"

func TestTSCorrectorIdempotent(t *testing.T) {
	c := NewTSCorrector(0)
	first := c.Correct(90000)
	again := c.Correct(90000)
	if first != again {
		t.Fatalf("re-submitting same ts gave %d then %d", first, again)
	}
}

func TestTSCorrectorRebaseOnLargeJump(t *testing.T) {
	c := NewTSCorrector(TSCorrectThreshold90k)
	c.Correct(90000)
	last := c.Correct(93600) // +1 frame at 25fps/90kHz

	jumped := c.Correct(90000 + 10_000_000) // far beyond 3s threshold
	if jumped != last {
		t.Fatalf("after rebase got %d, want %d (continue from last)", jumped, last)
	}
}
