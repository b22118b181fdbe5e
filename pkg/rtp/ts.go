package rtp

// TSCorrectThreshold90k is the default rebase threshold for a 90kHz
// clock: approximately 3 seconds of samples (90000 * 3).
const TSCorrectThreshold90k = 270000

// TSCorrector is the 32-bit timestamp analogue of SeqCorrector. RTP
// timestamps wrap at 2^32; the detect-threshold is clock-rate
// dependent (callers pass ~3s worth of samples for their clock rate).
type TSCorrector struct {
	threshold   int64
	base        int64
	lastValue   uint32
	lastCorrect uint32
	started     bool
}

// NewTSCorrector creates a timestamp jitter corrector. threshold is in
// raw RTP timestamp units (e.g. TSCorrectThreshold90k for a 90kHz
// clock); 0 defaults to TSCorrectThreshold90k.
func NewTSCorrector(threshold int64) *TSCorrector {
	if threshold <= 0 {
		threshold = TSCorrectThreshold90k
	}
	return &TSCorrector{threshold: threshold}
}

// Correct rewrites x into a monotonically-continuing output timestamp.
// Idempotent: re-submitting the same x returns the same corrected
// value. Tolerates callers that decrease the value (rollback) as long
// as the magnitude stays within threshold, and re-bases across
// detect-threshold jumps symmetrically in either direction.
func (c *TSCorrector) Correct(x uint32) uint32 {
	if !c.started {
		c.started = true
		c.lastValue = x
		c.lastCorrect = x
		return x
	}

	if x == c.lastValue {
		return c.lastCorrect
	}

	delta := int64(int32(x - c.lastValue))
	if delta < 0 {
		delta = -delta
	}

	if delta > c.threshold {
		c.base = int64(c.lastCorrect) - int64(x)
	}

	corrected := uint32(int64(x) + c.base)
	c.lastValue = x
	c.lastCorrect = corrected
	return corrected
}

// Reset clears corrector state so the next Correct call reseeds it.
func (c *TSCorrector) Reset() {
	c.started = false
	c.base = 0
}
