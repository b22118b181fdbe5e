// Package rtp implements RTP header codec, NALU payload reassembly,
// sequence/timestamp jitter correction, and NTP/RTP time conversion.
package rtp

// Distance returns the signed 16-bit distance d(a,b) = (int16)(b-a).
//
// Per spec, values exactly 2^15 apart are NOT considered newer — this
// is the deliberate jitter-buffer tie-break convention (see DESIGN.md
// Open Question #2): a pure modular-distance interpretation of
// Distance(0, 32768) would be ambiguous in sign, but IsNewer always
// resolves it to false.
func Distance(a, b uint16) int16 {
	return int16(b - a)
}

// IsNewer reports whether b is newer than a in sequence-number space.
func IsNewer(a, b uint16) bool {
	d := Distance(a, b)
	return d > 0 && d < 1<<15
}

// SeqCorrectThreshold is the default rebase threshold for the sequence
// jitter corrector, expressed in raw sequence-number units.
const SeqCorrectThreshold = 128

// SeqCorrector implements the running base/last-value/last-correct
// jitter correction for 16-bit sequence numbers. TSCorrector in ts.go
// applies the same scheme to 32-bit timestamps; the two are separate
// types since Go's wrap-around arithmetic differs by width.
type SeqCorrector struct {
	threshold   int32
	base        int32
	lastValue   uint16
	lastCorrect uint16
	started     bool
}

// NewSeqCorrector creates a sequence-number jitter corrector with the
// given rebase threshold (defaults to SeqCorrectThreshold when 0).
func NewSeqCorrector(threshold int32) *SeqCorrector {
	if threshold <= 0 {
		threshold = SeqCorrectThreshold
	}
	return &SeqCorrector{threshold: threshold}
}

// Correct rewrites x into a monotonically-continuing output sequence.
// Idempotent: re-submitting the same x returns the same corrected
// value without advancing state.
func (c *SeqCorrector) Correct(x uint16) uint16 {
	if !c.started {
		c.started = true
		c.lastValue = x
		c.lastCorrect = x
		return x
	}

	if x == c.lastValue {
		// Re-submission of the same input: idempotent, no state change.
		return c.lastCorrect
	}

	delta := int32(int16(x - c.lastValue))
	if delta < 0 {
		delta = -delta
	}

	if delta > c.threshold {
		// Reseat the base so output continues from lastCorrect.
		c.base = int32(c.lastCorrect) - int32(x)
	}

	corrected := uint16(int32(x) + c.base)
	c.lastValue = x
	c.lastCorrect = corrected
	return corrected
}

// Reset clears corrector state so the next Correct call reseeds it.
func (c *SeqCorrector) Reset() {
	c.started = false
	c.base = 0
}
