package stats

import (
	"context"
	"sync"
	"time"
)

// CPUSampler reports the process's current CPU utilization as a
// fraction in [0,1], the same signal SRS's circuit breaker polls once
// per second from host process stats.
type CPUSampler func() float64

// ThresholdProvider is the narrow slice of config.Provider the breaker
// depends on; config.Provider satisfies it structurally.
type ThresholdProvider interface {
	GetHighThreshold() (pulse int, value int)
	GetCriticalThreshold() (pulse int, value int)
	GetDyingThreshold() (pulse int, value int)
}

// CircuitBreaker tracks three escalating host-load water levels (high,
// critical, dying) from periodic CPU samples, each with its own
// threshold/pulse pair from the config interface's GetHighThreshold/
// GetCriticalThreshold/GetDyingThreshold. Each sample above a level's
// threshold sets that level's counter to its pulse, making it active.
// High and critical then decay by one per below-threshold sample, so a
// level with pulse N stays active for N-1 such samples — this is what
// lets a brief dip not flap the breaker on and off. Dying has no decay
// tail: it clears on the first sample at or below its threshold.
type CircuitBreaker struct {
	cfg     ThresholdProvider
	sampler CPUSampler
	enabled bool

	mu       sync.RWMutex
	high     int
	critical int
	dying    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCircuitBreaker builds a breaker that samples via sampler. enabled
// mirrors SRS's circuit_breaker_enabled config flag: when false, every
// water-level query always reports false regardless of load.
func NewCircuitBreaker(cfg ThresholdProvider, sampler CPUSampler, enabled bool) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, sampler: sampler, enabled: enabled}
}

// Start begins sampling once per second until ctx is cancelled or Stop
// is called.
func (b *CircuitBreaker) Start(ctx context.Context) {
	if !b.enabled {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.ctx = runCtx

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				b.Tick(b.sampler())
			}
		}
	}()
}

// Stop cancels the sampling loop and waits for it to exit.
func (b *CircuitBreaker) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

// Tick feeds one CPU sample through the three water-level counters. It
// is called once per second by Start's loop, and is exported so tests
// can drive the breaker deterministically without a real ticker.
func (b *CircuitBreaker) Tick(cpuFraction float64) {
	percent := cpuFraction * 100

	highPulse, highThreshold := b.cfg.GetHighThreshold()
	criticalPulse, criticalThreshold := b.cfg.GetCriticalThreshold()
	dyingPulse, dyingThreshold := b.cfg.GetDyingThreshold()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.high = decayOrHold(b.high, highPulse, percent, float64(highThreshold))
	b.critical = decayOrHold(b.critical, criticalPulse, percent, float64(criticalThreshold))
	b.dying = 0
	if percent > float64(dyingThreshold) {
		b.dying = dyingPulse
	}
}

func decayOrHold(level, pulse int, percent, threshold float64) int {
	if percent > threshold {
		return pulse
	}
	if level > 0 {
		return level - 1
	}
	return 0
}

// HighWaterLevel reports whether host load is at or above the high
// water mark, including its post-threshold decay tail.
func (b *CircuitBreaker) HighWaterLevel() bool {
	if !b.enabled {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.high > 0
}

// CriticalWaterLevel reports the critical water mark, same semantics as HighWaterLevel.
func (b *CircuitBreaker) CriticalWaterLevel() bool {
	if !b.enabled {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.critical > 0
}

// DyingWaterLevel reports the dying water mark. Unlike HighWaterLevel it
// has no decay tail: it reports false again from the first sample at or
// below the dying threshold.
func (b *CircuitBreaker) DyingWaterLevel() bool {
	if !b.enabled {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dying > 0
}
