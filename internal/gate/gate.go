// Package gate decides, per metric, whether a fresh sample is worth
// transmitting.
//
// A metric is emitted on its first sample, whenever interval_s has
// elapsed since its last emission, or whenever its value moved by more
// than change_threshold_percent relative to the last emitted value.
package gate

import (
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/telemetryd/internal/cfgstore"
)

// RuntimeState is what the gate remembers about a metric's last emission.
type RuntimeState struct {
	LastValue float64
	LastAt    time.Time
	Emitted   bool
}

// ShouldEmit is the gating rule. It has no side effects.
func ShouldEmit(cfg cfgstore.MetricConfig, configured bool, state RuntimeState, value float64, now time.Time) bool {
	if !configured || !cfg.Enabled {
		return false
	}
	if !state.Emitted {
		return true
	}

	// Compared in float seconds; interval_s has no upper bound and would
	// overflow a time.Duration.
	if now.Sub(state.LastAt).Seconds() >= cfg.IntervalS {
		return true
	}

	return RelativeChangePercent(state.LastValue, value) > cfg.ChangeThresholdPercent
}

// RelativeChangePercent returns |next-prev| / |prev| * 100. A zero
// baseline yields +Inf for any non-zero next value and 0 otherwise.
func RelativeChangePercent(prev, next float64) float64 {
	if prev == 0 {
		if next == 0 {
			return 0
		}
		return math.Inf(1)
	}

	return math.Abs(next-prev) / math.Abs(prev) * 100
}

// Gate holds the runtime state of every metric it has seen.
type Gate struct {
	mu     sync.Mutex
	states map[string]RuntimeState
}

func New() *Gate {
	return &Gate{states: make(map[string]RuntimeState)}
}

// Observe decides whether value should be emitted and, if so, records
// the emission. The decision and the update happen under one lock.
func (g *Gate) Observe(name string, value float64, cfg cfgstore.MetricConfig, configured bool, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !ShouldEmit(cfg, configured, g.states[name], value, now) {
		return false
	}

	g.states[name] = RuntimeState{LastValue: value, LastAt: now, Emitted: true}

	return true
}

// State returns the runtime state of a metric.
func (g *Gate) State(name string) (RuntimeState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[name]

	return st, ok
}

// Reset forgets every recorded emission.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.states = make(map[string]RuntimeState)
}
