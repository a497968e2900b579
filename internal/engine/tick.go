// Package engine provides the tick loop and the lock-guarded simulation that
// hosts a director session for concurrent readers.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// Engine drives the simulation forward at a fixed tick rate.
type Engine struct {
	Tick            uint64        // Current tick counter (monotonic, never resets)
	Interval        time.Duration // Wall-clock tick interval at speed 1
	DT              float64       // Simulated seconds per tick
	CheckpointTicks uint64        // 0 disables checkpoints

	// Callbacks, populated during setup.
	OnTick       func(tick uint64, dt float64) // Every tick
	OnCheckpoint func(tick uint64)             // Every CheckpointTicks

	speed   atomic.Uint64 // float64 bits; 1.0 = real-time, 0 = paused
	running atomic.Bool
}

// NewEngine creates an engine running tickRateHz ticks per simulated second.
func NewEngine(tickRateHz int) *Engine {
	if tickRateHz <= 0 {
		tickRateHz = 20
	}
	e := &Engine{
		Interval: time.Second / time.Duration(tickRateHz),
		DT:       1 / float64(tickRateHz),
	}
	e.SetSpeed(1)
	return e
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	return math.Float64frombits(e.speed.Load())
}

// SetSpeed changes the speed multiplier. Zero pauses; negative values are
// treated as zero.
func (e *Engine) SetSpeed(v float64) {
	if v < 0 || math.IsNaN(v) {
		v = 0
	}
	e.speed.Store(math.Float64bits(v))
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run starts the simulation loop. Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.running.Store(true)
	defer e.running.Store(false)
	slog.Info("simulation engine started", "tick", e.Tick, "speed", e.Speed())

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("simulation engine stopped", "tick", e.Tick)
			return
		case <-timer.C:
		}

		speed := e.Speed()
		if speed <= 0 {
			// Paused, check again shortly.
			timer.Reset(100 * time.Millisecond)
			continue
		}

		start := time.Now()
		e.Step()

		// Sleep for the remainder of the tick interval, adjusted for speed.
		wait := time.Duration(float64(e.Interval)/speed) - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// Step advances the simulation by one tick.
func (e *Engine) Step() {
	e.Tick++

	if e.OnTick != nil {
		e.OnTick(e.Tick, e.DT)
	}

	if e.CheckpointTicks > 0 && e.Tick%e.CheckpointTicks == 0 && e.OnCheckpoint != nil {
		e.OnCheckpoint(e.Tick)
	}
}

// SimTime returns a human-readable session clock for a tick number.
func SimTime(tick uint64, dt float64) string {
	total := time.Duration(float64(tick) * dt * float64(time.Second)).Round(time.Second)
	h := int(total.Hours())
	m := int(total.Minutes()) % 60
	s := int(total.Seconds()) % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
