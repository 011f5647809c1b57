// Package stepper is the simulated-interrupt-context executor of spec.md
// §4.3/§4.4: it drains blocks from the block buffer one step event at a
// time, toggling step/direction outputs on a Bresenham schedule and riding
// the trapezoid rate curve the planner already computed, exactly the way
// the primary and pulse-reset timer interrupts of original GRBL's
// stepper.c cooperate on real hardware.
package stepper

import (
	"math"

	"github.com/Smitter/GRBL-LM4F120H5QR/blockbuffer"
	"github.com/Smitter/GRBL-LM4F120H5QR/core"
	"github.com/Smitter/GRBL-LM4F120H5QR/machine"
	"github.com/Smitter/GRBL-LM4F120H5QR/planner"
)

// Config wires the executor to the physical step/direction lines.
type Config struct {
	Step [machine.NAxes]*core.DigitalOut
	Dir  [machine.NAxes]*core.DigitalOut

	PulseMicroseconds float64 // step pulse width, settings $3
}

// Runtime drives one block buffer to completion, step by step. It is not
// safe for concurrent use from more than one goroutine — on real hardware
// this is interrupt-context code, and the host simulation preserves that
// by running only from core.Dispatch.
type Runtime struct {
	cfg *Config
	buf *blockbuffer.Buffer
	pl  *planner.Planner
	sys *machine.System

	stepTimer  core.Timer
	pulseTimer core.Timer

	busy bool

	block          *machine.Block
	eventCount     uint32 // Bresenham modulus, fixed for the life of the loaded block
	stepsCompleted uint32
	counter        [machine.NAxes]int32

	outBits uint8 // step bits currently latched high on the physical pins
	dirBits uint8 // direction bits currently latched on the physical pins

	// pendingStepBits/pendingDirBits hold the output state computed on the
	// current tick but not yet applied to a pin. GRBL's real ISR writes
	// physical pins from the out_bits the *previous* invocation computed,
	// then rebuilds out_bits fresh for the tick after that — direction is
	// never latched once per block and a step pulse never goes out the
	// same tick its Bresenham counters were updated
	// (original_source/stepper.c:172-347; spec.md §4.3 steps 2-3, 10;
	// Design Notes §9(a)). These two fields carry that one-tick delay.
	pendingStepBits uint8
	pendingDirBits  uint8
	// flushOnly marks a step-timer tick scheduled purely to apply a
	// pendingStepBits/pendingDirBits left over from the step that just
	// finished or parked the block, with no further Bresenham work to do.
	flushOnly bool

	rate           float64 // current step rate, steps/s
	tickAccum      float64 // fractional acceleration-tick accumulator (trapezoid_tick_cycle_counter)
	cyclesPerEvent float64

	holding bool // feed hold in progress: ignore the block's own trapezoid phase and always decelerate
	parked  bool // holding and rate has reached zero; waiting for CycleReinitialize
}

// New builds a Runtime bound to a config, block buffer, planner, and shared
// system state. The planner reference is used only by CycleReinitialize.
func New(cfg *Config, buf *blockbuffer.Buffer, pl *planner.Planner, sys *machine.System) *Runtime {
	r := &Runtime{cfg: cfg, buf: buf, pl: pl, sys: sys}
	r.stepTimer.Priority = core.PriorityStep
	r.stepTimer.Handler = r.onStepTimer
	r.pulseTimer.Priority = core.PriorityPulse
	r.pulseTimer.Handler = r.onPulseTimer
	return r
}

// IsRunning reports whether a block is loaded and the executor is not
// parked in a completed feed hold.
func (r *Runtime) IsRunning() bool {
	return r.block != nil && !r.parked
}

// IsParked reports whether the executor is holding a partially-consumed
// block at rate zero, waiting on CycleReinitialize to hand the remainder
// back to the planner. Idle-with-buffered-work never sets this, which is
// what lets handleCycleStart tell the two StateQueued cases apart.
func (r *Runtime) IsParked() bool {
	return r.parked
}

// Start arms the executor if it is idle and the buffer holds work. It is
// the equivalent of GRBL's st_wake_up.
func (r *Runtime) Start() {
	if r.IsRunning() {
		return
	}
	if r.block == nil && !r.loadNextBlock() {
		return
	}
	r.holding = false
	r.parked = false
	r.flushOnly = false
	core.UnscheduleTimer(&r.stepTimer)
	r.stepTimer.WakeTime = core.GetTime() + 1
	core.ScheduleTimer(&r.stepTimer)
	r.sys.SetState(machine.StateCycle)
}

// Stop unconditionally halts stepping and drops the loaded block, the
// equivalent of GRBL's st_go_idle called from a hard reset/abort path. The
// caller is responsible for resetting the buffer if that's appropriate.
func (r *Runtime) Stop() {
	core.UnscheduleTimer(&r.stepTimer)
	core.UnscheduleTimer(&r.pulseTimer)
	r.block = nil
	r.holding = false
	r.parked = false
	r.stepsCompleted = 0
	r.rate = 0
	r.tickAccum = 0
	r.counter = [machine.NAxes]int32{}
	r.outBits = 0
	r.pendingStepBits = 0
	r.pendingDirBits = 0
	r.flushOnly = false
}

// RequestHold puts the executor into feed-hold mode: from the next tick
// onward it decelerates at the current block's own rate_delta regardless of
// where the block's own accelerate/cruise/decelerate boundaries are, and
// keeps decelerating across a block boundary without resetting the
// acceleration-tick counter (§4.4's feed-hold note).
func (r *Runtime) RequestHold() {
	r.holding = true
}

// CycleReinitialize resumes from a completed feed hold: it hands the
// planner the exact number of step events left in the block that was
// interrupted, then restarts the trapezoid from a zero entry rate. Mirrors
// st_cycle_reinitialize in original_source/stepper.c.
func (r *Runtime) CycleReinitialize() {
	if r.block != nil {
		remaining := r.block.StepEventCount - r.stepsCompleted
		r.pl.CycleReinitialize(remaining)
		r.block = r.pl.GetCurrentBlock()
		r.stepsCompleted = 0
	}
	r.rate = 0
	r.tickAccum = float64(machine.CyclesPerAccelerationTick) / 2
	r.holding = false
	r.parked = false
	r.pendingStepBits = 0
	r.flushOnly = false
	if r.block != nil {
		r.pendingDirBits = r.block.DirectionBits
		r.cyclesPerEvent = machine.TimerFrequencyHz / machine.MinimumStepsPerSecond
		r.sys.SetState(machine.StateCycle)
		core.UnscheduleTimer(&r.stepTimer)
		r.stepTimer.WakeTime = core.GetTime() + 1
		core.ScheduleTimer(&r.stepTimer)
	} else {
		r.sys.SetState(machine.StateIdle)
	}
}

// loadNextBlock pulls the block at the buffer tail into the executor,
// seeding the Bresenham counters and initial rate. Returns false if the
// buffer is empty. Direction is not written to the physical pins here — it
// is only ever applied through pendingDirBits, one tick after it's read
// (see the Runtime.pendingDirBits doc comment).
func (r *Runtime) loadNextBlock() bool {
	blk := r.buf.PeekCurrent()
	if blk == nil {
		return false
	}
	r.block = blk
	r.eventCount = blk.StepEventCount
	r.stepsCompleted = 0
	r.rate = blk.InitialRate
	r.tickAccum = float64(machine.CyclesPerAccelerationTick) / 2
	for i := 0; i < machine.NAxes; i++ {
		r.counter[i] = -int32(r.eventCount / 2)
	}
	r.pendingStepBits = 0
	r.pendingDirBits = blk.DirectionBits
	r.flushOnly = false
	rate := r.rate
	if rate < machine.MinimumStepsPerSecond {
		rate = machine.MinimumStepsPerSecond
	}
	r.cyclesPerEvent = machine.TimerFrequencyHz / rate
	return true
}

// goIdle stops the executor because the buffer has drained.
func (r *Runtime) goIdle() {
	core.UnscheduleTimer(&r.stepTimer)
	r.block = nil
	if r.sys.State() == machine.StateCycle {
		r.sys.SetState(machine.StateIdle)
	}
}

// onStepTimer is the primary interrupt: it applies the output bits the
// previous tick computed, fires the current step event, advances the
// trapezoid, and schedules the next event.
func (r *Runtime) onStepTimer(t *core.Timer) uint8 {
	if r.busy {
		return core.SFDone
	}
	r.busy = true
	defer func() { r.busy = false }()

	// Apply last tick's output before computing anything new for this one.
	if r.pendingDirBits != r.dirBits {
		for i := 0; i < machine.NAxes; i++ {
			positive := r.pendingDirBits&(1<<uint(i)) == 0
			r.cfg.Dir[i].Set(!positive)
		}
		r.dirBits = r.pendingDirBits
	}
	r.outBits = r.pendingStepBits
	r.pendingStepBits = 0
	for i := 0; i < machine.NAxes; i++ {
		if r.outBits&(machine.StepBitX<<uint(i)) != 0 {
			r.cfg.Step[i].Set(true)
		}
	}
	if r.outBits != 0 {
		r.pulseTimer.WakeTime = core.GetTime() + pulseTicks(r.cfg.PulseMicroseconds)
		core.ScheduleTimer(&r.pulseTimer)
	}

	if r.flushOnly {
		r.flushOnly = false
		return core.SFDone
	}

	if r.block == nil {
		rate, accum := r.rate, r.tickAccum
		if !r.loadNextBlock() {
			r.goIdle()
			return core.SFDone
		}
		if r.holding {
			// A hold keeps decelerating from its current rate and tick
			// phase instead of restarting at the next block's entry rate.
			r.rate, r.tickAccum = rate, accum
		}
	}

	r.pendingDirBits = r.block.DirectionBits
	for i := 0; i < machine.NAxes; i++ {
		r.counter[i] += int32(r.block.Steps[i])
		if r.counter[i] > 0 {
			r.pendingStepBits |= machine.StepBitX << uint(i)
			r.counter[i] -= int32(r.eventCount)
			r.sys.StepAxis(i, r.block.DirectionBits&(1<<uint(i)) == 0)
		}
	}

	r.stepsCompleted++
	done := r.stepsCompleted >= r.block.StepEventCount
	if done {
		r.buf.DiscardCurrent()
		r.block = nil
		if r.buf.Empty() && !r.parked && r.sys.State() == machine.StateCycle {
			r.sys.SetState(machine.StateIdle)
		}
	} else {
		r.advanceTrapezoid()
	}
	if r.parked || (done && r.buf.Empty()) {
		// The last queued block finished or the hold parked mid-block: one
		// more tick is still needed purely to apply the pendingStepBits/
		// pendingDirBits just computed, then the timer goes back to sleep.
		// When more blocks are queued, the next tick loads the next one. The state
		// transition above doesn't wait for that — it's already final.
		r.flushOnly = true
	}

	t.WakeTime = core.GetTime() + uint32(math.Round(r.cyclesPerEvent))
	if t.WakeTime <= core.GetTime() {
		t.WakeTime = core.GetTime() + 1
	}
	return core.SFReschedule
}

// advanceTrapezoid moves rate towards the current phase's target, per
// §4.4's accelerate/cruise/decelerate/hold policy, and recomputes the
// per-event tick interval. It runs once per step event (not once per
// acceleration tick); tickDue gates how often the rate itself actually
// changes, mirroring iterate_trapezoid_cycle_counter in
// original_source/stepper.c.
func (r *Runtime) advanceTrapezoid() {
	blk := r.block
	switch {
	case r.holding:
		if r.tickDue() {
			r.rate -= blk.RateDelta
			if r.rate <= 0 {
				r.rate = 0
				r.parked = true
				r.sys.RaisePending(machine.PendingFeedHoldComplete)
			}
		}
	case r.stepsCompleted < blk.AccelerateUntil:
		if r.tickDue() {
			r.rate += blk.RateDelta
			if r.rate > blk.NominalRate {
				r.rate = blk.NominalRate
			}
		}
	case r.stepsCompleted >= blk.DecelerateAfter:
		if r.stepsCompleted == blk.DecelerateAfter {
			// trapezoid_tick_cycle_counter is reseeded exactly once, right
			// as deceleration begins (spec.md §9(c),
			// original_source/stepper.c:297-307): a block that actually
			// reached nominal rate restarts the counter at the half-tick
			// midpoint, same as a fresh block load; one that never got
			// there (a collapsed triangle) counts down from wherever the
			// accumulator already sat, so the deceleration ramp mirrors
			// the acceleration ramp that preceded it instead of resetting
			// its phase.
			if r.rate >= blk.NominalRate {
				r.tickAccum = float64(machine.CyclesPerAccelerationTick) / 2
			} else {
				r.tickAccum = float64(machine.CyclesPerAccelerationTick) - r.tickAccum
			}
		} else if r.tickDue() {
			// min_safe_rate = rate_delta * 1.5 (original_source/stepper.c:215,
			// 309-329): once rate_delta itself would carry the rate to
			// zero or below on the next few ticks, halve the rate instead
			// of subtracting, then clamp up to final_rate if that
			// undershoots. Plain subtraction alone can walk the rate
			// negative through accumulated rounding on a short final
			// segment.
			minSafeRate := blk.RateDelta + blk.RateDelta/2
			if r.rate > minSafeRate {
				r.rate -= blk.RateDelta
			} else {
				r.rate /= 2
			}
			if r.rate < blk.FinalRate {
				r.rate = blk.FinalRate
			}
		}
	default:
		r.rate = blk.NominalRate
	}

	rate := r.rate
	if rate < machine.MinimumStepsPerSecond {
		rate = machine.MinimumStepsPerSecond
	}
	r.cyclesPerEvent = machine.TimerFrequencyHz / rate
}

// tickDue accumulates cyclesPerEvent into the acceleration-tick counter and
// reports whether a full acceleration tick has elapsed, consuming it if so.
func (r *Runtime) tickDue() bool {
	r.tickAccum += r.cyclesPerEvent
	if r.tickAccum >= float64(machine.CyclesPerAccelerationTick) {
		r.tickAccum -= float64(machine.CyclesPerAccelerationTick)
		return true
	}
	return false
}

// onPulseTimer is the secondary interrupt: it clears whatever step pins the
// primary interrupt just raised, giving every step pulse a bounded width
// independent of how fast the primary interrupt is re-firing.
func (r *Runtime) onPulseTimer(*core.Timer) uint8 {
	for i := 0; i < machine.NAxes; i++ {
		if r.outBits&(machine.StepBitX<<uint(i)) != 0 {
			r.cfg.Step[i].Set(false)
		}
	}
	r.outBits = 0
	return core.SFDone
}

func pulseTicks(microseconds float64) uint32 {
	ticks := microseconds * machine.TimerFrequencyHz / 1_000_000
	if ticks < 1 {
		ticks = 1
	}
	return uint32(math.Round(ticks))
}
