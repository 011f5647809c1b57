// Package machine holds the data model shared across the foreground
// program and the simulated stepper-interrupt context: the run-state enum,
// the step-counted machine position, the pending-action bitset, and the
// planned-motion Block type that the planner and stepper executor both
// operate on.
package machine

import "sync/atomic"

// RunState enumerates the machine's top-level operating state (§4.5).
type RunState uint8

const (
	StateInit RunState = iota
	StateIdle
	StateQueued
	StateCycle
	StateHold
	StateHoming
	StateAlarm
	StateCheckMode
)

// String renders the state the way it appears in status reports (§6).
func (s RunState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateIdle:
		return "Idle"
	case StateQueued:
		return "Queue"
	case StateCycle:
		return "Run"
	case StateHold:
		return "Hold"
	case StateHoming:
		return "Home"
	case StateAlarm:
		return "Alarm"
	case StateCheckMode:
		return "Check"
	default:
		return "Unknown"
	}
}

// Pending is a bitset of runtime actions raised from simulated interrupt
// context and consumed by the foreground runtime coordinator.
type Pending uint32

const (
	PendingStatusReport      Pending = 1 << 0
	PendingCycleStart        Pending = 1 << 1
	PendingFeedHold          Pending = 1 << 2
	PendingCycleStop         Pending = 1 << 3
	PendingFeedHoldComplete  Pending = 1 << 4
	PendingResetAlarm        Pending = 1 << 5
	PendingAbort             Pending = 1 << 6
)

// NAxes is the number of linear axes this system drives (§1 Non-goals: no
// more than three).
const NAxes = 3

// System is the process-wide singleton shared between the planner
// (foreground producer), the stepper executor (simulated interrupt
// consumer), and the runtime coordinator. Position is mutated only by the
// stepper executor while a block is executing, and by homing; State
// transitions obey §4.5.
type System struct {
	state     atomic.Uint32 // RunState, accessed atomically so status reports never tear
	position  [NAxes]atomic.Int32
	pending   atomic.Uint32
	autoStart atomic.Bool
}

// NewSystem returns a System in StateInit with zeroed position.
func NewSystem() *System {
	s := &System{}
	s.state.Store(uint32(StateInit))
	return s
}

// State returns the current run state.
func (s *System) State() RunState {
	return RunState(s.state.Load())
}

// SetState transitions to the given run state.
func (s *System) SetState(next RunState) {
	s.state.Store(uint32(next))
}

// Position returns a consistent snapshot of the machine position. Reading
// three independent atomics cannot tear a single axis, which is the only
// guarantee §5 requires of a status-report read.
func (s *System) Position() [NAxes]int32 {
	var p [NAxes]int32
	for i := range p {
		p[i] = s.position[i].Load()
	}
	return p
}

// SetPosition overwrites the machine position outright (used by homing and
// by G92-equivalent resets).
func (s *System) SetPosition(p [NAxes]int32) {
	for i := range p {
		s.position[i].Store(p[i])
	}
}

// StepAxis adjusts one axis's step count by +1 or -1. Called only from the
// stepper executor while a block is executing.
func (s *System) StepAxis(axis int, positive bool) {
	if positive {
		s.position[axis].Add(1)
	} else {
		s.position[axis].Add(-1)
	}
}

// RaisePending ORs flags into the pending bitset. Safe to call from
// simulated interrupt context.
func (s *System) RaisePending(flags Pending) {
	for {
		cur := s.pending.Load()
		next := cur | uint32(flags)
		if cur == next || s.pending.CompareAndSwap(cur, next) {
			return
		}
	}
}

// TestAndClear reports whether any bit in flags is set, clearing exactly
// those bits atomically, and returns the bits that were actually set.
func (s *System) TestAndClear(flags Pending) Pending {
	for {
		cur := s.pending.Load()
		hit := cur & uint32(flags)
		if hit == 0 {
			return 0
		}
		if s.pending.CompareAndSwap(cur, cur&^hit) {
			return Pending(hit)
		}
	}
}

// PendingFlags returns a snapshot of the pending bitset without clearing it.
func (s *System) PendingFlags() Pending {
	return Pending(s.pending.Load())
}

// AutoStart reports the auto-start flag (§3, §4.5).
func (s *System) AutoStart() bool {
	return s.autoStart.Load()
}

// SetAutoStart sets the auto-start flag.
func (s *System) SetAutoStart(v bool) {
	s.autoStart.Store(v)
}
