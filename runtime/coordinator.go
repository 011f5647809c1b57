// Package runtime is the foreground state-machine coordinator of spec.md
// §4.5: it drains machine.System's pending bitset (raised from simulated
// interrupt context by the stepper executor and from real-time serial
// bytes) and drives the documented state transitions between Idle, Queue,
// Cycle, Hold, Homing, Alarm, and Check. It is the Go analogue of GRBL's
// protocol_execute_runtime plus the cycle-start/feed-hold branches of
// main.c's loop.
package runtime

import (
	"fmt"

	"github.com/Smitter/GRBL-LM4F120H5QR/machine"
	"github.com/Smitter/GRBL-LM4F120H5QR/planner"
	"github.com/Smitter/GRBL-LM4F120H5QR/stepper"
)

// Coordinator owns no state of its own beyond wiring: every bit it reacts
// to lives in machine.System, so it can be polled from the same
// single-threaded loop that also services the serial line.
type Coordinator struct {
	sys *machine.System
	pl  *planner.Planner
	st  *stepper.Runtime

	// WorkOffset reports the active work-coordinate offset (G92/G5x),
	// subtracted from machine position to print WPos in status reports.
	// Nil is treated as a zero offset.
	WorkOffset func() [machine.NAxes]float64

	// OnAlarm is invoked whenever the machine enters StateAlarm, with a
	// human-readable reason, so the serial layer can emit an ALARM message.
	OnAlarm func(reason string)

	// OnStatusReport is invoked with a fully formatted status line
	// (including the trailing "\r\n") whenever a '?' real-time byte raises
	// machine.PendingStatusReport.
	OnStatusReport func(line string)

	// StepsPerMM converts the step-counted machine position into the
	// millimeters a status report prints.
	StepsPerMM [machine.NAxes]float64
}

// New builds a Coordinator over an already-wired planner and stepper.
func New(sys *machine.System, pl *planner.Planner, st *stepper.Runtime) *Coordinator {
	return &Coordinator{sys: sys, pl: pl, st: st}
}

const pollMask = machine.PendingStatusReport |
	machine.PendingCycleStart |
	machine.PendingFeedHold |
	machine.PendingCycleStop |
	machine.PendingFeedHoldComplete |
	machine.PendingResetAlarm |
	machine.PendingAbort

// Poll services every pending flag raised since the last call, in the
// fixed priority order GRBL's protocol_execute_runtime uses: abort first
// (it invalidates everything else), then the state transitions, then the
// status report last since it wants the post-transition state. It returns
// the flags it handled so callers/tests can assert on what fired.
func (c *Coordinator) Poll() machine.Pending {
	flags := c.sys.TestAndClear(pollMask)
	if flags == 0 {
		return 0
	}

	if flags&machine.PendingAbort != 0 {
		c.handleAbort()
		return flags
	}
	if flags&machine.PendingResetAlarm != 0 {
		c.handleResetAlarm()
	}
	if flags&machine.PendingFeedHold != 0 {
		c.handleFeedHold()
	}
	if flags&machine.PendingFeedHoldComplete != 0 {
		c.handleFeedHoldComplete()
	}
	if flags&machine.PendingCycleStart != 0 {
		c.handleCycleStart()
	}
	if flags&machine.PendingCycleStop != 0 {
		c.handleCycleStop()
	}
	if flags&machine.PendingStatusReport != 0 {
		c.handleStatusReport()
	}
	return flags
}

// handleCycleStart implements the '~' resume command: if the machine is
// parked after a completed feed hold it resumes the shortened remainder of
// the interrupted block; if it's merely idle with queued work, it starts
// the cycle fresh.
func (c *Coordinator) handleCycleStart() {
	switch c.sys.State() {
	case machine.StateQueued:
		// StateQueued covers two different situations: a block parked
		// mid-way through a completed feed hold (resume via
		// CycleReinitialize, which hands the planner the shortened
		// remainder), and the ordinary case of appending a line while
		// idle with auto-start off, which queues a fresh, never-started
		// block (resume via Start, which just loads and arms it).
		// st.IsParked reports which one this is.
		if c.st.IsParked() {
			c.st.CycleReinitialize()
		} else {
			c.st.Start()
		}
	case machine.StateIdle:
		c.st.Start()
	}
}

// handleFeedHold implements '!': only meaningful mid-cycle.
func (c *Coordinator) handleFeedHold() {
	if c.sys.State() == machine.StateCycle {
		c.st.RequestHold()
		c.sys.SetState(machine.StateHold)
	}
}

// handleFeedHoldComplete is raised by the stepper executor once the
// decelerating rate has reached zero: the machine is now fully stopped and
// waiting for a resume.
func (c *Coordinator) handleFeedHoldComplete() {
	if c.sys.State() == machine.StateHold {
		c.sys.SetState(machine.StateQueued)
	}
}

// handleCycleStop implements program-end (M2/M30): the gcode interpreter
// calls planner.Synchronize before raising this, so the buffer is already
// drained and it is safe to return straight to Idle.
func (c *Coordinator) handleCycleStop() {
	c.st.Stop()
	c.sys.SetState(machine.StateIdle)
}

// handleResetAlarm implements '$X': clears an alarm without touching
// position, the way GRBL treats an operator-acknowledged unlock.
func (c *Coordinator) handleResetAlarm() {
	if c.sys.State() == machine.StateAlarm {
		c.sys.SetState(machine.StateIdle)
	}
}

// handleAbort implements the real-time reset byte (0x18) and any
// hard-limit trip: unconditional, immediate stop with the queue discarded.
func (c *Coordinator) handleAbort() {
	c.st.Stop()
	c.pl.Init()
	c.raiseAlarm("abort")
}

// raiseAlarm transitions into StateAlarm and notifies OnAlarm, the
// equivalent of GRBL's report_alarm_message path.
func (c *Coordinator) raiseAlarm(reason string) {
	c.sys.SetState(machine.StateAlarm)
	if c.OnAlarm != nil {
		c.OnAlarm(reason)
	}
}

// TripHardLimit is called by the endstop-polling loop (or the stepper
// executor, if wired to poll limits inline) when a hard-limit switch fires
// mid-motion. It forces an immediate abort/alarm (§4.5 failure semantics).
func (c *Coordinator) TripHardLimit(axis int) {
	c.sys.RaisePending(machine.PendingAbort)
	c.Poll()
	c.raiseAlarm(fmt.Sprintf("hard limit axis %d", axis))
}

// handleStatusReport formats and emits a status line via OnStatusReport.
func (c *Coordinator) handleStatusReport() {
	if c.OnStatusReport == nil {
		return
	}
	c.OnStatusReport(c.StatusReport())
}

// StatusReport renders the current machine state in GRBL's wire format:
// "<State,MPos:x,y,z,WPos:x,y,z>\r\n" (original_source/report.c).
func (c *Coordinator) StatusReport() string {
	pos := c.sys.Position()

	var mpos [machine.NAxes]float64
	for i := 0; i < machine.NAxes; i++ {
		perMM := c.StepsPerMM[i]
		if perMM == 0 {
			perMM = 1
		}
		mpos[i] = float64(pos[i]) / perMM
	}

	var offset [machine.NAxes]float64
	if c.WorkOffset != nil {
		offset = c.WorkOffset()
	}

	return fmt.Sprintf("<%s,MPos:%.3f,%.3f,%.3f,WPos:%.3f,%.3f,%.3f>\r\n",
		c.sys.State(),
		mpos[0], mpos[1], mpos[2],
		mpos[0]-offset[0], mpos[1]-offset[1], mpos[2]-offset[2],
	)
}
