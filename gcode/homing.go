package gcode

import (
	"errors"

	"github.com/Smitter/GRBL-LM4F120H5QR/core"
	"github.com/Smitter/GRBL-LM4F120H5QR/machine"
)

// ErrHomingTimedOut is returned when an axis travels its full configured
// range without ever seeing its endstop trigger — a wiring fault, not a
// normal homing outcome.
var ErrHomingTimedOut = errors.New("gcode: homing timed out before the switch triggered")

// HomingAxis wires one axis's homing cycle: the same step/direction
// outputs the stepper executor drives during normal motion, plus the
// endstop switch that bounds the seek. Homing drives these directly at a
// constant rate instead of going through the planner/stepper trapezoid
// machinery, matching original GRBL's limits.c, which also steps motors
// outside the planner during a homing cycle.
type HomingAxis struct {
	Step     *core.DigitalOut
	Dir      *core.DigitalOut
	Endstop  *core.Endstop
	Positive bool // true if the switch is toward positive travel

	SeekStepsPerSec   float64
	PulloffSteps      int32
	MaxTravelSteps    int32 // safety bound on the seek phase
}

// HomingConfig lists the per-axis homing wiring; a nil entry means that
// axis does not participate in $H/G28.
type HomingConfig struct {
	Axes [machine.NAxes]*HomingAxis
}

// SetHoming wires the homing cycle. Without a call to SetHoming, G28/$H
// return ErrUnsupportedCommand.
func (in *Interpreter) SetHoming(cfg *HomingConfig) { in.homing = cfg }

// doHome implements G28 (and is also called directly by the $H system
// command): for every configured axis it seeks to the switch at a
// constant rate, pulls off by the configured distance, and then declares
// that position the new machine zero (minus PulloffSteps, so the pulled-off
// rest position reads as the axis's configured home offset).
func (in *Interpreter) doHome(cmd *Command) error {
	if in.homing == nil {
		return ErrUnsupportedCommand
	}
	if err := in.synchronize(); err != nil {
		return err
	}

	in.sys.SetState(machine.StateHoming)

	newPos := in.sys.Position()
	for axis, ha := range in.homing.Axes {
		if ha == nil {
			continue
		}
		if err := seekToSwitch(ha); err != nil {
			in.sys.SetState(machine.StateAlarm)
			return err
		}
		pullOff(ha)
		newPos[axis] = ha.PulloffSteps
	}

	in.sys.SetPosition(newPos)
	in.pl.SyncPosition(newPos)
	in.offset = [machine.NAxes]float64{}
	in.sys.SetState(machine.StateIdle)
	return nil
}

func seekToSwitch(ha *HomingAxis) error {
	ha.Dir.Set(!ha.Positive)
	interval := stepIntervalTicks(ha.SeekStepsPerSec)

	max := ha.MaxTravelSteps
	if max <= 0 {
		max = 1
	}
	for i := int32(0); i < max; i++ {
		if ha.Endstop.Poll() {
			return nil
		}
		pulse(ha.Step, interval)
	}
	return ErrHomingTimedOut
}

func pullOff(ha *HomingAxis) {
	if ha.PulloffSteps <= 0 {
		return
	}
	ha.Dir.Set(ha.Positive)
	interval := stepIntervalTicks(ha.SeekStepsPerSec)
	for i := int32(0); i < ha.PulloffSteps; i++ {
		pulse(ha.Step, interval)
	}
	ha.Endstop.Reset()
}

func pulse(step *core.DigitalOut, intervalTicks uint32) {
	step.Set(true)
	core.Advance(1)
	step.Set(false)
	core.Advance(intervalTicks)
}

func stepIntervalTicks(stepsPerSec float64) uint32 {
	if stepsPerSec <= 0 {
		stepsPerSec = machine.MinimumStepsPerSecond
	}
	ticks := machine.TimerFrequencyHz / stepsPerSec
	if ticks < 1 {
		ticks = 1
	}
	return uint32(ticks)
}
