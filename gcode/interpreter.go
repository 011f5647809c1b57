package gcode

import (
	"errors"
	"fmt"

	"github.com/Smitter/GRBL-LM4F120H5QR/core"
	"github.com/Smitter/GRBL-LM4F120H5QR/machine"
	"github.com/Smitter/GRBL-LM4F120H5QR/planner"
)

// ErrUnsupportedCommand is returned for a syntactically valid G/M-code this
// firmware doesn't implement.
var ErrUnsupportedCommand = errors.New("gcode: unsupported command")

// ErrAlarmLocked is returned for any motion command issued while the
// machine is in StateAlarm (§4.5: everything but $X and status queries is
// refused until the alarm is cleared).
var ErrAlarmLocked = errors.New("gcode: locked by alarm, clear with $X")

const mmPerInch = 25.4

// modal holds the parser state that persists from line to line (§10).
type modal struct {
	unitScale    float64 // multiplies a raw parameter into millimeters
	absolute     bool    // G90 true, G91 false
	feedRate     float64 // last programmed F word, raw units (mm/min or 1/min under G93)
	inverseFeed  bool    // G93 true, G94 false
}

func defaultModal() modal {
	return modal{unitScale: 1, absolute: true, feedRate: 0, inverseFeed: false}
}

// Interpreter executes parsed Commands against a planner and the shared
// system state, tracking the modal state real GRBL keeps in gc_state.
type Interpreter struct {
	parser *Parser
	pl     *planner.Planner
	sys    *machine.System

	stepsPerMM [machine.NAxes]float64
	offset     [machine.NAxes]float64 // work coordinate origin, in machine mm

	modal modal

	spindle  *core.DigitalOut
	coolant  *core.DigitalOut
	homing   *HomingConfig
	seekRate float64 // mm/min, $5, used for G0 regardless of the modal F word

	// Dwell advances simulated time by seconds and services pending flags
	// while doing so; the host main loop supplies this since only it knows
	// how to pump core.Advance/Coordinator.Poll.
	Dwell func(seconds float64)

	// RequestProgramEnd is called for M2/M30 after the buffer has drained,
	// so the runtime coordinator can return the machine to Idle.
	RequestProgramEnd func()

	poll func() bool // passed through to planner.AppendLine for backpressure
}

// New builds an Interpreter. poll is invoked by the planner while it waits
// for buffer space; it should service machine.System's pending flags via
// the runtime coordinator and return false to give up.
func New(pl *planner.Planner, sys *machine.System, stepsPerMM [machine.NAxes]float64, poll func() bool) *Interpreter {
	return &Interpreter{
		parser:     NewParser(),
		pl:         pl,
		sys:        sys,
		stepsPerMM: stepsPerMM,
		modal:      defaultModal(),
		poll:       poll,
		seekRate:   500,
	}
}

// SetSpindle and SetCoolant wire the M3/M4/M5 and M7/M8/M9 outputs.
func (in *Interpreter) SetSpindle(d *core.DigitalOut) { in.spindle = d }
func (in *Interpreter) SetCoolant(d *core.DigitalOut) { in.coolant = d }

// SetSeekRate sets the rapid-traverse rate ($5) G0 moves use regardless of
// the last programmed F word.
func (in *Interpreter) SetSeekRate(mmPerMin float64) { in.seekRate = mmPerMin }

// WorkOffset reports the active work-coordinate origin, for status reports.
func (in *Interpreter) WorkOffset() [machine.NAxes]float64 { return in.offset }

// Execute parses and runs one line. It returns nil for a comment-only or
// blank line.
func (in *Interpreter) Execute(line string) error {
	cmd, err := in.parser.ParseLine(line)
	if err != nil {
		return err
	}
	if cmd.Type == 0 {
		return nil
	}
	if in.sys.State() == machine.StateAlarm {
		return ErrAlarmLocked
	}
	switch cmd.Type {
	case 'G':
		return in.executeG(cmd)
	case 'M':
		return in.executeM(cmd)
	case 'T':
		return nil // tool select is a no-op on a single-tool machine
	default:
		return ErrUnsupportedCommand
	}
}

func (in *Interpreter) executeG(cmd *Command) error {
	switch cmd.Number {
	case 0:
		return in.doMove(cmd, true)
	case 1:
		return in.doMove(cmd, false)
	case 4:
		return in.doDwell(cmd)
	case 20:
		in.modal.unitScale = mmPerInch
		return nil
	case 21:
		in.modal.unitScale = 1
		return nil
	case 28:
		return in.doHome(cmd)
	case 90:
		in.modal.absolute = true
		return nil
	case 91:
		in.modal.absolute = false
		return nil
	case 92:
		return in.doSetPosition(cmd)
	case 93:
		in.modal.inverseFeed = true
		return nil
	case 94:
		in.modal.inverseFeed = false
		return nil
	default:
		return fmt.Errorf("%w: G%d", ErrUnsupportedCommand, cmd.Number)
	}
}

func (in *Interpreter) executeM(cmd *Command) error {
	switch cmd.Number {
	case 0:
		in.sys.RaisePending(machine.PendingFeedHold)
		return nil
	case 2, 30:
		if err := in.synchronize(); err != nil {
			return err
		}
		if in.RequestProgramEnd != nil {
			in.RequestProgramEnd()
		}
		in.modal = defaultModal()
		in.offset = [machine.NAxes]float64{}
		return nil
	case 3, 4:
		if in.spindle != nil {
			in.spindle.Set(true)
		}
		return nil
	case 5:
		if in.spindle != nil {
			in.spindle.Set(false)
		}
		return nil
	case 7, 8:
		if in.coolant != nil {
			in.coolant.Set(true)
		}
		return nil
	case 9:
		if in.coolant != nil {
			in.coolant.Set(false)
		}
		return nil
	default:
		return fmt.Errorf("%w: M%d", ErrUnsupportedCommand, cmd.Number)
	}
}

// doMove implements G0/G1: resolves the target in machine millimeters from
// the modal distance mode and unit scale, then hands it to the planner.
// G0 always travels at the machine's seek rate regardless of the last F
// word; G1 uses the modal feed rate, updated first if F is present.
func (in *Interpreter) doMove(cmd *Command, rapid bool) error {
	if cmd.HasParameter('F') {
		in.modal.feedRate = cmd.GetParameter('F', in.modal.feedRate)
	}

	currentMachine := in.currentMachineMM()
	var target [machine.NAxes]float64
	letters := [machine.NAxes]byte{'X', 'Y', 'Z'}
	for i, letter := range letters {
		if cmd.HasParameter(letter) {
			raw := cmd.GetParameter(letter, 0) * in.modal.unitScale
			if in.modal.absolute {
				target[i] = raw + in.offset[i]
			} else {
				target[i] = currentMachine[i] + raw
			}
		} else {
			target[i] = currentMachine[i]
		}
	}

	feed := in.modal.feedRate
	invert := in.modal.inverseFeed && !rapid
	if rapid {
		feed = in.seekRate
		invert = false
	}
	if feed <= 0 {
		return fmt.Errorf("gcode: no feed rate programmed")
	}

	err := in.pl.AppendLine(target, feed, invert, in.poll)
	if err == planner.ErrZeroLengthMove {
		return nil
	}
	return err
}

// doDwell implements G4 P<seconds>.
func (in *Interpreter) doDwell(cmd *Command) error {
	seconds := cmd.GetParameter('P', 0)
	if seconds <= 0 {
		return nil
	}
	if err := in.synchronize(); err != nil {
		return err
	}
	if in.Dwell != nil {
		in.Dwell(seconds)
	}
	return nil
}

// doSetPosition implements G92: redefines the work-coordinate origin
// without moving the machine.
func (in *Interpreter) doSetPosition(cmd *Command) error {
	machinePos := in.currentMachineMM()
	letters := [machine.NAxes]byte{'X', 'Y', 'Z'}
	for i, letter := range letters {
		if cmd.HasParameter(letter) {
			in.offset[i] = machinePos[i] - cmd.GetParameter(letter, 0)*in.modal.unitScale
		}
	}
	return nil
}

func (in *Interpreter) currentMachineMM() [machine.NAxes]float64 {
	steps := in.pl.PositionSteps()
	var mm [machine.NAxes]float64
	for i := 0; i < machine.NAxes; i++ {
		mm[i] = float64(steps[i]) / in.stepsPerMM[i]
	}
	return mm
}

// synchronize blocks (via poll) until the planner's queue has drained,
// the way GRBL's protocol_buffer_synchronize gates G4/M2/M30.
func (in *Interpreter) synchronize() error {
	for !in.pl.Synchronize() {
		if in.poll == nil || !in.poll() {
			return fmt.Errorf("gcode: synchronize aborted")
		}
	}
	return nil
}
