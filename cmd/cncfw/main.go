// cncfw is the host entry point: it wires the planner, stepper executor,
// runtime coordinator, and gcode interpreter into a running machine and
// services one serial connection, the way the teacher's gopper-host main
// loop drives a protocol connection from flags.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Smitter/GRBL-LM4F120H5QR/blockbuffer"
	"github.com/Smitter/GRBL-LM4F120H5QR/core"
	"github.com/Smitter/GRBL-LM4F120H5QR/gcode"
	"github.com/Smitter/GRBL-LM4F120H5QR/machine"
	"github.com/Smitter/GRBL-LM4F120H5QR/planner"
	"github.com/Smitter/GRBL-LM4F120H5QR/runtime"
	"github.com/Smitter/GRBL-LM4F120H5QR/serialio"
	"github.com/Smitter/GRBL-LM4F120H5QR/settings"
	"github.com/Smitter/GRBL-LM4F120H5QR/stepper"
)

var (
	device       = flag.String("device", "/dev/ttyACM0", "serial device path")
	baud         = flag.Int("baud", 115200, "serial baud rate")
	settingsPath = flag.String("settings", "cncfw.settings", "path to the persisted binary settings frame")
	bufferDepth  = flag.Int("buffer", 16, "block buffer depth")
)

// pin assignment: a fixed GPIO layout, the way GRBL's cpu_map.h hardcodes
// one board's wiring rather than making every pin a flag.
const (
	pinStepX core.GPIOPin = iota
	pinStepY
	pinStepZ
	pinDirX
	pinDirY
	pinDirZ
	pinSpindle
	pinCoolant
	pinLimitX
	pinLimitY
	pinLimitZ
)

func main() {
	flag.Parse()

	rec := loadSettings(*settingsPath)

	sys := machine.NewSystem()
	buf := blockbuffer.New(*bufferDepth)

	plCfg := &planner.Config{
		StepsPerMM:        rec.StepsPerMM,
		MaxAcceleration:   rec.MaxAcceleration,
		Acceleration:      rec.PlannerAcceleration(),
		JunctionDeviation: rec.JunctionDeviation,
	}
	pl := planner.New(plCfg, buf, sys)

	driver := core.NewHostDriver(nil)
	invert := rec.StepInvertMask
	stCfg := &stepper.Config{
		Step: [machine.NAxes]*core.DigitalOut{
			mustOut(driver, pinStepX, invert&(1<<0) != 0),
			mustOut(driver, pinStepY, invert&(1<<1) != 0),
			mustOut(driver, pinStepZ, invert&(1<<2) != 0),
		},
		Dir: [machine.NAxes]*core.DigitalOut{
			mustOut(driver, pinDirX, false),
			mustOut(driver, pinDirY, false),
			mustOut(driver, pinDirZ, false),
		},
		PulseMicroseconds: rec.PulseMicroseconds,
	}
	st := stepper.New(stCfg, buf, pl, sys)

	rt := runtime.New(sys, pl, st)
	rt.StepsPerMM = rec.StepsPerMM

	poll := func() bool {
		core.Advance(1000)
		rt.Poll()
		return true
	}

	in := gcode.New(pl, sys, rec.StepsPerMM, poll)
	in.SetSeekRate(rec.DefaultSeekRate)
	in.SetSpindle(mustOut(driver, pinSpindle, false))
	in.SetCoolant(mustOut(driver, pinCoolant, false))
	in.RequestProgramEnd = func() { sys.RaisePending(machine.PendingCycleStop) }
	in.Dwell = func(seconds float64) {
		remaining := uint32(seconds * machine.TimerFrequencyHz)
		for remaining > 0 {
			step := remaining
			if step > 1000 {
				step = 1000
			}
			core.Advance(step)
			rt.Poll()
			remaining -= step
		}
	}
	rt.WorkOffset = in.WorkOffset

	if rec.HomingEnable {
		in.SetHoming(buildHomingConfig(rec, driver, stCfg))
	}

	sc := gcode.NewSystemCommands(in, rec)
	sc.OnSettingsChanged = func(r *settings.Record) {
		if err := os.WriteFile(*settingsPath, r.EncodeFrame(), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "cncfw: failed to persist settings: %v\n", err)
		}
	}

	port, err := serialio.Open(&serialio.Config{Device: *device, Baud: *baud, ReadTimeout: 50})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cncfw: %v\n", err)
		os.Exit(1)
	}
	defer port.Close()

	lp := serialio.New(port, sys, func(line string) (string, error) {
		line = strings.TrimSpace(line)
		if line == "" {
			return "", nil
		}
		if line[0] == '$' {
			return sc.Execute(line)
		}
		return "", in.Execute(line)
	})
	rt.OnAlarm = lp.WriteAlarm
	rt.OnStatusReport = lp.WriteStatusReport

	lp.WriteInit(fmt.Sprintf("cncfw %s", firmwareVersion))
	sys.SetState(machine.StateIdle)
	sys.SetAutoStart(rec.AutoStart)

	for _, line := range sc.StartupLines() {
		if line == "" {
			continue
		}
		if err := in.Execute(line); err != nil {
			lp.WriteFeedback(fmt.Sprintf("MSG: startup line failed: %v", err))
		}
	}

	runLoop(port, lp, rt)
}

// runLoop is the foreground scheduler: pull one byte off the wire if one
// is waiting, advance the simulated clock, and service the runtime
// coordinator's pending bitset, the single-threaded analogue of GRBL's
// main.c loop plus its interrupt handlers.
func runLoop(port serialio.Port, lp *serialio.LineProtocol, rt *runtime.Coordinator) {
	var b [1]byte
	for {
		n, err := port.Read(b[:])
		if n > 0 {
			lp.ProcessByte(b[0])
		}
		if err != nil && n == 0 {
			break
		}
		core.Advance(1000)
		rt.Poll()
	}
}

func mustOut(driver core.GPIODriver, pin core.GPIOPin, invert bool) *core.DigitalOut {
	d, err := core.NewDigitalOut(driver, pin, invert)
	if err != nil {
		panic(err) // host driver's Configure never fails
	}
	return d
}

func buildHomingConfig(rec *settings.Record, driver core.GPIODriver, stCfg *stepper.Config) *gcode.HomingConfig {
	limitPins := [machine.NAxes]core.GPIOPin{pinLimitX, pinLimitY, pinLimitZ}
	cfg := &gcode.HomingConfig{}
	for axis := 0; axis < machine.NAxes; axis++ {
		endstop, err := core.NewEndstop(driver, limitPins[axis], true, 3)
		if err != nil {
			panic(err)
		}
		positive := rec.HomingDirMask&(1<<uint(axis)) == 0
		seekStepsPerSec := rec.HomingSeekRate / 60.0 * rec.StepsPerMM[axis]
		cfg.Axes[axis] = &gcode.HomingAxis{
			Step:            stCfg.Step[axis],
			Dir:             stCfg.Dir[axis],
			Endstop:         endstop,
			Positive:        positive,
			SeekStepsPerSec: seekStepsPerSec,
			PulloffSteps:    int32(rec.HomingPulloff * rec.StepsPerMM[axis]),
			MaxTravelSteps:  int32(500 * rec.StepsPerMM[axis]), // 500mm safety bound
		}
	}
	return cfg
}

func loadSettings(path string) *settings.Record {
	data, err := os.ReadFile(path)
	if err != nil {
		rec := settings.Defaults()
		return &rec
	}
	rec, err := settings.DecodeFrame(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cncfw: %s is corrupt (%v), falling back to defaults\n", path, err)
		d := settings.Defaults()
		return &d
	}
	return rec
}

const firmwareVersion = "1.0"
