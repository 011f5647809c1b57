package runtime

import (
	"strings"
	"testing"

	"github.com/Smitter/GRBL-LM4F120H5QR/blockbuffer"
	"github.com/Smitter/GRBL-LM4F120H5QR/core"
	"github.com/Smitter/GRBL-LM4F120H5QR/machine"
	"github.com/Smitter/GRBL-LM4F120H5QR/planner"
	"github.com/Smitter/GRBL-LM4F120H5QR/stepper"
)

type fakeDriver struct{ pins map[core.GPIOPin]bool }

func newFakeDriver() *fakeDriver { return &fakeDriver{pins: map[core.GPIOPin]bool{}} }

func (f *fakeDriver) Configure(core.GPIOPin, core.PinMode) error { return nil }
func (f *fakeDriver) Set(pin core.GPIOPin, value bool)           { f.pins[pin] = value }
func (f *fakeDriver) Get(pin core.GPIOPin) bool                  { return f.pins[pin] }

func newTestCoordinator(t *testing.T) (*Coordinator, *planner.Planner, *stepper.Runtime, *machine.System) {
	t.Helper()
	core.Reset()
	driver := newFakeDriver()

	var stCfg stepper.Config
	for i := 0; i < machine.NAxes; i++ {
		step, _ := core.NewDigitalOut(driver, core.GPIOPin(i), false)
		dir, _ := core.NewDigitalOut(driver, core.GPIOPin(10+i), false)
		stCfg.Step[i] = step
		stCfg.Dir[i] = dir
	}
	stCfg.PulseMicroseconds = 10

	buf := blockbuffer.New(8)
	sys := machine.NewSystem()
	sys.SetState(machine.StateIdle)

	plCfg := &planner.Config{
		StepsPerMM:        [machine.NAxes]float64{80, 80, 400},
		MaxAcceleration:   [machine.NAxes]float64{500, 500, 50},
		Acceleration:      500,
		JunctionDeviation: 0.02,
	}
	pl := planner.New(plCfg, buf, sys)
	st := stepper.New(&stCfg, buf, pl, sys)
	c := New(sys, pl, st)
	c.StepsPerMM = plCfg.StepsPerMM
	return c, pl, st, sys
}

func TestCoordinatorResetAlarmOnlyFromAlarmState(t *testing.T) {
	c, _, _, sys := newTestCoordinator(t)
	sys.SetState(machine.StateIdle)
	sys.RaisePending(machine.PendingResetAlarm)
	c.Poll()
	if sys.State() != machine.StateIdle {
		t.Fatalf("expected state unchanged from Idle, got %v", sys.State())
	}

	sys.SetState(machine.StateAlarm)
	sys.RaisePending(machine.PendingResetAlarm)
	c.Poll()
	if sys.State() != machine.StateIdle {
		t.Fatalf("expected $X to clear an alarm, got %v", sys.State())
	}
}

func TestCoordinatorCycleStartFromIdleRunsBuffer(t *testing.T) {
	c, pl, st, sys := newTestCoordinator(t)
	if err := pl.AppendLine([machine.NAxes]float64{1, 0, 0}, 600, false, nil); err != nil {
		t.Fatalf("AppendLine: %v", err)
	}
	sys.RaisePending(machine.PendingCycleStart)
	c.Poll()
	if !st.IsRunning() {
		t.Fatal("expected cycle start from Idle to begin stepping")
	}
}

func TestCoordinatorAbortStopsAndAlarms(t *testing.T) {
	c, pl, st, sys := newTestCoordinator(t)
	var reasons []string
	c.OnAlarm = func(r string) { reasons = append(reasons, r) }

	if err := pl.AppendLine([machine.NAxes]float64{1, 0, 0}, 600, false, nil); err != nil {
		t.Fatalf("AppendLine: %v", err)
	}
	st.Start()
	sys.RaisePending(machine.PendingAbort)
	c.Poll()

	if st.IsRunning() {
		t.Fatal("expected abort to stop the executor")
	}
	if sys.State() != machine.StateAlarm {
		t.Fatalf("expected Alarm state after abort, got %v", sys.State())
	}
	if len(reasons) != 1 {
		t.Fatalf("expected exactly one alarm notification, got %d", len(reasons))
	}
}

func TestCoordinatorStatusReportFormat(t *testing.T) {
	c, _, _, sys := newTestCoordinator(t)
	sys.SetState(machine.StateIdle)
	sys.RaisePending(machine.PendingStatusReport)

	var line string
	c.OnStatusReport = func(l string) { line = l }
	c.Poll()

	if !strings.HasPrefix(line, "<Idle,MPos:") {
		t.Fatalf("unexpected status report: %q", line)
	}
	if !strings.HasSuffix(line, ">\r\n") {
		t.Fatalf("status report missing terminator: %q", line)
	}
}

func TestCoordinatorFeedHoldOnlyDuringCycle(t *testing.T) {
	c, _, _, sys := newTestCoordinator(t)
	sys.SetState(machine.StateIdle)
	sys.RaisePending(machine.PendingFeedHold)
	c.Poll()
	if sys.State() != machine.StateIdle {
		t.Fatalf("feed hold outside a cycle must be a no-op, got %v", sys.State())
	}
}
