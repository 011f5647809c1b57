package stepper

import (
	"testing"

	"github.com/Smitter/GRBL-LM4F120H5QR/blockbuffer"
	"github.com/Smitter/GRBL-LM4F120H5QR/core"
	"github.com/Smitter/GRBL-LM4F120H5QR/machine"
	"github.com/Smitter/GRBL-LM4F120H5QR/planner"
)

type fakeDriver struct {
	pins map[core.GPIOPin]bool
}

func newFakeDriver() *fakeDriver { return &fakeDriver{pins: map[core.GPIOPin]bool{}} }

func (f *fakeDriver) Configure(core.GPIOPin, core.PinMode) error { return nil }
func (f *fakeDriver) Set(pin core.GPIOPin, value bool)           { f.pins[pin] = value }
func (f *fakeDriver) Get(pin core.GPIOPin) bool                  { return f.pins[pin] }

func newTestRuntime(t *testing.T, capacity int) (*Runtime, *planner.Planner, *machine.System) {
	t.Helper()
	core.Reset()
	driver := newFakeDriver()
	cfgVal := stepperConfig(t, driver)
	cfg := &cfgVal

	buf := blockbuffer.New(capacity)
	sys := machine.NewSystem()
	sys.SetState(machine.StateIdle)

	plCfg := &planner.Config{
		StepsPerMM:        [machine.NAxes]float64{80, 80, 400},
		MaxAcceleration:   [machine.NAxes]float64{500, 500, 50},
		Acceleration:      500,
		JunctionDeviation: 0.02,
	}
	pl := planner.New(plCfg, buf, sys)
	r := New(cfg, buf, pl, sys)
	return r, pl, sys
}

func stepperConfig(t *testing.T, driver *fakeDriver) Config {
	t.Helper()
	var cfg Config
	for i := 0; i < machine.NAxes; i++ {
		step, err := core.NewDigitalOut(driver, core.GPIOPin(i), false)
		if err != nil {
			t.Fatalf("step pin %d: %v", i, err)
		}
		dir, err := core.NewDigitalOut(driver, core.GPIOPin(10+i), false)
		if err != nil {
			t.Fatalf("dir pin %d: %v", i, err)
		}
		cfg.Step[i] = step
		cfg.Dir[i] = dir
	}
	cfg.PulseMicroseconds = 10
	return cfg
}

func runUntilIdle(sys *machine.System, r *Runtime, maxTicks uint32) {
	var i uint32
	for i = 0; i < maxTicks && r.IsRunning(); i++ {
		core.Advance(100)
	}
}

func TestRuntimeExecutesSingleBlockToCompletion(t *testing.T) {
	r, pl, sys := newTestRuntime(t, 8)
	if err := pl.AppendLine([machine.NAxes]float64{1, 0, 0}, 600, false, nil); err != nil {
		t.Fatalf("AppendLine: %v", err)
	}
	r.Start()
	if !r.IsRunning() {
		t.Fatal("expected runtime to start")
	}
	runUntilIdle(sys, r, 2_000_000)
	if r.IsRunning() {
		t.Fatal("expected runtime to finish and go idle")
	}
	pos := sys.Position()
	if pos[0] != 80 {
		t.Fatalf("expected X position 80 steps (1mm @ 80 steps/mm), got %d", pos[0])
	}
	if sys.State() != machine.StateIdle {
		t.Fatalf("expected Idle state, got %v", sys.State())
	}
}

func TestRuntimeNegativeDirectionDecrementsPosition(t *testing.T) {
	r, pl, sys := newTestRuntime(t, 8)
	if err := pl.AppendLine([machine.NAxes]float64{1, 0, 0}, 600, false, nil); err != nil {
		t.Fatalf("AppendLine 1: %v", err)
	}
	r.Start()
	runUntilIdle(sys, r, 2_000_000)

	if err := pl.AppendLine([machine.NAxes]float64{0, 0, 0}, 600, false, nil); err != nil {
		t.Fatalf("AppendLine 2: %v", err)
	}
	r.Start()
	runUntilIdle(sys, r, 2_000_000)

	pos := sys.Position()
	if pos[0] != 0 {
		t.Fatalf("expected X position back to 0, got %d", pos[0])
	}
}

func TestRuntimeFeedHoldDeceleratesToZero(t *testing.T) {
	r, pl, sys := newTestRuntime(t, 8)
	if err := pl.AppendLine([machine.NAxes]float64{50, 0, 0}, 3000, false, nil); err != nil {
		t.Fatalf("AppendLine: %v", err)
	}
	r.Start()

	// Run partway, then request a hold.
	for i := 0; i < 200 && r.IsRunning(); i++ {
		core.Advance(50)
	}
	r.RequestHold()

	// Keep the clock moving until the hold either completes (rate hits
	// zero) or the block finishes outright.
	for i := 0; i < 2_000_000 && r.rate > 0; i++ {
		core.Advance(50)
	}

	if r.rate < 0 {
		t.Fatalf("rate must never go negative, got %v", r.rate)
	}
	_ = sys
}

func TestRuntimeCycleReinitializeResumesRemainder(t *testing.T) {
	r, pl, sys := newTestRuntime(t, 8)
	if err := pl.AppendLine([machine.NAxes]float64{50, 0, 0}, 3000, false, nil); err != nil {
		t.Fatalf("AppendLine: %v", err)
	}
	r.Start()
	for i := 0; i < 200 && r.IsRunning(); i++ {
		core.Advance(50)
	}
	r.RequestHold()
	for i := 0; i < 2_000_000 && r.rate > 0; i++ {
		core.Advance(50)
	}
	if !r.parked {
		t.Skip("hold did not park within the test's tick budget")
	}

	r.CycleReinitialize()
	if r.sys != sys {
		t.Fatal("unexpected system swap")
	}
	if !r.IsRunning() {
		t.Fatal("expected CycleReinitialize to resume stepping")
	}
	runUntilIdle(sys, r, 2_000_000)
	if r.IsRunning() {
		t.Fatal("expected the resumed remainder to finish")
	}
}
