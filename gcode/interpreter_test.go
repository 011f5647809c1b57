package gcode

import (
	"testing"

	"github.com/Smitter/GRBL-LM4F120H5QR/blockbuffer"
	"github.com/Smitter/GRBL-LM4F120H5QR/machine"
	"github.com/Smitter/GRBL-LM4F120H5QR/planner"
)

func newTestInterpreter(t *testing.T) (*Interpreter, *machine.System) {
	t.Helper()
	stepsPerMM := [machine.NAxes]float64{80, 80, 400}
	cfg := &planner.Config{
		StepsPerMM:        stepsPerMM,
		MaxAcceleration:   [machine.NAxes]float64{500, 500, 50},
		Acceleration:      500,
		JunctionDeviation: 0.02,
	}
	buf := blockbuffer.New(8)
	sys := machine.NewSystem()
	sys.SetState(machine.StateIdle)
	pl := planner.New(cfg, buf, sys)

	drainAll := func() bool {
		for !buf.Empty() {
			buf.DiscardCurrent()
		}
		return true
	}
	in := New(pl, sys, stepsPerMM, drainAll)
	return in, sys
}

func TestParseBasicCommands(t *testing.T) {
	p := NewParser()
	cases := []struct {
		line   string
		typ    byte
		number int
		params map[byte]float64
	}{
		{"G0 X10 Y20", 'G', 0, map[byte]float64{'X': 10, 'Y': 20}},
		{"G1 X100.5 Y200.25 F3000", 'G', 1, map[byte]float64{'X': 100.5, 'Y': 200.25, 'F': 3000}},
		{"G28", 'G', 28, map[byte]float64{}},
		{"M3 S1000", 'M', 3, map[byte]float64{'S': 1000}},
		{"G92 X0 Y0 Z0", 'G', 92, map[byte]float64{'X': 0, 'Y': 0, 'Z': 0}},
	}
	for _, c := range cases {
		cmd, err := p.ParseLine(c.line)
		if err != nil {
			t.Fatalf("%q: %v", c.line, err)
		}
		if cmd.Type != c.typ || cmd.Number != c.number {
			t.Fatalf("%q: got type=%c number=%d", c.line, cmd.Type, cmd.Number)
		}
		for k, v := range c.params {
			if cmd.Parameters[k] != v {
				t.Fatalf("%q: parameter %c: got %v want %v", c.line, k, cmd.Parameters[k], v)
			}
		}
	}
}

func TestParseCommentOnlyLine(t *testing.T) {
	p := NewParser()
	cmd, err := p.ParseLine("; a comment")
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if cmd.Type != 0 || cmd.Comment == "" {
		t.Fatalf("expected a comment-only command, got %+v", cmd)
	}
}

func TestExecuteG1RequiresFeedRate(t *testing.T) {
	in, _ := newTestInterpreter(t)
	if err := in.Execute("G1 X10"); err == nil {
		t.Fatal("expected an error for G1 with no feed rate ever programmed")
	}
}

func TestExecuteG0ThenG1Moves(t *testing.T) {
	in, _ := newTestInterpreter(t)
	if err := in.Execute("G0 X10 Y5"); err != nil {
		t.Fatalf("G0: %v", err)
	}
	if err := in.Execute("G1 X20 F500"); err != nil {
		t.Fatalf("G1: %v", err)
	}
	pos := in.currentMachineMM()
	if pos[0] != 20 || pos[1] != 5 {
		t.Fatalf("unexpected position after moves: %v", pos)
	}
}

func TestExecuteG91RelativeMove(t *testing.T) {
	in, _ := newTestInterpreter(t)
	if err := in.Execute("G1 X10 F500"); err != nil {
		t.Fatalf("absolute move: %v", err)
	}
	if err := in.Execute("G91"); err != nil {
		t.Fatalf("G91: %v", err)
	}
	if err := in.Execute("G1 X5"); err != nil {
		t.Fatalf("relative move: %v", err)
	}
	pos := in.currentMachineMM()
	if pos[0] != 15 {
		t.Fatalf("expected X=15 after relative +5, got %v", pos[0])
	}
}

func TestExecuteG92RedefinesOrigin(t *testing.T) {
	in, _ := newTestInterpreter(t)
	if err := in.Execute("G1 X10 F500"); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := in.Execute("G92 X0"); err != nil {
		t.Fatalf("G92: %v", err)
	}
	off := in.WorkOffset()
	if off[0] != 10 {
		t.Fatalf("expected offset 10 after G92 X0 at machine X=10, got %v", off[0])
	}
	if err := in.Execute("G1 X0 F500"); err != nil {
		t.Fatalf("move to new origin: %v", err)
	}
	pos := in.currentMachineMM()
	if pos[0] != 10 {
		t.Fatalf("expected machine X back to 10 (work X=0), got %v", pos[0])
	}
}

func TestExecuteUnsupportedGCode(t *testing.T) {
	in, _ := newTestInterpreter(t)
	if err := in.Execute("G99"); err == nil {
		t.Fatal("expected an error for an unimplemented G-code")
	}
}

func TestExecuteAlarmLocksMotion(t *testing.T) {
	in, sys := newTestInterpreter(t)
	sys.SetState(machine.StateAlarm)
	if err := in.Execute("G1 X10 F500"); err != ErrAlarmLocked {
		t.Fatalf("expected ErrAlarmLocked, got %v", err)
	}
}
