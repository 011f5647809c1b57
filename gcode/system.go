package gcode

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Smitter/GRBL-LM4F120H5QR/machine"
	"github.com/Smitter/GRBL-LM4F120H5QR/settings"
)

// helpText mirrors original_source/report.c's report_grbl_help, trimmed to
// the real-time/system commands this firmware actually implements.
const helpText = "[HLP:$$ $# $G $N $x=val $Nx=line $C $X $H ~ ! ? Ctrl-x]\r\n"

// SystemCommands implements the '$'-prefixed command family: settings
// dump/update, parser-state queries, startup-line storage, check-mode
// toggle, alarm unlock, and the homing cycle.
type SystemCommands struct {
	in       *Interpreter
	settings *settings.Record

	// OnSettingsChanged is invoked after any $x=value update, so the
	// caller can persist settings.Record.EncodeFrame() to durable storage.
	OnSettingsChanged func(*settings.Record)

	startupLines [2]string
}

// NewSystemCommands binds the '$' family to an interpreter and the live
// settings record it reads/mutates.
func NewSystemCommands(in *Interpreter, rec *settings.Record) *SystemCommands {
	return &SystemCommands{in: in, settings: rec}
}

// Execute runs a '$'-prefixed line (the leading '$' must still be present)
// and returns the report text to send back, not including the final
// "ok\r\n" the caller appends.
func (s *SystemCommands) Execute(line string) (string, error) {
	if len(line) == 0 || line[0] != '$' {
		return "", fmt.Errorf("gcode: not a system command: %q", line)
	}
	rest := line[1:]

	switch {
	case rest == "":
		return helpText, nil
	case rest == "$":
		return s.dumpSettings(), nil
	case rest == "#":
		return s.dumpParameters(), nil
	case rest == "G":
		return s.dumpParserState(), nil
	case rest == "N":
		return s.dumpStartupLines(), nil
	case rest == "C":
		return s.toggleCheckMode(), nil
	case rest == "X":
		s.in.sys.RaisePending(machine.PendingResetAlarm)
		return "", nil
	case rest == "H":
		return "", s.in.doHome(&Command{})
	case strings.HasPrefix(rest, "N") && strings.Contains(rest, "="):
		return "", s.setStartupLine(rest[1:])
	default:
		return "", s.setSetting(rest)
	}
}

func (s *SystemCommands) dumpSettings() string {
	r := s.settings
	var b strings.Builder
	line := func(n int, v interface{}) {
		fmt.Fprintf(&b, "$%d=%v\r\n", n, v)
	}
	line(0, r.StepsPerMM[0])
	line(1, r.StepsPerMM[1])
	line(2, r.StepsPerMM[2])
	line(3, r.PulseMicroseconds)
	line(4, r.DefaultFeedRate)
	line(5, r.DefaultSeekRate)
	line(6, r.StepInvertMask)
	line(7, r.StepperIdleLockTime)
	line(8, r.Acceleration)
	line(9, r.JunctionDeviation)
	line(10, r.MMPerArcSegment)
	line(11, r.ArcCorrection)
	line(12, r.DecimalPlaces)
	line(13, boolTo01(r.ReportInches))
	line(14, boolTo01(r.AutoStart))
	line(15, boolTo01(r.InvertStepEnable))
	line(16, boolTo01(r.HardLimitEnable))
	line(17, boolTo01(r.HomingEnable))
	line(18, r.HomingDirMask)
	line(19, r.HomingFeedRate)
	line(20, r.HomingSeekRate)
	line(21, r.HomingDebounceDelay)
	line(22, r.HomingPulloff)
	line(23, r.MaxAcceleration[0])
	line(24, r.MaxAcceleration[1])
	line(25, r.MaxAcceleration[2])
	return b.String()
}

func (s *SystemCommands) dumpParameters() string {
	off := s.in.WorkOffset()
	return fmt.Sprintf("[G92:%.3f,%.3f,%.3f]\r\n", off[0], off[1], off[2])
}

func (s *SystemCommands) dumpParserState() string {
	m := s.in.modal
	units := "G21"
	if m.unitScale == mmPerInch {
		units = "G20"
	}
	dist := "G90"
	if !m.absolute {
		dist = "G91"
	}
	feedMode := "G94"
	if m.inverseFeed {
		feedMode = "G93"
	}
	return fmt.Sprintf("[GC:%s %s %s F%.3f]\r\n", dist, units, feedMode, m.feedRate)
}

func (s *SystemCommands) dumpStartupLines() string {
	var b strings.Builder
	for i, l := range s.startupLines {
		fmt.Fprintf(&b, "$N%d=%s\r\n", i, l)
	}
	return b.String()
}

func (s *SystemCommands) toggleCheckMode() string {
	if s.in.sys.State() == machine.StateCheckMode {
		s.in.sys.SetState(machine.StateIdle)
		return "[MSG:Disabled]\r\n"
	}
	s.in.sys.SetState(machine.StateCheckMode)
	return "[MSG:Enabled]\r\n"
}

// setStartupLine implements "$Nx=line": stores a gcode line in one of two
// in-memory slots, which cmd/cncfw replays at boot. x must be 0 or 1,
// matching GRBL's two startup-line slots. The slots are not part of the
// persisted settings frame, so they are empty when the process starts.
func (s *SystemCommands) setStartupLine(rest string) error {
	parts := strings.SplitN(rest, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("gcode: malformed startup-line command")
	}
	idx, err := strconv.Atoi(parts[0])
	if err != nil || idx < 0 || idx >= len(s.startupLines) {
		return fmt.Errorf("gcode: invalid startup-line index %q", parts[0])
	}
	s.startupLines[idx] = parts[1]
	return nil
}

// StartupLines exposes the two stored lines for cmd/cncfw to replay at
// boot.
func (s *SystemCommands) StartupLines() [2]string { return s.startupLines }

// setSetting implements "$x=value".
func (s *SystemCommands) setSetting(rest string) error {
	parts := strings.SplitN(rest, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("gcode: malformed setting command %q", rest)
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("gcode: invalid setting number %q", parts[0])
	}
	val, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return fmt.Errorf("gcode: invalid setting value %q", parts[1])
	}

	r := s.settings
	switch n {
	case 0, 1, 2:
		r.StepsPerMM[n] = val
	case 3:
		r.PulseMicroseconds = val
	case 4:
		r.DefaultFeedRate = val
	case 5:
		r.DefaultSeekRate = val
	case 6:
		r.StepInvertMask = uint8(val)
	case 7:
		r.StepperIdleLockTime = uint8(val)
	case 8:
		r.Acceleration = val
	case 9:
		r.JunctionDeviation = val
	case 10:
		r.MMPerArcSegment = val
	case 11:
		r.ArcCorrection = uint8(val)
	case 12:
		r.DecimalPlaces = uint8(val)
	case 13:
		r.ReportInches = val != 0
	case 14:
		r.AutoStart = val != 0
		s.in.sys.SetAutoStart(r.AutoStart)
	case 15:
		r.InvertStepEnable = val != 0
	case 16:
		r.HardLimitEnable = val != 0
	case 17:
		r.HomingEnable = val != 0
	case 18:
		r.HomingDirMask = uint8(val)
	case 19:
		r.HomingFeedRate = val
	case 20:
		r.HomingSeekRate = val
	case 21:
		r.HomingDebounceDelay = uint16(val)
	case 22:
		r.HomingPulloff = val
	case 23, 24, 25:
		r.MaxAcceleration[n-23] = val
	default:
		return fmt.Errorf("gcode: unknown setting $%d", n)
	}

	if s.OnSettingsChanged != nil {
		s.OnSettingsChanged(r)
	}
	return nil
}

func boolTo01(b bool) int {
	if b {
		return 1
	}
	return 0
}
