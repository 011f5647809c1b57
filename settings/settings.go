// Package settings holds the persisted configuration record described in
// spec.md §6: the exact $0-$22 GRBL setting numbering (original_source/
// report.c's report_grbl_settings), a JSON representation for the config
// file a user edits by hand, and a compact binary frame (VLQ-encoded
// fields plus a CRC16 trailer) for the kind of small persistent store this
// firmware would keep across resets, grounded on the teacher's VLQ/CRC16
// wire-framing primitives repurposed from command framing to record
// framing.
package settings

import (
	"encoding/json"
	"errors"

	"github.com/Smitter/GRBL-LM4F120H5QR/machine"
	"github.com/Smitter/GRBL-LM4F120H5QR/protocol"
)

// ErrChecksumMismatch is returned by DecodeFrame when the trailing CRC16
// doesn't match the frame body.
var ErrChecksumMismatch = errors.New("settings: checksum mismatch")

// ErrUnsupportedVersion is returned by DecodeFrame for a version byte this
// build doesn't know how to read.
var ErrUnsupportedVersion = errors.New("settings: unsupported frame version")

// frameVersion is bumped whenever a field is added to or removed from the
// binary frame layout.
const frameVersion = 1

// scale is the fixed-point multiplier used to carry floating settings
// through the integer-only VLQ codec.
const scale = 1000.0

// Record is the full set of persisted settings, in JSON/user-facing units
// (mm, mm/min, mm/sec^2, seconds). $-numbers from original GRBL are noted
// per field; fields with no $-number are this firmware's own additions
// (per-axis acceleration ceilings, which spec.md's junction/acceleration
// clipping needs but stock GRBL's single global $8 doesn't distinguish).
type Record struct {
	StepsPerMM [machine.NAxes]float64 `json:"steps_per_mm"` // $0-$2

	PulseMicroseconds   float64 `json:"pulse_microseconds"`    // $3
	DefaultFeedRate     float64 `json:"default_feed_rate"`     // $4, mm/min
	DefaultSeekRate     float64 `json:"default_seek_rate"`     // $5, mm/min
	StepInvertMask      uint8   `json:"step_invert_mask"`      // $6
	StepperIdleLockTime uint8   `json:"stepper_idle_lock_time"` // $7, seconds; 255 = always on

	Acceleration      float64 `json:"acceleration"`       // $8, mm/sec^2
	JunctionDeviation float64 `json:"junction_deviation"` // $9, mm

	MMPerArcSegment float64 `json:"mm_per_arc_segment"` // $10
	ArcCorrection   uint8   `json:"arc_correction"`     // $11
	DecimalPlaces   uint8   `json:"decimal_places"`     // $12

	ReportInches     bool `json:"report_inches"`      // $13
	AutoStart        bool `json:"auto_start"`         // $14
	InvertStepEnable bool `json:"invert_step_enable"` // $15
	HardLimitEnable  bool `json:"hard_limit_enable"`  // $16
	HomingEnable     bool `json:"homing_enable"`      // $17

	HomingDirMask       uint8   `json:"homing_dir_mask"`      // $18
	HomingFeedRate      float64 `json:"homing_feed_rate"`     // $19, mm/min
	HomingSeekRate      float64 `json:"homing_seek_rate"`     // $20, mm/min
	HomingDebounceDelay uint16  `json:"homing_debounce_delay"` // $21, ms
	HomingPulloff       float64 `json:"homing_pulloff"`       // $22, mm

	// MaxAcceleration is a per-axis acceleration ceiling used by the
	// planner's junction-projection clipping (§4.2). Stock GRBL has no
	// equivalent; assigned $23-$25 in this firmware's $-command surface.
	MaxAcceleration [machine.NAxes]float64 `json:"max_acceleration"`
}

// Defaults returns a Record with the values report.c's help text uses as
// its worked example, adjusted to this firmware's three-axis (no A axis)
// scope.
func Defaults() Record {
	return Record{
		StepsPerMM:          [machine.NAxes]float64{250.0, 250.0, 250.0},
		PulseMicroseconds:   10,
		DefaultFeedRate:     500,
		DefaultSeekRate:     500,
		StepInvertMask:      0,
		StepperIdleLockTime: 25,
		Acceleration:        10,
		JunctionDeviation:   0.02,
		MMPerArcSegment:     0.1,
		ArcCorrection:       25,
		DecimalPlaces:       3,
		ReportInches:        false,
		AutoStart:           true,
		InvertStepEnable:    false,
		HardLimitEnable:     false,
		HomingEnable:        false,
		HomingDirMask:       0,
		HomingFeedRate:      25,
		HomingSeekRate:      500,
		HomingDebounceDelay: 100,
		HomingPulloff:       1,
		MaxAcceleration:     [machine.NAxes]float64{10, 10, 10},
	}
}

// applyDefaults fills any zero-valued field with Defaults(), the way the
// teacher's config.applyDefaults treats an absent JSON field as "use the
// factory default" rather than "explicitly zero".
func applyDefaults(r *Record) {
	d := Defaults()
	for i := 0; i < machine.NAxes; i++ {
		if r.StepsPerMM[i] == 0 {
			r.StepsPerMM[i] = d.StepsPerMM[i]
		}
		if r.MaxAcceleration[i] == 0 {
			r.MaxAcceleration[i] = d.MaxAcceleration[i]
		}
	}
	if r.PulseMicroseconds == 0 {
		r.PulseMicroseconds = d.PulseMicroseconds
	}
	if r.DefaultFeedRate == 0 {
		r.DefaultFeedRate = d.DefaultFeedRate
	}
	if r.DefaultSeekRate == 0 {
		r.DefaultSeekRate = d.DefaultSeekRate
	}
	if r.StepperIdleLockTime == 0 {
		r.StepperIdleLockTime = d.StepperIdleLockTime
	}
	if r.Acceleration == 0 {
		r.Acceleration = d.Acceleration
	}
	if r.JunctionDeviation == 0 {
		r.JunctionDeviation = d.JunctionDeviation
	}
	if r.MMPerArcSegment == 0 {
		r.MMPerArcSegment = d.MMPerArcSegment
	}
	if r.ArcCorrection == 0 {
		r.ArcCorrection = d.ArcCorrection
	}
	if r.DecimalPlaces == 0 {
		r.DecimalPlaces = d.DecimalPlaces
	}
	if r.HomingFeedRate == 0 {
		r.HomingFeedRate = d.HomingFeedRate
	}
	if r.HomingSeekRate == 0 {
		r.HomingSeekRate = d.HomingSeekRate
	}
	if r.HomingDebounceDelay == 0 {
		r.HomingDebounceDelay = d.HomingDebounceDelay
	}
	if r.HomingPulloff == 0 {
		r.HomingPulloff = d.HomingPulloff
	}
}

// LoadJSON parses a settings file, applying defaults to any field the file
// leaves at its zero value.
func LoadJSON(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	applyDefaults(&r)
	return &r, nil
}

// MarshalJSON is the default encoding/json behavior; declared explicitly
// only so the persisted-frame and JSON paths sit next to each other for a
// reader comparing the two representations.
func (r *Record) MarshalJSON() ([]byte, error) {
	type alias Record
	return json.Marshal((*alias)(r))
}

func fixed(v float64) int32 { return int32(v * scale) }
func unfixed(v int32) float64 { return float64(v) / scale }

// EncodeFrame serializes r as a version byte, a VLQ-encoded field list in
// declaration order, and a trailing little-endian CRC16 over everything
// before it. This is the shape a settings blob would take in the kind of
// small persistent store (EEPROM, a reserved flash page) real GRBL keeps
// its settings in; the fields themselves are unchanged from the JSON view.
func (r *Record) EncodeFrame() []byte {
	buf := []byte{frameVersion}
	for i := 0; i < machine.NAxes; i++ {
		buf = protocol.AppendVLQInt(buf, fixed(r.StepsPerMM[i]))
	}
	buf = protocol.AppendVLQInt(buf, fixed(r.PulseMicroseconds))
	buf = protocol.AppendVLQInt(buf, fixed(r.DefaultFeedRate))
	buf = protocol.AppendVLQInt(buf, fixed(r.DefaultSeekRate))
	buf = protocol.AppendVLQUint(buf, uint32(r.StepInvertMask))
	buf = protocol.AppendVLQUint(buf, uint32(r.StepperIdleLockTime))
	buf = protocol.AppendVLQInt(buf, fixed(r.Acceleration))
	buf = protocol.AppendVLQInt(buf, fixed(r.JunctionDeviation))
	buf = protocol.AppendVLQInt(buf, fixed(r.MMPerArcSegment))
	buf = protocol.AppendVLQUint(buf, uint32(r.ArcCorrection))
	buf = protocol.AppendVLQUint(buf, uint32(r.DecimalPlaces))
	buf = protocol.AppendVLQUint(buf, boolToUint(r.ReportInches))
	buf = protocol.AppendVLQUint(buf, boolToUint(r.AutoStart))
	buf = protocol.AppendVLQUint(buf, boolToUint(r.InvertStepEnable))
	buf = protocol.AppendVLQUint(buf, boolToUint(r.HardLimitEnable))
	buf = protocol.AppendVLQUint(buf, boolToUint(r.HomingEnable))
	buf = protocol.AppendVLQUint(buf, uint32(r.HomingDirMask))
	buf = protocol.AppendVLQInt(buf, fixed(r.HomingFeedRate))
	buf = protocol.AppendVLQInt(buf, fixed(r.HomingSeekRate))
	buf = protocol.AppendVLQUint(buf, uint32(r.HomingDebounceDelay))
	buf = protocol.AppendVLQInt(buf, fixed(r.HomingPulloff))
	for i := 0; i < machine.NAxes; i++ {
		buf = protocol.AppendVLQInt(buf, fixed(r.MaxAcceleration[i]))
	}

	crc := protocol.CRC16(buf)
	buf = append(buf, byte(crc), byte(crc>>8))
	return buf
}

// DecodeFrame parses the format EncodeFrame produces, verifying the CRC16
// before touching any field.
func DecodeFrame(data []byte) (*Record, error) {
	if len(data) < 3 {
		return nil, protocol.ErrTruncatedVLQ
	}
	body, trailer := data[:len(data)-2], data[len(data)-2:]
	want := uint16(trailer[0]) | uint16(trailer[1])<<8
	if protocol.CRC16(body) != want {
		return nil, ErrChecksumMismatch
	}
	if body[0] != frameVersion {
		return nil, ErrUnsupportedVersion
	}
	rest := body[1:]

	var r Record
	var v int32
	var u uint32
	var err error

	readInt := func() bool {
		v, rest, err = protocol.DecodeVLQInt(rest)
		return err == nil
	}
	readUint := func() bool {
		u, rest, err = protocol.DecodeVLQUint(rest)
		return err == nil
	}

	for i := 0; i < machine.NAxes; i++ {
		if !readInt() {
			return nil, err
		}
		r.StepsPerMM[i] = unfixed(v)
	}
	if !readInt() {
		return nil, err
	}
	r.PulseMicroseconds = unfixed(v)
	if !readInt() {
		return nil, err
	}
	r.DefaultFeedRate = unfixed(v)
	if !readInt() {
		return nil, err
	}
	r.DefaultSeekRate = unfixed(v)
	if !readUint() {
		return nil, err
	}
	r.StepInvertMask = uint8(u)
	if !readUint() {
		return nil, err
	}
	r.StepperIdleLockTime = uint8(u)
	if !readInt() {
		return nil, err
	}
	r.Acceleration = unfixed(v)
	if !readInt() {
		return nil, err
	}
	r.JunctionDeviation = unfixed(v)
	if !readInt() {
		return nil, err
	}
	r.MMPerArcSegment = unfixed(v)
	if !readUint() {
		return nil, err
	}
	r.ArcCorrection = uint8(u)
	if !readUint() {
		return nil, err
	}
	r.DecimalPlaces = uint8(u)
	if !readUint() {
		return nil, err
	}
	r.ReportInches = u != 0
	if !readUint() {
		return nil, err
	}
	r.AutoStart = u != 0
	if !readUint() {
		return nil, err
	}
	r.InvertStepEnable = u != 0
	if !readUint() {
		return nil, err
	}
	r.HardLimitEnable = u != 0
	if !readUint() {
		return nil, err
	}
	r.HomingEnable = u != 0
	if !readUint() {
		return nil, err
	}
	r.HomingDirMask = uint8(u)
	if !readInt() {
		return nil, err
	}
	r.HomingFeedRate = unfixed(v)
	if !readInt() {
		return nil, err
	}
	r.HomingSeekRate = unfixed(v)
	if !readUint() {
		return nil, err
	}
	r.HomingDebounceDelay = uint16(u)
	if !readInt() {
		return nil, err
	}
	r.HomingPulloff = unfixed(v)
	for i := 0; i < machine.NAxes; i++ {
		if !readInt() {
			return nil, err
		}
		r.MaxAcceleration[i] = unfixed(v)
	}

	return &r, nil
}

func boolToUint(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// PlannerAcceleration converts $8 to the mm/sec^2 the planner.Config wants.
// GRBL's own $8 is already stored in mm/sec^2 (report.c's exact comment:
// "mm/sec^2, was mm/min^2 before v0.9"), so this is a pass-through kept as
// a named conversion point in case that changes again.
func (r *Record) PlannerAcceleration() float64 { return r.Acceleration }
