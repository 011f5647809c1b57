// Package planner implements the look-ahead motion planner of spec.md §4.2:
// it turns a stream of target positions and feed rates into a queue of
// constant-acceleration blocks, and recalculates entry speeds across the
// queue so consecutive blocks join at the maximum safe junction speed.
package planner

import (
	"errors"
	"math"

	"github.com/Smitter/GRBL-LM4F120H5QR/blockbuffer"
	"github.com/Smitter/GRBL-LM4F120H5QR/machine"
)

// ErrZeroLengthMove is returned (and silently swallowed by callers that
// want GRBL's "drop it" behavior) when a target differs from the current
// position on no axis.
var ErrZeroLengthMove = errors.New("planner: zero-length move")

// ErrNonPositiveFeed is returned when feed_rate <= 0.
var ErrNonPositiveFeed = errors.New("planner: feed rate must be positive")

// Config carries the subset of persisted settings (settings.Record) the
// planner's math depends on, expressed in the internal mm/s and mm/s^2
// units every block field uses. See DESIGN.md for why steps/min settings
// are converted at this boundary rather than carried through as steps/min.
type Config struct {
	StepsPerMM        [machine.NAxes]float64
	MaxAcceleration   [machine.NAxes]float64 // mm/s^2, per-axis ceiling
	Acceleration      float64                // mm/s^2, configured ($8)
	JunctionDeviation float64                // mm ($9)
}

// Planner is the single foreground producer for a blockbuffer.Buffer.
type Planner struct {
	cfg *Config
	buf *blockbuffer.Buffer
	sys *machine.System

	position [machine.NAxes]int64 // planner's own position shadow, in steps

	havePrevUnit       bool
	prevUnit           [machine.NAxes]float64
	prevNominalSpeedSq float64
}

// New creates a planner bound to a specific config, block buffer, and
// shared system state.
func New(cfg *Config, buf *blockbuffer.Buffer, sys *machine.System) *Planner {
	return &Planner{cfg: cfg, buf: buf, sys: sys}
}

// Init empties the buffer and clears the planner's position shadow and
// previous-unit-vector memory (§4.2).
func (p *Planner) Init() {
	p.buf.Reset()
	p.position = [machine.NAxes]int64{}
	p.havePrevUnit = false
	p.prevNominalSpeedSq = 0
}

// SyncPosition re-seeds the planner's position shadow from the current
// machine position, e.g. after homing or a G92-equivalent set-position.
func (p *Planner) SyncPosition(steps [machine.NAxes]int32) {
	for i := range steps {
		p.position[i] = int64(steps[i])
	}
	p.havePrevUnit = false
}

// PositionSteps returns the planner's current shadow position.
func (p *Planner) PositionSteps() [machine.NAxes]int64 {
	return p.position
}

// AppendLine reserves a slot, fills it with the block computed from the
// step-count delta to targetMM at feedRate, and commits it — the single
// publication point after which the stepper executor may observe the
// block. poll is invoked repeatedly (servicing sys.pending) while the
// buffer is full; passing nil makes AppendLine non-blocking, returning
// blockbuffer.ErrFull immediately instead.
func (p *Planner) AppendLine(targetMM [machine.NAxes]float64, feedRate float64, invertFeedRate bool, poll func() bool) error {
	if feedRate <= 0 {
		return ErrNonPositiveFeed
	}

	var deltaSteps [machine.NAxes]int64
	var deltaMM [machine.NAxes]float64
	anyMotion := false
	for i := 0; i < machine.NAxes; i++ {
		target := int64(math.Round(targetMM[i] * p.cfg.StepsPerMM[i]))
		deltaSteps[i] = target - p.position[i]
		if deltaSteps[i] != 0 {
			anyMotion = true
		}
		deltaMM[i] = float64(deltaSteps[i]) / p.cfg.StepsPerMM[i]
	}
	if !anyMotion {
		return ErrZeroLengthMove
	}

	slot, err := p.buf.GetWriteSlot(poll)
	if err != nil {
		return err
	}

	blk := slot
	*blk = machine.Block{}

	millimeters := 0.0
	for i := 0; i < machine.NAxes; i++ {
		millimeters += deltaMM[i] * deltaMM[i]
	}
	millimeters = math.Sqrt(millimeters)

	var unit [machine.NAxes]float64
	for i := 0; i < machine.NAxes; i++ {
		steps := deltaSteps[i]
		if steps < 0 {
			blk.Steps[i] = int32(-steps)
			blk.DirectionBits |= 1 << i
		} else {
			blk.Steps[i] = int32(steps)
		}
		if millimeters > 0 {
			unit[i] = deltaMM[i] / millimeters
		}
	}
	blk.StepEventCount = maxUint32(blk.Steps[0], blk.Steps[1], blk.Steps[2])
	blk.Millimeters = millimeters

	// Nominal speed: honor inverse-time feed (feedRate is 1/minutes for
	// the move, so mm/min speed = distance * feedRate); feedRate is
	// always supplied in mm/min by the caller (gcode package), converted
	// to mm/s here for internal consistency.
	var nominalSpeedMMPerMin float64
	if invertFeedRate {
		nominalSpeedMMPerMin = millimeters * feedRate
	} else {
		nominalSpeedMMPerMin = feedRate
	}
	nominalSpeed := nominalSpeedMMPerMin / 60.0 // mm/s
	blk.NominalSpeedSq = nominalSpeed * nominalSpeed

	stepsPerMMPath := float64(blk.StepEventCount) / millimeters
	blk.NominalRate = nominalSpeed * stepsPerMMPath // steps/s

	accel := p.clipAcceleration(unit)
	blk.Acceleration = accel * stepsPerMMPath // steps/s^2
	blk.RateDelta = blk.Acceleration / machine.AccelerationTicksPerSecond

	blk.NominalLengthFlag = millimeters*accel >= blk.NominalSpeedSq

	blk.MaxEntrySpeedSq = p.junctionSpeedSq(unit, blk.NominalSpeedSq)
	blk.EntrySpeedSq = 0
	blk.RecalculateFlag = true

	p.position = [machine.NAxes]int64{p.position[0] + deltaSteps[0], p.position[1] + deltaSteps[1], p.position[2] + deltaSteps[2]}
	p.havePrevUnit = true
	p.prevUnit = unit
	p.prevNominalSpeedSq = blk.NominalSpeedSq

	p.buf.CommitWrite()
	p.Recalculate()

	if p.sys.State() == machine.StateIdle && !p.sys.AutoStart() {
		p.sys.SetState(machine.StateQueued)
	}
	if p.sys.AutoStart() {
		p.sys.RaisePending(machine.PendingCycleStart)
	}
	return nil
}

func maxUint32(a, b, c int32) uint32 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return uint32(m)
}

// clipAcceleration projects the configured acceleration onto unit and
// clips it against each axis's own acceleration ceiling, per §4.2.
func (p *Planner) clipAcceleration(unit [machine.NAxes]float64) float64 {
	limit := p.cfg.Acceleration
	for i := 0; i < machine.NAxes; i++ {
		if unit[i] == 0 {
			continue
		}
		axisLimit := p.cfg.MaxAcceleration[i] / math.Abs(unit[i])
		if axisLimit < limit {
			limit = axisLimit
		}
	}
	return limit
}

// junctionSpeedSq computes the maximum cornering speed between the
// previous move's unit vector and this one, per the junction-deviation
// construction in §4.2.
func (p *Planner) junctionSpeedSq(unit [machine.NAxes]float64, nominalSpeedSq float64) float64 {
	if !p.havePrevUnit {
		return 0
	}
	// cosTheta is the cosine of the angle between the two unit vectors:
	// +1 for a straight continuation, -1 for a full reversal.
	cosTheta := 0.0
	for i := 0; i < machine.NAxes; i++ {
		cosTheta += p.prevUnit[i] * unit[i]
	}
	if cosTheta <= machine.JunctionCosineReversalThreshold {
		return 0
	}
	ceiling := math.Min(p.prevNominalSpeedSq, nominalSpeedSq)
	// The deviation arc spans the angle between the reversed previous
	// direction and the new one; its half-angle sine is sqrt((1+cosTheta)/2).
	sinHalfTheta := math.Sqrt(0.5 * (1 + cosTheta))
	if sinHalfTheta >= 1 {
		return ceiling
	}
	r := p.cfg.JunctionDeviation * sinHalfTheta / (1 - sinHalfTheta)
	vSq := r * p.currentAcceleration()
	if vSq > ceiling {
		vSq = ceiling
	}
	return vSq
}

// currentAcceleration reports the acceleration of the block just about to
// be appended is not yet known at the time junctionSpeedSq needs it, so
// this uses the configured global acceleration as the corner's limiting
// value — a reasonable simplification since per-axis clipping only ever
// reduces it further once the block itself is built.
func (p *Planner) currentAcceleration() float64 {
	return p.cfg.Acceleration
}

// Recalculate reruns the two-pass velocity optimizer over every block from
// the planned boundary up to the newest committed block (§4.2).
func (p *Planner) Recalculate() {
	buf := p.buf
	if buf.Empty() {
		return
	}
	newest := buf.NewestIndex()
	planned := buf.PlannedIndex()
	if newest == planned {
		computeTrapezoid(buf.At(newest), 0)
		return
	}

	// Reverse pass: newest -> planned+1, propagating the deceleration
	// limit backwards. The block after `newest` is a sentinel at rest.
	nextEntrySq := 0.0
	idx := newest
	for {
		blk := buf.At(idx)
		candidate := math.Min(blk.MaxEntrySpeedSq, nextEntrySq+speedGainSq(blk))
		if candidate != blk.EntrySpeedSq {
			blk.EntrySpeedSq = candidate
			blk.RecalculateFlag = true
		}
		if blk.NominalLengthFlag && blk.EntrySpeedSq >= blk.NominalSpeedSq {
			buf.SetPlannedIndex(idx)
			break
		}
		if idx == buf.Next(planned) {
			break
		}
		nextEntrySq = blk.EntrySpeedSq
		idx = buf.Prev(idx)
	}

	// Forward pass: planned -> newest-1, enforcing the acceleration-limited
	// entry speed on each successor. This and the trapezoid rebuild start
	// from the boundary as it was on entry, so the block just before a
	// newly set barrier still gets its exit speed updated.
	idx = planned
	for idx != newest {
		blk := buf.At(idx)
		nextIdx := buf.Next(idx)
		nxt := buf.At(nextIdx)
		reachable := blk.EntrySpeedSq + speedGainSq(blk)
		if reachable < nxt.EntrySpeedSq {
			nxt.EntrySpeedSq = reachable
			nxt.RecalculateFlag = true
		} else {
			nxt.RecalculateFlag = false
		}
		idx = nextIdx
	}

	// Rebuild trapezoid parameters across the same span.
	idx = planned
	for {
		blk := buf.At(idx)
		exitSq := 0.0
		if idx != newest {
			exitSq = buf.At(buf.Next(idx)).EntrySpeedSq
		}
		computeTrapezoid(blk, exitSq)
		if idx == newest {
			break
		}
		idx = buf.Next(idx)
	}
}

// speedGainSq is the change in speed squared, in (mm/s)^2, that blk's
// acceleration allows over its length. Acceleration is stored in steps/s^2,
// so it is converted back to mm/s^2 first.
func speedGainSq(blk *machine.Block) float64 {
	if blk.StepEventCount == 0 {
		return 0
	}
	accelMM := blk.Acceleration * blk.Millimeters / float64(blk.StepEventCount)
	return 2 * accelMM * blk.Millimeters
}

// computeTrapezoid derives AccelerateUntil/DecelerateAfter/InitialRate/
// FinalRate for blk given its (already-set) EntrySpeedSq and the supplied
// exit speed (§4.2).
func computeTrapezoid(blk *machine.Block, exitSpeedSq float64) {
	acc := blk.Acceleration
	length := float64(blk.StepEventCount)

	// Speeds are carried in (mm/s)^2 and Acceleration in steps/s^2, so the
	// squared speeds are scaled by (steps/mm)^2 to get squared step rates.
	stepsPerMMSq := 0.0
	if blk.Millimeters > 0 {
		stepsPerMM := length / blk.Millimeters
		stepsPerMMSq = stepsPerMM * stepsPerMM
	}
	entryRateSq := blk.EntrySpeedSq * stepsPerMMSq
	exitRateSq := exitSpeedSq * stepsPerMMSq
	nominalRateSq := blk.NominalSpeedSq * stepsPerMMSq

	blk.InitialRate = math.Sqrt(entryRateSq)
	blk.FinalRate = math.Sqrt(exitRateSq)

	if acc <= 0 || length <= 0 {
		blk.AccelerateUntil = 0
		blk.DecelerateAfter = 0
		return
	}

	accelDist := (nominalRateSq - entryRateSq) / (2 * acc)
	decelDist := (nominalRateSq - exitRateSq) / (2 * acc)
	if accelDist < 0 {
		accelDist = 0
	}
	if decelDist < 0 {
		decelDist = 0
	}

	if accelDist+decelDist >= length {
		// Triangle profile: never reaches nominal speed within the block.
		peakDist := (exitRateSq - entryRateSq + 2*acc*length) / (4 * acc)
		if peakDist < 0 {
			peakDist = 0
		}
		if peakDist > length {
			peakDist = length
		}
		blk.AccelerateUntil = uint32(math.Round(peakDist))
		blk.DecelerateAfter = blk.AccelerateUntil
		return
	}

	blk.AccelerateUntil = uint32(math.Round(accelDist))
	after := blk.StepEventCount - uint32(math.Round(decelDist))
	if after > blk.StepEventCount {
		after = blk.StepEventCount
	}
	blk.DecelerateAfter = after
}

// DiscardCurrentBlock passes through to the buffer.
func (p *Planner) DiscardCurrentBlock() {
	p.buf.DiscardCurrent()
}

// GetCurrentBlock passes through to the buffer.
func (p *Planner) GetCurrentBlock() *machine.Block {
	return p.buf.PeekCurrent()
}

// CycleReinitialize shortens the currently executing block to
// remainingSteps step events, recomputes its trapezoid from a zero entry
// speed, and marks every later block for recalculation (§4.2, §4.3's feed
// hold resume path). Called from stepper.Runtime.CycleReinitialize, which
// knows how many step events of the current block are actually left.
func (p *Planner) CycleReinitialize(remainingSteps uint32) {
	blk := p.buf.PeekCurrent()
	if blk == nil {
		return
	}
	if remainingSteps == 0 {
		remainingSteps = 1
	}
	if remainingSteps > blk.StepEventCount {
		remainingSteps = blk.StepEventCount
	}

	fraction := float64(remainingSteps) / float64(blk.StepEventCount)
	blk.Millimeters *= fraction
	blk.StepEventCount = remainingSteps
	blk.EntrySpeedSq = 0
	blk.InitialRate = 0
	blk.RecalculateFlag = true

	idx := p.buf.Next(p.buf.TailIndex())
	for idx != p.buf.HeadIndex() {
		p.buf.At(idx).RecalculateFlag = true
		idx = p.buf.Next(idx)
	}

	p.buf.SetPlannedIndex(p.buf.TailIndex())
	p.Recalculate()
}

// Synchronize reports whether the buffer has fully drained. Real hardware
// blocks the foreground here (busy-waiting while servicing sys.pending);
// on the host, callers loop `for !p.Synchronize() { poll() }` themselves so
// Synchronize stays a pure predicate.
func (p *Planner) Synchronize() bool {
	return p.buf.Empty()
}
