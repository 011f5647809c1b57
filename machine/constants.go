package machine

// Timing constants shared by the planner (which derives RateDelta from
// them) and the stepper executor (which uses them to schedule the
// acceleration tick and clamp rates). TimerFrequencyHz stands in for the
// hardware timer's clock rate; one core.Timer tick equals one
// TimerFrequencyHz-th of a second, chosen as 1 MHz so timer ticks read as
// microseconds.
const (
	TimerFrequencyHz = 1_000_000

	// AccelerationTicksPerSecond is how often the trapezoid generator
	// re-evaluates rate during a de/ac-celeration (§4.4, §9).
	AccelerationTicksPerSecond = 120

	// CyclesPerAccelerationTick is the timer-tick period between
	// acceleration ticks: TimerFrequencyHz / AccelerationTicksPerSecond.
	CyclesPerAccelerationTick = TimerFrequencyHz / AccelerationTicksPerSecond

	// MinimumStepsPerMinute is the floor every programmed rate is clamped
	// to (§4.5 failure semantics, §9), expressed the way settings.Record
	// stores it. Internally rates are carried in steps/s; see
	// MinimumStepsPerSecond.
	MinimumStepsPerMinute = 800.0

	// MinimumStepsPerSecond is MinimumStepsPerMinute converted to the
	// steps/s units Block.NominalRate and friends use internally.
	MinimumStepsPerSecond = MinimumStepsPerMinute / 60.0

	// JunctionCosineReversalThreshold: at or below this cosine of the
	// angle between consecutive unit vectors, the junction is treated as
	// a reversal and the junction speed is forced to zero (§4.2).
	JunctionCosineReversalThreshold = -0.95
)
