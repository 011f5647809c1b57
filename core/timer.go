// Package core provides the timer/scheduler substrate and hardware
// abstractions that stand in for interrupt-driven microcontroller
// peripherals on the host.
package core

// Timer represents a scheduled event, dispatched in WakeTime order.
type Timer struct {
	WakeTime uint32
	Priority uint8 // lower value dispatches first when WakeTime ties; see Dispatch
	Handler  func(*Timer) uint8
	Next     *Timer
}

// Handler return codes.
const (
	SFDone       = 0
	SFReschedule = 1
)

// Priority bands. When both fall due at the same tick, the pulse-reset
// timer is serviced ahead of the step timer, matching the hardware's fixed
// interrupt priority ordering (pulse-reset > step > everything else);
// timers with different wake times run in wake-time order.
const (
	PriorityPulse = 0
	PriorityStep  = 1
	PriorityLow   = 2
)

var (
	timerList   *Timer
	currentTime uint32
)

// GetTime returns the current simulated tick count.
func GetTime() uint32 {
	return currentTime
}

// SetTime forcibly sets the simulated tick count. Used by tests and by
// the host loop that advances the clock from wall time.
func SetTime(t uint32) {
	currentTime = t
}

// Advance moves the simulated clock forward by delta ticks and dispatches
// every timer that becomes due as a result.
func Advance(delta uint32) {
	currentTime += delta
	Dispatch()
}

// ScheduleTimer inserts t into the sorted timer list. Safe to call from
// simulated interrupt context.
func ScheduleTimer(t *Timer) {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)
	insertTimer(t)
}

// UnscheduleTimer removes t from the timer list if present.
func UnscheduleTimer(t *Timer) {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)
	if timerList == t {
		timerList = t.Next
		t.Next = nil
		return
	}
	for cur := timerList; cur != nil && cur.Next != nil; cur = cur.Next {
		if cur.Next == t {
			cur.Next = t.Next
			t.Next = nil
			return
		}
	}
}

func insertTimer(t *Timer) {
	if timerList == nil || less(t, timerList) {
		t.Next = timerList
		timerList = t
		return
	}
	cur := timerList
	for cur.Next != nil && !less(t, cur.Next) {
		cur = cur.Next
	}
	t.Next = cur.Next
	cur.Next = t
}

func less(a, b *Timer) bool {
	if a.WakeTime != b.WakeTime {
		return a.WakeTime < b.WakeTime
	}
	return a.Priority < b.Priority
}

// Dispatch runs every timer whose WakeTime has elapsed, highest priority
// (lowest Priority value) first among ties, re-inserting any that ask to
// be rescheduled. Handlers run to completion: nothing preempts Dispatch,
// mirroring the no-OS, run-to-completion interrupt model of §5.
func Dispatch() {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)

	for timerList != nil && timerList.WakeTime <= currentTime {
		t := timerList
		timerList = t.Next
		t.Next = nil

		result := t.Handler(t)
		if result == SFReschedule {
			insertTimer(t)
		}
	}
}

// Reset clears all scheduled timers. Used on abort/reinitialize.
func Reset() {
	timerList = nil
	currentTime = 0
}
