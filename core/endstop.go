package core

// Endstop samples a GPIO input N consecutive times before reporting it
// triggered, the debounce policy spec.md §1 treats as an external
// collaborator. Grounded on the teacher's config_endstop/SampleCount
// pattern, with the Klipper command-dispatch plumbing removed since
// nothing here rides the binary MCU command stream.
type Endstop struct {
	driver       GPIODriver
	pin          GPIOPin
	triggerHigh  bool
	sampleCount  uint8
	consecutive  uint8
}

// NewEndstop configures pin as a pull-up input. triggerHigh selects
// whether the switch reads high or low when triggered; sampleCount is the
// number of consecutive matching samples required before Poll reports
// triggered (debounce).
func NewEndstop(driver GPIODriver, pin GPIOPin, triggerHigh bool, sampleCount uint8) (*Endstop, error) {
	if err := driver.Configure(pin, PinModeInputPullUp); err != nil {
		return nil, err
	}
	if sampleCount == 0 {
		sampleCount = 1
	}
	return &Endstop{driver: driver, pin: pin, triggerHigh: triggerHigh, sampleCount: sampleCount}, nil
}

// Poll takes one sample and returns true once sampleCount consecutive
// samples agree the switch is in its triggered state. A single
// contradicting sample resets the debounce count to zero.
func (e *Endstop) Poll() bool {
	triggered := e.driver.Get(e.pin) == e.triggerHigh
	if !triggered {
		e.consecutive = 0
		return false
	}
	if e.consecutive < e.sampleCount {
		e.consecutive++
	}
	return e.consecutive >= e.sampleCount
}

// Reset clears the debounce counter.
func (e *Endstop) Reset() {
	e.consecutive = 0
}
