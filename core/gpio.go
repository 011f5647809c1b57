package core

// GPIOPin identifies a hardware GPIO pin.
type GPIOPin uint32

// PinMode selects a pin's direction/pull configuration.
type PinMode uint8

const (
	PinModeOutput PinMode = iota
	PinModeInputPullUp
	PinModeInputPullDown
)

// GPIODriver is the abstract GPIO surface that the stepper, spindle,
// coolant, and endstop code is built against. Platform-specific
// implementations handle actual hardware register access; on the host
// build a mock driver is used instead.
type GPIODriver interface {
	Configure(pin GPIOPin, mode PinMode) error
	Set(pin GPIOPin, value bool)
	Get(pin GPIOPin) bool
}

// DigitalOut is a single discrete output line with an inversion polarity,
// used for the stepper-enable, spindle, and coolant outputs described in
// §6's GPIO surface. It intentionally carries none of the PWM/scheduled
// command-dispatch machinery a Klipper-style digital_out would: those
// outputs are driven directly by the runtime coordinator and spindle/
// coolant M-code handlers, not replayed from a queued command stream.
type DigitalOut struct {
	driver GPIODriver
	pin    GPIOPin
	invert bool
	on     bool
}

// NewDigitalOut configures pin as an output and drives it to its idle
// (off) polarity.
func NewDigitalOut(driver GPIODriver, pin GPIOPin, invert bool) (*DigitalOut, error) {
	if err := driver.Configure(pin, PinModeOutput); err != nil {
		return nil, err
	}
	d := &DigitalOut{driver: driver, pin: pin, invert: invert}
	d.Set(false)
	return d, nil
}

// Set drives the logical on/off state, applying the configured inversion.
func (d *DigitalOut) Set(on bool) {
	d.on = on
	d.driver.Set(d.pin, on != d.invert)
}

// On reports the last logical state written with Set.
func (d *DigitalOut) On() bool {
	return d.on
}
