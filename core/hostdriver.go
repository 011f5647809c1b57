package core

// HostDriver is the GPIODriver this build runs against: there is no real
// microcontroller, so pin state just lives in memory. A target-specific
// build would register a real driver here instead, the way the teacher's
// gpio_hal.go lets platform code call SetGPIODriver.
type HostDriver struct {
	pins map[GPIOPin]bool
	log  func(pin GPIOPin, value bool)
}

// NewHostDriver returns a driver whose pins read low until configured;
// Configure starts a pull-up input high. log, if
// non-nil, is called on every Set so a host run can trace step pulses
// without real hardware to observe.
func NewHostDriver(log func(pin GPIOPin, value bool)) *HostDriver {
	return &HostDriver{pins: make(map[GPIOPin]bool), log: log}
}

func (d *HostDriver) Configure(pin GPIOPin, mode PinMode) error {
	if _, ok := d.pins[pin]; !ok {
		d.pins[pin] = mode == PinModeInputPullUp
	}
	return nil
}

func (d *HostDriver) Set(pin GPIOPin, value bool) {
	d.pins[pin] = value
	if d.log != nil {
		d.log(pin, value)
	}
}

func (d *HostDriver) Get(pin GPIOPin) bool {
	return d.pins[pin]
}
