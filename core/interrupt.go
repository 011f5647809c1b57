package core

// InterruptState is a placeholder for saved interrupt-enable state, kept so
// call sites read the same way they would against real hardware
// (disable/restore bracketing a critical section).
type InterruptState uintptr

// DisableInterrupts is a no-op stand-in on the host simulation build; the
// simulated clock is single-threaded so there is nothing to disable, but
// call sites still bracket critical sections with it the way the firmware
// would disable the global interrupt enable bit.
func DisableInterrupts() InterruptState {
	return 0
}

// RestoreInterrupts is the matching no-op restore.
func RestoreInterrupts(InterruptState) {
}
