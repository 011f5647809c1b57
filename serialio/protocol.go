package serialio

import (
	"fmt"

	"github.com/Smitter/GRBL-LM4F120H5QR/machine"
)

// realtimeByte identifies the single-byte commands that act out of band,
// regardless of where they land relative to a line in progress (§6).
const (
	rtCycleStart byte = '~'
	rtFeedHold   byte = '!'
	rtStatus     byte = '?'
	rtReset      byte = 0x18
)

// LineHandler executes one fully assembled line (a G/M/T command or a
// '$'-prefixed system command) and returns the report text to emit before
// the trailing ok/error line (empty if there's nothing to report).
type LineHandler func(line string) (report string, err error)

// LineProtocol assembles bytes from a Port into lines, intercepting the
// four real-time command bytes inline, and writes back "ok\r\n"/"error:
// ...\r\n" per line the way original_source/report.c's
// report_status_message does.
type LineProtocol struct {
	port Port
	sys  *machine.System
	buf  []byte
	run  LineHandler
}

// New binds a LineProtocol to a port, the shared system state (real-time
// bytes raise its pending flags directly), and the handler that executes
// assembled lines.
func New(port Port, sys *machine.System, run LineHandler) *LineProtocol {
	return &LineProtocol{port: port, sys: sys, run: run}
}

// ProcessByte feeds one byte from the wire into the assembler. Real-time
// bytes are consumed immediately and never reach the line buffer;
// '\r'/'\n' flush whatever line has accumulated.
func (lp *LineProtocol) ProcessByte(b byte) {
	switch b {
	case rtCycleStart:
		lp.sys.RaisePending(machine.PendingCycleStart)
	case rtFeedHold:
		lp.sys.RaisePending(machine.PendingFeedHold)
	case rtStatus:
		lp.sys.RaisePending(machine.PendingStatusReport)
	case rtReset:
		lp.sys.RaisePending(machine.PendingAbort)
	case '\n', '\r':
		if len(lp.buf) == 0 {
			return
		}
		line := string(lp.buf)
		lp.buf = lp.buf[:0]
		lp.dispatch(line)
	default:
		lp.buf = append(lp.buf, b)
	}
}

func (lp *LineProtocol) dispatch(line string) {
	report, err := lp.run(line)
	if report != "" {
		lp.write(report)
	}
	if err != nil {
		lp.write(fmt.Sprintf("error: %s\r\n", err))
		return
	}
	lp.write("ok\r\n")
}

func (lp *LineProtocol) write(s string) {
	_, _ = lp.port.Write([]byte(s))
}

// Run reads from the port until it errors (typically on Close), feeding
// every byte through ProcessByte. It is the blocking main loop a
// cmd/cncfw wiring runs on its own goroutine.
func (lp *LineProtocol) Run() error {
	var b [1]byte
	for {
		n, err := lp.port.Read(b[:])
		if n > 0 {
			lp.ProcessByte(b[0])
		}
		if err != nil {
			return err
		}
	}
}

// WriteAlarm emits an ALARM message (original_source/report.c's
// report_alarm_message format).
func (lp *LineProtocol) WriteAlarm(reason string) {
	lp.write(fmt.Sprintf("ALARM: %s. MPos?\r\n", reason))
}

// WriteFeedback emits a bracketed feedback message, e.g. "[MSG:...]\r\n".
func (lp *LineProtocol) WriteFeedback(msg string) {
	lp.write(fmt.Sprintf("[%s]\r\n", msg))
}

// WriteStatusReport emits an already-formatted status line verbatim (the
// runtime coordinator builds the "<State,MPos:...>\r\n" text).
func (lp *LineProtocol) WriteStatusReport(line string) {
	lp.write(line)
}

// WriteInit emits the startup banner a serial client sees right after
// connecting, matching report_init_message's "\r\n<name> ['$' for
// help]\r\n" shape.
func (lp *LineProtocol) WriteInit(name string) {
	lp.write(fmt.Sprintf("\r\n%s ['$' for help]\r\n", name))
}
