// Package serialio wraps a physical serial port for the ASCII line
// protocol of spec.md §6: byte-at-a-time line assembly, intercepting the
// four real-time command bytes out of band, and the "ok\r\n"/"error:
// ...\r\n" response framing. Grounded on the teacher's host/serial port
// abstraction (an io.ReadWriteCloser wrapping github.com/tarm/serial).
package serialio

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is the abstract serial transport; NativePort is the only
// implementation on this build, but tests substitute an in-memory pipe.
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// Config is the subset of github.com/tarm/serial's options this firmware
// exposes.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout int // milliseconds; 0 blocks
}

// DefaultConfig returns 115200 8N1, a conventional GRBL-compatible rate.
func DefaultConfig(device string) *Config {
	return &Config{Device: device, Baud: 115200, ReadTimeout: 50}
}

// NativePort wraps github.com/tarm/serial.
type NativePort struct {
	port *serial.Port
}

// Open opens the physical port described by cfg.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("serialio: config cannot be nil")
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("serialio: open %s: %w", cfg.Device, err)
	}
	return &NativePort{port: port}, nil
}

func (p *NativePort) Read(b []byte) (int, error)  { return p.port.Read(b) }
func (p *NativePort) Write(b []byte) (int, error) { return p.port.Write(b) }
func (p *NativePort) Close() error                { return p.port.Close() }

// Flush is a no-op: tarm/serial has no buffered-write flush to call, and
// Write already blocks until the bytes are handed to the OS.
func (p *NativePort) Flush() error { return nil }
