package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

//go:generate go tool mockgen -destination=mock_transport.go -package=modem . Transport,Dialer

// DefaultBaudRate is the factory baud rate of the SARA-N200.
const DefaultBaudRate = 9600

// DefaultReadTimeout bounds a single Read on a serial port, so the line
// reader can enforce its own per-byte timeout.
const DefaultReadTimeout = 10 * time.Millisecond

// Transport represents an established, bidirectional byte stream to a modem.
//
// A Transport is assumed to be already connected and ready for use. It provides
// the low-level I/O primitives required to send AT commands and receive responses.
// A Read that returns no bytes and a nil error (or io.EOF) means no byte is
// available yet. Typical implementations include serial ports, TCP
// connections to emulators, or in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port, TCP-based emulator, or test double) and is intended to be used
// during modem construction only. Once a Transport is obtained, the Dialer is
// no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Transport, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}

// SerialDialer opens a modem over a serial port using go.bug.st/serial.
type SerialDialer struct {
	// PortName is the serial device, e.g. "/dev/ttyUSB0" or "COM3".
	PortName string
	// BaudRate is used when Mode is nil. Defaults to DefaultBaudRate.
	BaudRate int
	// Mode overrides the full line settings.
	Mode *serial.Mode
	// ReadTimeout bounds each Read. Defaults to DefaultReadTimeout.
	ReadTimeout time.Duration
}

// Dial opens the serial port and configures its read timeout.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("nbiot: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("nbiot: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := serial.Open(d.PortName, d.mode())
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", d.PortName, err)
	}

	if err := port.SetReadTimeout(d.readTimeout()); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %q: %w", d.PortName, err)
	}

	return port, nil
}

// mode returns the line settings, 8N1 at BaudRate unless Mode is set.
func (d SerialDialer) mode() *serial.Mode {
	if d.Mode != nil {
		return d.Mode
	}
	baud := d.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
}

func (d SerialDialer) readTimeout() time.Duration {
	if d.ReadTimeout <= 0 {
		return DefaultReadTimeout
	}
	return d.ReadTimeout
}

// PortNames lists the serial ports present on the host.
func PortNames() ([]string, error) {
	return serial.GetPortsList()
}
