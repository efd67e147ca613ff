package modem

import (
	"context"
	"net/netip"
)

// UDPConn exchanges datagrams through a single modem socket. The socket is
// created on first use and bound to the local port given to NewUDPConn.
//
// Like the driver underneath, a UDPConn is not safe for concurrent use.
type UDPConn struct {
	driver    SocketDriver
	localPort uint16
	socket    int
	open      bool
}

// NewUDPConn returns a UDPConn on driver. A zero localPort selects
// DefaultLocalPort.
func NewUDPConn(driver SocketDriver, localPort uint16) *UDPConn {
	if localPort == 0 {
		localPort = DefaultLocalPort
	}
	return &UDPConn{driver: driver, localPort: localPort}
}

// LocalPort returns the port the socket is bound to.
func (c *UDPConn) LocalPort() uint16 {
	return c.localPort
}

func (c *UDPConn) ensureSocket(ctx context.Context) error {
	if c.open {
		return nil
	}
	socket, err := c.driver.CreateSocket(ctx, c.localPort, false)
	if err != nil {
		return err
	}
	c.socket = socket
	c.open = true
	return nil
}

// WriteTo sends p to addr and returns the number of bytes the modem accepted.
// Payloads over MaxDatagramSize are rejected with ErrPayloadTooLarge.
func (c *UDPConn) WriteTo(ctx context.Context, p []byte, addr netip.AddrPort) (int, error) {
	if err := c.ensureSocket(ctx); err != nil {
		return 0, err
	}
	return c.driver.SendTo(ctx, c.socket, addr, p)
}

// ReadFrom reads one pending datagram into p. At most MaxDatagramSize bytes
// are requested. It returns zero and an invalid address when nothing is
// pending.
func (c *UDPConn) ReadFrom(ctx context.Context, p []byte) (int, netip.AddrPort, error) {
	if err := c.ensureSocket(ctx); err != nil {
		return 0, netip.AddrPort{}, err
	}
	if len(p) > MaxDatagramSize {
		p = p[:MaxDatagramSize]
	}

	n, d, err := c.driver.ReceiveFrom(ctx, c.socket, p)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return n, d.From, nil
}

// Close closes the socket if one was created. A UDPConn can be used again
// after Close; the next read or write opens a new socket.
func (c *UDPConn) Close(ctx context.Context) error {
	if !c.open {
		return nil
	}
	if err := c.driver.CloseSocket(ctx, c.socket); err != nil {
		return err
	}
	c.open = false
	return nil
}
