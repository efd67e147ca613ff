package modem

import (
	"context"
	"net/netip"
)

// RadioDriver is the command set of an NB-IoT modem family: liveness, radio
// control, configuration and network attach.
type RadioDriver interface {
	IsAlive(ctx context.Context) (bool, error)
	On(ctx context.Context) error
	SetRadioActive(ctx context.Context, on bool) error
	Reboot(ctx context.Context) error
	ReconcileConfig(ctx context.Context) error
	CreateContext(ctx context.Context, apn string) error
	IsConnected(ctx context.Context) (bool, error)
	SignalQuality(ctx context.Context) (Signal, error)
	Connect(ctx context.Context) error
	ConnectAuto(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// SocketDriver moves UDP datagrams through modem sockets.
type SocketDriver interface {
	CreateSocket(ctx context.Context, localPort uint16, urc bool) (int, error)
	SendTo(ctx context.Context, socket int, to netip.AddrPort, payload []byte) (int, error)
	// ReceiveFrom returns 0 and a nil error when nothing is pending. A reply
	// that arrives but cannot be parsed is an error.
	ReceiveFrom(ctx context.Context, socket int, p []byte) (int, Datagram, error)
	CloseSocket(ctx context.Context, socket int) error
}

var (
	_ RadioDriver  = (*Modem)(nil)
	_ SocketDriver = (*Modem)(nil)
)
