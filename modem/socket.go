package modem

import (
	"context"
	"fmt"
	"net/netip"

	"i4.energy/across/nbiot/at"
)

const (
	cmdCreateSocket = "AT+NSOCR=DGRAM,17,%d,%d"
	cmdSendTo       = "AT+NSOST=%d,%s,%d,%d,"
	cmdReceiveFrom  = "AT+NSORF=%d,%d"
	cmdCloseSocket  = "AT+NSOCL=%d"

	// DefaultLocalPort is the local UDP port sockets are bound to when the
	// caller has no preference.
	DefaultLocalPort = 42000
	// MaxDatagramSize is the largest payload sent in one AT+NSOST.
	MaxDatagramSize = 512

	// receiveOverhead reserves room in the line buffer for the fields around
	// the hex payload of a receive reply.
	receiveOverhead = 48
)

// Datagram describes a datagram read from a modem socket. The payload itself
// is decoded into the buffer passed to ReceiveFrom.
type Datagram struct {
	// Socket is the handle the datagram was read from
	Socket int
	// From is the sender
	From netip.AddrPort
	// Length is the number of payload bytes
	Length int
	// Remaining is how many bytes the modem still holds for the socket
	Remaining int
}

// CreateSocket opens a UDP socket bound to localPort and returns the handle
// assigned by the modem. With urc set the modem announces arriving datagrams
// with +NSONMI lines.
func (m *Modem) CreateSocket(ctx context.Context, localPort uint16, urc bool) (int, error) {
	var p handleParser
	cmd := fmt.Sprintf(cmdCreateSocket, localPort, boolDigit(urc))
	if err := m.exec(ctx, cmd, &p, m.config.atTimeout); err != nil {
		return 0, err
	}
	if !p.ok {
		return 0, fmt.Errorf("%s: %w: no socket handle", cmd, at.ErrMalformedReply)
	}
	return p.handle, nil
}

// SendTo sends payload from socket to the given address and returns the
// number of bytes the modem accepted.
func (m *Modem) SendTo(ctx context.Context, socket int, to netip.AddrPort, payload []byte) (int, error) {
	if !to.IsValid() {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAddress, to)
	}
	if len(payload) > MaxDatagramSize {
		return 0, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), MaxDatagramSize)
	}

	header := fmt.Sprintf(cmdSendTo, socket, to.Addr().Unmap(), to.Port(), len(payload))
	cmd := string(at.AppendHex([]byte(header), payload))

	var p sendParser
	if err := m.exec(ctx, cmd, &p, m.config.atTimeout); err != nil {
		return 0, err
	}
	if !p.ok {
		return 0, fmt.Errorf("%s: %w: no send report", header, at.ErrMalformedReply)
	}
	if p.handle != socket {
		return 0, fmt.Errorf("%s: %w: report for socket %d", header, at.ErrMalformedReply, p.handle)
	}
	return p.sent, nil
}

// ReceiveFrom reads one datagram pending on socket into p, requesting at most
// len(p) bytes. It returns the payload length and where it came from.
//
// A modem with nothing pending answers with a bare OK; ReceiveFrom then
// returns zero and an empty Datagram.
func (m *Modem) ReceiveFrom(ctx context.Context, socket int, p []byte) (int, Datagram, error) {
	if err := m.ready(); err != nil {
		return 0, Datagram{}, err
	}
	if len(p) == 0 {
		return 0, Datagram{}, nil
	}
	if 2*len(p)+receiveOverhead > m.conn.BufferSize() {
		return 0, Datagram{}, fmt.Errorf("%w: %d bytes do not fit a %d byte reply line",
			ErrPayloadTooLarge, len(p), m.conn.BufferSize())
	}

	rp := receiveParser{buf: p}
	cmd := fmt.Sprintf(cmdReceiveFrom, socket, 2*len(p))
	if err := m.exec(ctx, cmd, &rp, m.config.atTimeout); err != nil {
		if rp.err != nil {
			return 0, Datagram{}, fmt.Errorf("%w: %w", err, rp.err)
		}
		return 0, Datagram{}, err
	}
	if !rp.ok {
		return 0, Datagram{}, nil
	}
	return rp.n, rp.datagram, nil
}

// CloseSocket closes socket. The handle is invalid afterwards.
func (m *Modem) CloseSocket(ctx context.Context, socket int) error {
	return m.expectOK(ctx, fmt.Sprintf(cmdCloseSocket, socket))
}
