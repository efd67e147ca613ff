package modem

import (
	"context"
	"fmt"
	"strings"

	"i4.energy/across/nbiot/at"
)

// csqUnknown is the CSQ and BER value the modem reports when it has no
// reading.
const csqUnknown = 99

// berTable maps the BER class 0..7 reported by AT+CSQ to a bit error rate in
// tenths of a percent.
var berTable = [...]int{49, 43, 37, 25, 19, 13, 7, 0}

// Signal is a signal quality reading.
type Signal struct {
	// CSQ is the raw quality code, 0..31 or 99 when unknown
	CSQ int `json:"csq"`
	// RSSI is the received signal strength in dBm, 0 when unknown
	RSSI int `json:"rssi"`
	// BER is the mapped bit error rate, 0 when unknown
	BER int `json:"ber"`
}

// CSQToRSSI converts a CSQ code to dBm. Unknown or out of range codes
// convert to 0.
func CSQToRSSI(csq int) int {
	if csq < 0 || csq > 31 {
		return 0
	}
	return -113 + 2*csq
}

// RSSIToCSQ converts a signal strength in dBm to the nearest CSQ code,
// clamped to 0..31. Zero converts to the unknown code 99.
func RSSIToCSQ(rssi int) int {
	if rssi == 0 {
		return csqUnknown
	}
	return min(max((rssi+113)/2, 0), 31)
}

func berFromClass(class int) int {
	if class < 0 || class >= len(berTable) {
		return 0
	}
	return berTable[class]
}

// IsConnected reports whether the modem is attached to the packet domain
// (AT+CGATT?).
func (m *Modem) IsConnected(ctx context.Context) (bool, error) {
	var p attachParser
	if err := m.exec(ctx, cmdAttachQuery, &p, m.config.atTimeout); err != nil {
		return false, err
	}
	if !p.ok {
		return false, fmt.Errorf("%s: %w: no attach state", cmdAttachQuery, at.ErrMalformedReply)
	}
	return p.attached, nil
}

// CreateContext binds apn to the default packet data context.
func (m *Modem) CreateContext(ctx context.Context, apn string) error {
	if apn == "" || strings.ContainsAny(apn, "\"\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidAPN, apn)
	}
	return m.expectOK(ctx, fmt.Sprintf(cmdContext, defaultCID, apn))
}

// Disconnect detaches from the packet domain. The network can take a while
// to confirm, so the detach window is long.
func (m *Modem) Disconnect(ctx context.Context) error {
	return m.exec(ctx, cmdDetach, nil, m.config.detachTimeout)
}

// SignalQuality queries AT+CSQ. A modem without a reading reports CSQ 99,
// which yields zero RSSI and BER.
func (m *Modem) SignalQuality(ctx context.Context) (Signal, error) {
	var p signalParser
	if err := m.exec(ctx, cmdSignal, &p, m.config.atTimeout); err != nil {
		return Signal{}, err
	}
	if !p.ok {
		return Signal{}, fmt.Errorf("%s: %w: no signal report", cmdSignal, at.ErrMalformedReply)
	}

	s := Signal{CSQ: p.csq}
	if p.csq != csqUnknown {
		s.RSSI = CSQToRSSI(p.csq)
	}
	if p.ber != csqUnknown {
		s.BER = berFromClass(p.ber)
	}
	return s, nil
}

// waitForSignal polls the signal quality until the modem reports a reading.
func (m *Modem) waitForSignal(ctx context.Context) (Signal, error) {
	var last Signal
	err := m.poll(ctx, PollConfig{
		Interval: m.config.pollInterval,
		Timeout:  m.config.signalTimeout,
	}, ErrNoSignal, func(ctx context.Context) (bool, error) {
		s, err := m.SignalQuality(ctx)
		if err != nil {
			return false, err
		}
		last = s
		return s.RSSI != 0, nil
	})
	return last, err
}

// attach requests network attach until the modem accepts it.
func (m *Modem) attach(ctx context.Context) error {
	return m.poll(ctx, PollConfig{
		Interval: m.config.pollInterval,
		Timeout:  m.config.attachTimeout,
	}, ErrAttachTimeout, func(ctx context.Context) (bool, error) {
		if err := m.expectOK(ctx, cmdAttach); err != nil {
			return false, err
		}
		return true, nil
	})
}

// waitForAttach polls the attach state until the modem has attached on its
// own.
func (m *Modem) waitForAttach(ctx context.Context) error {
	return m.poll(ctx, PollConfig{
		Interval: m.config.pollInterval,
		Timeout:  m.config.attachTimeout,
	}, ErrAttachTimeout, m.IsConnected)
}
