// Package modem drives a u-blox SARA-N200 NB-IoT modem over AT commands:
// network bring-up, configuration reconciliation, signal quality and
// UDP sockets.
package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/atomic"

	"i4.energy/across/nbiot/at"
)

const (
	cmdAt          = "AT"
	cmdRadio       = "AT+CFUN=%d"
	cmdReboot      = "AT+NRB"
	cmdAttachQuery = "AT+CGATT?"
	cmdAttach      = "AT+CGATT=1"
	cmdDetach      = "AT+CGATT=0"
	cmdContext     = `AT+CGDCONT=%d,"IP","%s"`
	cmdSignal      = "AT+CSQ"
	cmdNConfig     = "AT+NCONFIG?"
	cmdSetNConfig  = "AT+NCONFIG=%s,%s"

	// defaultCID is the packet data context the APN is bound to.
	defaultCID = 1
)

// Modem is a SARA-N200 NB-IoT modem driven over AT commands.
//
// Every operation blocks the caller until the modem replies or the
// operation's timeout elapses. There is one line buffer and at most one
// command in flight, so a Modem must not be used from several goroutines
// without external locking.
type Modem struct {
	// transport provides the physical connection to the modem (serial, TCP, etc.)
	transport Transport
	// conn dispatches command replies read from transport
	conn *at.Conn
	// config contains the modem configuration settings
	config Config
	logger *slog.Logger
	// closed indicates if the modem has been shut down
	closed atomic.Bool
	// bringUp tracks the most recent Connect or ConnectAuto
	bringUp *fsm.FSM
}

// PollConfig defines configuration for polling operations like waiting for
// signal or network attach.
type PollConfig struct {
	// Interval is the time between polling attempts
	Interval time.Duration
	// Timeout is the maximum time to wait for the condition
	Timeout time.Duration
}

// New creates a new Modem instance with the given configuration. It opens
// the transport but does not talk to the modem; call Connect or
// ConnectAuto to bring the network up.
//
// Returns an error if the configuration is invalid or the transport cannot
// be opened.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	m := &Modem{
		transport: transport,
		config:    config,
		logger:    config.logger,
		conn: at.NewConn(transport,
			at.WithLineBufferSize(config.lineBufferSize),
			at.WithByteTimeout(config.byteTimeout),
			at.WithPollDelay(config.pollDelay),
			at.WithLogger(config.logger.With("component", "at")),
			at.WithObserver(config.observer),
		),
	}

	return m, nil
}

// Close releases the transport. After calling Close(), the modem cannot be
// reused.
func (m *Modem) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}

	if m.transport != nil {
		return m.transport.Close()
	}

	return nil
}

// ready reports whether commands may be sent.
func (m *Modem) ready() error {
	if m.closed.Load() {
		return ErrAlreadyClosed
	}
	if m.transport == nil || m.conn == nil {
		return ErrNotInitialized
	}
	return nil
}

// exec sends cmd and waits up to timeout for the reply, feeding intermediate
// lines to parser.
func (m *Modem) exec(ctx context.Context, cmd string, parser at.Parser, timeout time.Duration) error {
	if err := m.ready(); err != nil {
		return err
	}

	if _, err := m.conn.Command(ctx, cmd, parser, timeout); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

// expectOK executes a command that answers with a bare OK, using the default
// command window.
func (m *Modem) expectOK(ctx context.Context, cmd string) error {
	return m.exec(ctx, cmd, nil, m.config.atTimeout)
}

// IsAlive sends the AT no-op and reports whether the modem answered OK within
// the liveness window. Only transport failures are returned as errors.
func (m *Modem) IsAlive(ctx context.Context) (bool, error) {
	err := m.exec(ctx, cmdAt, nil, m.config.aliveTimeout)
	switch {
	case err == nil:
		return true, nil
	case retryable(err):
		return false, nil
	default:
		return false, err
	}
}

// On probes the modem until it answers, up to the configured number of
// attempts.
func (m *Modem) On(ctx context.Context) error {
	for attempt := 1; attempt <= m.config.powerOnRetries; attempt++ {
		alive, err := m.IsAlive(ctx)
		if err != nil {
			return err
		}
		if alive {
			return nil
		}
		m.logger.Debug("modem not answering", "attempt", attempt)
	}
	return fmt.Errorf("%w after %d attempts", ErrNotAlive, m.config.powerOnRetries)
}

// SetRadioActive switches the radio function on (AT+CFUN=1) or off
// (AT+CFUN=0).
func (m *Modem) SetRadioActive(ctx context.Context, on bool) error {
	return m.expectOK(ctx, fmt.Sprintf(cmdRadio, boolDigit(on)))
}

// Reboot restarts the modem. The acknowledgement is awaited for the reboot
// window only; a modem that reboots without a clean OK is not an error.
func (m *Modem) Reboot(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.conn.Send(cmdReboot); err != nil {
		return err
	}

	start := time.Now()
	for {
		remaining := m.config.rebootTimeout - time.Since(start)
		if remaining <= 0 {
			break
		}

		kind, _, err := m.conn.Await(ctx, nil, remaining)
		if kind == at.ResponseOK {
			return nil
		}
		if err != nil && !retryable(err) {
			return fmt.Errorf("%s: %w", cmdReboot, err)
		}
	}

	m.logger.Warn("reboot not acknowledged", "timeout", m.config.rebootTimeout)
	return nil
}

// retryable reports whether err is a modem-level failure worth another
// attempt, as opposed to a broken transport or a closed modem.
func retryable(err error) bool {
	var cmdErr *at.CommandError
	return errors.Is(err, at.ErrTimeout) ||
		errors.Is(err, at.ErrMalformedReply) ||
		errors.As(err, &cmdErr)
}

// poll calls check until it reports done, the retries or the timeout are
// exhausted, or check fails with a non-retryable error. Polling is on a
// fixed interval with the first attempt made immediately.
func (m *Modem) poll(ctx context.Context, config PollConfig, exhausted error, check func(context.Context) (bool, error)) error {
	var (
		pollInterval = config.Interval
		timeout      = config.Timeout
	)

	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxAttempts := max(int(timeout/pollInterval), 1)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	start := time.Now()
	for retries := 1; ; retries++ {
		done, err := check(ctx)
		if err != nil {
			// Fail fast on critical errors
			if !retryable(err) {
				return err
			}
			m.logger.Debug("poll attempt failed", "attempt", retries, "error", err)
		}
		if done {
			return nil
		}

		if retries >= maxAttempts || time.Since(start) >= timeout {
			return fmt.Errorf("%w after %d attempts", exhausted, retries)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", exhausted, ctx.Err())
		case <-ticker.C:
		}
	}
}

func boolDigit(b bool) int {
	if b {
		return 1
	}
	return 0
}
