package modem

import "errors"

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	//
	// This can occur if the Dialer returned no transport or if the Modem was
	// not created via New.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when an operation is attempted on, or
	// Close is called on, a Modem that has already been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrNotAlive is returned when the modem did not answer the liveness
	// probe within the configured number of attempts.
	ErrNotAlive = errors.New("modem not responding")

	// ErrNoSignal is returned when no usable signal quality was reported
	// before the signal timeout.
	ErrNoSignal = errors.New("no signal")

	// ErrAttachTimeout is returned when the modem did not attach to the
	// network before the attach timeout.
	ErrAttachTimeout = errors.New("network attach timed out")

	// ErrPayloadTooLarge is returned when a datagram does not fit the send
	// limit or the reply to a receive request would not fit the line buffer.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrInvalidAddress is returned when a datagram destination is not a
	// valid IP address and port.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidAPN is returned when an access point name cannot be sent
	// inside a quoted AT argument.
	ErrInvalidAPN = errors.New("invalid APN")
)
