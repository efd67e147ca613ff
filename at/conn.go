package at

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

const (
	// DefaultLineBufferSize holds the longest reply this driver expects, a
	// receive line carrying 512 payload bytes as hex plus its header fields.
	DefaultLineBufferSize = 1100
	// DefaultByteTimeout bounds the wait for each byte of a line.
	DefaultByteTimeout = 250 * time.Millisecond
	// DefaultPollDelay is the pause between poll attempts that produced no
	// line.
	DefaultPollDelay = 10 * time.Millisecond
)

// Observer is notified once per Command with the verdict and how long the
// command took, e.g. to export metrics.
type Observer func(command string, kind ResponseKind, elapsed time.Duration)

// Conn sends AT commands over a byte stream and dispatches the reply lines.
//
// A Conn keeps one line buffer and remembers the last command written, so it
// must not be used by more than one goroutine at a time.
type Conn struct {
	w         io.Writer
	reader    *lineReader
	pollDelay time.Duration
	lastCmd   string
	logger    *slog.Logger
	observer  Observer
}

// Option configures a Conn.
type Option func(*Conn)

// WithLineBufferSize sets the capacity of the line buffer. Longer lines are
// split at the capacity.
func WithLineBufferSize(size int) Option {
	return func(c *Conn) {
		if size > 0 {
			c.reader.buf = make([]byte, size)
		}
	}
}

// WithByteTimeout sets how long a line read waits for each byte.
func WithByteTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.reader.byteTimeout = d
		}
	}
}

// WithPollDelay sets the pause between poll attempts that returned no line.
func WithPollDelay(d time.Duration) Option {
	return func(c *Conn) {
		if d >= 0 {
			c.pollDelay = d
		}
	}
}

// WithTerminator sets the line terminator. Only its last byte ends a line;
// the rest of the sequence is stripped from the line.
func WithTerminator(terminator string) Option {
	return func(c *Conn) {
		if terminator != "" {
			c.reader.terminator = terminator
		}
	}
}

// WithLogger sets the logger used to trace commands and reply lines at debug
// level.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver installs an Observer called after every Command.
func WithObserver(observer Observer) Option {
	return func(c *Conn) {
		c.observer = observer
	}
}

// NewConn returns a Conn reading and writing rw.
func NewConn(rw io.ReadWriter, opts ...Option) *Conn {
	c := &Conn{
		w:         rw,
		reader:    newLineReader(rw, DefaultLineBufferSize, CRLF, DefaultByteTimeout),
		pollDelay: DefaultPollDelay,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BufferSize returns the capacity of the line buffer.
func (c *Conn) BufferSize() int {
	return len(c.reader.buf)
}

// Send writes cmd terminated by a carriage return. Echoes of cmd are skipped
// by the following Await.
func (c *Conn) Send(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	c.lastCmd = cmd
	c.logger.Debug("send", "command", cmd)

	if _, err := io.WriteString(c.w, cmd+CR); err != nil {
		return fmt.Errorf("write command %q: %w", cmd, err)
	}
	return nil
}

// Command sends cmd and waits up to timeout for its reply, see Await.
func (c *Conn) Command(ctx context.Context, cmd string, parser Parser, timeout time.Duration) (ResponseKind, error) {
	start := time.Now()
	if err := c.Send(cmd); err != nil {
		return ResponseNotFound, err
	}

	kind, _, err := c.Await(ctx, parser, timeout)
	if c.observer != nil {
		c.observer(cmd, kind, time.Since(start))
	}
	return kind, err
}

// Await polls reply lines until a terminal verdict or until timeout has
// elapsed, and returns the verdict together with the length of the last line
// read (zero on timeout).
//
// Lines starting with OK end the wait with ResponseOK. Lines starting with
// ERROR, +CME ERROR: or +CMS ERROR: end it with ResponseError and a
// *CommandError. Echoes of the last command are skipped. Every other line goes
// to parser, if any, which decides whether to keep waiting; a parser
// returning ResponseError yields ErrMalformedReply. Without a parser such
// lines are ignored.
//
// On timeout Await returns ResponseTimeout and ErrTimeout. A cancelled ctx
// ends the wait early with ctx.Err().
func (c *Conn) Await(ctx context.Context, parser Parser, timeout time.Duration) (ResponseKind, int, error) {
	start := time.Now()
	deadline := start.Add(timeout)

poll:
	for {
		if err := ctx.Err(); err != nil {
			return ResponseTimeout, 0, err
		}

		line, err := c.reader.readLine(deadline)
		switch {
		case errors.Is(err, errNoData), err == nil && line == "":
			if time.Since(start) >= timeout {
				break poll
			}
			if err := sleep(ctx, c.pollDelay); err != nil {
				return ResponseTimeout, 0, err
			}
			continue
		case err != nil:
			return ResponseError, 0, fmt.Errorf("read response: %w", err)
		}

		c.logger.Debug("recv", "line", line)

		if !c.isEcho(line) {
			switch Classify(line) {
			case ResponseOK:
				return ResponseOK, len(line), nil
			case ResponseError:
				return ResponseError, len(line), &CommandError{Line: line}
			}

			if parser != nil {
				switch kind := parser.Parse(line); kind {
				case ResponseEmpty:
					parser = nil
				case ResponsePendingExtra:
				case ResponseError:
					return ResponseError, len(line), fmt.Errorf("%w: %q", ErrMalformedReply, line)
				default:
					return kind, len(line), nil
				}
			}
		}

		if time.Since(start) >= timeout {
			break poll
		}
	}

	c.logger.Debug("timed out", "command", c.lastCmd, "timeout", timeout)
	return ResponseTimeout, 0, ErrTimeout
}

// isEcho reports whether line is the modem echoing a command back.
func (c *Conn) isEcho(line string) bool {
	return line == c.lastCmd || strings.HasPrefix(line, Prefix)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
