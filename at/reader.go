package at

import (
	"bytes"
	"errors"
	"io"
	"time"
)

// readIdle is how long the reader backs off after a Read that returned no
// byte. Serial ports configured with a read timeout already block for that
// long, so this only matters for non-blocking transports.
const readIdle = time.Millisecond

// lineReader accumulates bytes from a stream into a single reusable buffer,
// one byte per Read call.
type lineReader struct {
	r           io.Reader
	buf         []byte
	one         [1]byte
	terminator  string
	byteTimeout time.Duration
}

func newLineReader(r io.Reader, size int, terminator string, byteTimeout time.Duration) *lineReader {
	return &lineReader{
		r:           r,
		buf:         make([]byte, size),
		terminator:  terminator,
		byteTimeout: byteTimeout,
	}
}

// readLine reads until the last byte of the terminator, a full buffer, or a
// byte read stalls. It never waits past deadline.
//
// An empty line is returned as "" with a nil error; errNoData means not a
// single byte arrived. A stall after some bytes returns the partial line.
func (lr *lineReader) readLine(deadline time.Time) (string, error) {
	stop := lr.terminator[len(lr.terminator)-1]

	n := 0
	for n < len(lr.buf) {
		c, err := lr.readByte(deadline)
		if err != nil {
			if errors.Is(err, errNoData) && n > 0 {
				break
			}
			return "", err
		}
		if c == stop {
			break
		}
		lr.buf[n] = c
		n++
	}

	line := lr.buf[:n]
	if len(lr.terminator) > 1 {
		line = bytes.TrimSuffix(line, []byte(lr.terminator[:len(lr.terminator)-1]))
	}
	line = bytes.TrimSuffix(line, []byte(CR))

	return string(line), nil
}

// readByte waits at most byteTimeout for one byte, cut short by deadline.
// At least one Read is always attempted.
func (lr *lineReader) readByte(deadline time.Time) (byte, error) {
	until := time.Now().Add(lr.byteTimeout)
	if deadline.Before(until) {
		until = deadline
	}

	for {
		n, err := lr.r.Read(lr.one[:])
		if n == 1 {
			return lr.one[0], nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if !time.Now().Before(until) {
			return 0, errNoData
		}
		time.Sleep(readIdle)
	}
}
