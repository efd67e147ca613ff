package modem

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"
)

// TestTransport is a test helper that plays the modem side of a conversation.
// Each command written to it is matched against the next expectation, and on
// a match the scripted reply lines become readable. Reads with nothing
// pending behave like a serial port whose read timeout elapsed: they wait
// briefly and return no data.
type TestTransport struct {
	mu       sync.Mutex
	pending  bytes.Buffer
	partial  bytes.Buffer
	script   []exchange
	written  []string
	echo     bool
	closed   bool
	idleWait time.Duration
}

type exchange struct {
	command string
	replies []string
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{idleWait: time.Millisecond}
}

// Echo makes the transport repeat every command back before its reply, like
// a modem with ATE1.
func (t *TestTransport) Echo(on bool) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.echo = on
	return t
}

// Expect appends an exchange: when cmd is written, replies are queued as
// CRLF-terminated lines. An exchange without replies leaves the modem silent.
func (t *TestTransport) Expect(cmd string, replies ...string) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, exchange{command: cmd, replies: replies})
	return t
}

// SendData queues raw bytes to be read by the transport.
// This simulates unsolicited output from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.pending.WriteString(data)
	}
}

// Written returns the commands written so far, without terminators.
func (t *TestTransport) Written() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.written...)
}

// Remaining returns the commands still expected.
func (t *TestTransport) Remaining() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.script))
	for _, x := range t.script {
		out = append(out, x.command)
	}
	return out
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}

	t.partial.Write(p)
	for {
		line, rest, found := strings.Cut(t.partial.String(), "\r")
		if !found {
			break
		}
		t.partial.Reset()
		t.partial.WriteString(rest)
		t.handle(line)
	}
	return len(p), nil
}

func (t *TestTransport) handle(cmd string) {
	t.written = append(t.written, cmd)
	if t.echo {
		t.pending.WriteString(cmd + "\r\n")
	}
	if len(t.script) == 0 || t.script[0].command != cmd {
		return
	}

	x := t.script[0]
	t.script = t.script[1:]
	for _, reply := range x.replies {
		t.pending.WriteString(reply + "\r\n")
	}
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if t.pending.Len() > 0 {
		defer t.mu.Unlock()
		return t.pending.Read(p)
	}
	t.mu.Unlock()

	time.Sleep(t.idleWait)
	return 0, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
