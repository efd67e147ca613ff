package modem_test

import (
	"bytes"
	"strconv"
	"time"

	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/nbiot/modem"
)

// MockSequenceBuilder scripts a MockTransport. Every step expects one
// command write; the reply lines are fed to the reader once that write
// happens. Reads drain the replies and report no data when there are none.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	output    *bytes.Buffer
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	output := &bytes.Buffer{}
	transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
		if output.Len() == 0 {
			time.Sleep(time.Millisecond)
			return 0, nil
		}
		return output.Read(p)
	}).AnyTimes()

	return &MockSequenceBuilder{
		transport: transport,
		output:    output,
		calls:     []any{},
	}
}

// Command expects cmd and answers with lines.
func (b *MockSequenceBuilder) Command(cmd string, lines ...string) *MockSequenceBuilder {
	wire := []byte(cmd + "\r")
	b.calls = append(b.calls,
		b.transport.EXPECT().Write(wire).DoAndReturn(func(p []byte) (int, error) {
			for _, line := range lines {
				b.output.WriteString(line + "\r\n")
			}
			return len(p), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Command("AT", "AT", "OK")
}

func (b *MockSequenceBuilder) RadioOff() *MockSequenceBuilder {
	return b.Command("AT+CFUN=0", "OK")
}

func (b *MockSequenceBuilder) RadioOn() *MockSequenceBuilder {
	return b.Command("AT+CFUN=1", "OK")
}

// ConfigMatching answers the configuration query with the default table.
func (b *MockSequenceBuilder) ConfigMatching() *MockSequenceBuilder {
	return b.Command("AT+NCONFIG?",
		`+NCONFIG: "AUTOCONNECT","TRUE"`,
		`+NCONFIG: "CR_0354_0338_SCRAMBLING","TRUE"`,
		`+NCONFIG: "CR_0859_SI_AVOID","TRUE"`,
		`+NCONFIG: "COMBINE_ATTACH","FALSE"`,
		"OK")
}

func (b *MockSequenceBuilder) Reboot() *MockSequenceBuilder {
	return b.Command("AT+NRB", "REBOOTING", "OK")
}

func (b *MockSequenceBuilder) Attached(attached bool) *MockSequenceBuilder {
	state := "+CGATT: 0"
	if attached {
		state = "+CGATT: 1"
	}
	return b.Command("AT+CGATT?", state, "OK")
}

func (b *MockSequenceBuilder) Signal(csq, ber int) *MockSequenceBuilder {
	return b.Command("AT+CSQ", "+CSQ: "+strconv.Itoa(csq)+","+strconv.Itoa(ber), "OK")
}

func (b *MockSequenceBuilder) Attach() *MockSequenceBuilder {
	return b.Command("AT+CGATT=1", "OK")
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}
