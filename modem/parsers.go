package modem

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"i4.energy/across/nbiot/at"
)

// Reply parsers. Each one owns the values it extracts and reports
// ResponseEmpty once it has what it needs, leaving the final OK to the
// dispatcher. Lines that do not match report ResponseError.

const (
	prefixAttach  = "+CGATT:"
	prefixSignal  = "+CSQ:"
	prefixNConfig = "+NCONFIG:"
)

// attachParser reads "+CGATT: <0|1>".
type attachParser struct {
	attached bool
	ok       bool
}

func (p *attachParser) Parse(line string) at.ResponseKind {
	rest, found := strings.CutPrefix(line, prefixAttach)
	if !found {
		return at.ResponseError
	}
	state, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return at.ResponseError
	}
	p.attached = state == 1
	p.ok = true
	return at.ResponseEmpty
}

// signalParser reads "+CSQ: <csq>,<ber>".
type signalParser struct {
	csq int
	ber int
	ok  bool
}

func (p *signalParser) Parse(line string) at.ResponseKind {
	rest, found := strings.CutPrefix(line, prefixSignal)
	if !found {
		return at.ResponseError
	}
	csq, ber, found := strings.Cut(strings.TrimSpace(rest), ",")
	if !found {
		return at.ResponseError
	}

	var err error
	if p.csq, err = strconv.Atoi(csq); err != nil {
		return at.ResponseError
	}
	if p.ber, err = strconv.Atoi(ber); err != nil {
		return at.ResponseError
	}
	p.ok = true
	return at.ResponseEmpty
}

// handleParser reads the bare socket handle answering AT+NSOCR.
type handleParser struct {
	handle int
	ok     bool
}

func (p *handleParser) Parse(line string) at.ResponseKind {
	handle, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || handle < 0 {
		return at.ResponseError
	}
	p.handle = handle
	p.ok = true
	return at.ResponseEmpty
}

// sendParser reads "<handle>,<sent>" answering AT+NSOST.
type sendParser struct {
	handle int
	sent   int
	ok     bool
}

func (p *sendParser) Parse(line string) at.ResponseKind {
	handle, sent, found := strings.Cut(line, ",")
	if !found {
		return at.ResponseError
	}

	var err error
	if p.handle, err = strconv.Atoi(strings.TrimSpace(handle)); err != nil {
		return at.ResponseError
	}
	if p.sent, err = strconv.Atoi(strings.TrimSpace(sent)); err != nil {
		return at.ResponseError
	}
	p.ok = true
	return at.ResponseEmpty
}

// receiveParser reads "<handle>,<ip>,<port>,<len>,<hex>,<remaining>" and
// decodes the payload into buf.
type receiveParser struct {
	buf      []byte
	datagram Datagram
	n        int
	ok       bool
	// err keeps the reason a line was rejected
	err error
}

func (p *receiveParser) Parse(line string) at.ResponseKind {
	if err := p.parse(line); err != nil {
		p.err = err
		return at.ResponseError
	}
	p.ok = true
	return at.ResponseEmpty
}

func (p *receiveParser) parse(line string) error {
	fields := strings.Split(line, ",")
	if len(fields) != 6 {
		return fmt.Errorf("want 6 fields, got %d", len(fields))
	}

	socket, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	addr, err := netip.ParseAddr(strings.Trim(strings.TrimSpace(fields[1]), `"`))
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	port, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 16)
	if err != nil {
		return fmt.Errorf("port: %w", err)
	}
	length, err := strconv.Atoi(strings.TrimSpace(fields[3]))
	if err != nil || length < 0 {
		return fmt.Errorf("length: %q", fields[3])
	}
	payload := strings.Trim(strings.TrimSpace(fields[4]), `"`)
	if len(payload) != 2*length {
		return fmt.Errorf("length %d does not match %d hex digits", length, len(payload))
	}
	remaining, err := strconv.Atoi(strings.TrimSpace(fields[5]))
	if err != nil {
		return fmt.Errorf("remaining: %w", err)
	}

	n, err := at.DecodeHex(p.buf, payload)
	if err != nil {
		return err
	}

	p.n = n
	p.datagram = Datagram{
		Socket:    socket,
		From:      netip.AddrPortFrom(addr, uint16(port)),
		Length:    length,
		Remaining: remaining,
	}
	return nil
}

// nconfigParser compares "+NCONFIG: <name>,<value>" lines against the wanted
// entries. Lines of other shapes are skipped.
type nconfigParser struct {
	want    []ConfigEntry
	matched []bool
	// lines counts the configuration lines seen
	lines int
}

func newNConfigParser(want []ConfigEntry) *nconfigParser {
	return &nconfigParser{
		want:    want,
		matched: make([]bool, len(want)),
	}
}

func (p *nconfigParser) Parse(line string) at.ResponseKind {
	rest, found := strings.CutPrefix(line, prefixNConfig)
	if !found {
		return at.ResponsePendingExtra
	}
	name, value, found := strings.Cut(strings.TrimSpace(rest), ",")
	if !found {
		return at.ResponseError
	}
	name = unquote(name)
	value = unquote(value)
	p.lines++

	for i, entry := range p.want {
		if entry.Name == name && entry.Value == value {
			p.matched[i] = true
		}
	}
	return at.ResponsePendingExtra
}

// unmatched returns the wanted entries the modem did not report with the
// wanted value, in table order.
func (p *nconfigParser) unmatched() []ConfigEntry {
	var out []ConfigEntry
	for i, entry := range p.want {
		if !p.matched[i] {
			out = append(out, entry)
		}
	}
	return out
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}
