// Package at implements the generic half of an AT command modem driver: line
// framing over a byte stream, classification of modem replies, and the
// response dispatcher every command reply passes through.
package at

const (
	// Terminal Control
	CR     = "\r"
	CRLF   = "\r\n"
	Prompt = "> "

	// Echoed commands start with the command prefix.
	Prefix = "AT"

	// Response Codes
	OK       = "OK"
	ERROR    = "ERROR"
	CmeError = "+CME ERROR:"
	CmsError = "+CMS ERROR:"
)

// ResponseKind is the verdict the dispatcher or a parser reaches about a
// modem reply line.
type ResponseKind int

const (
	ResponseNotFound     ResponseKind = iota // no verdict yet
	ResponseOK                               // final OK
	ResponseError                            // ERROR, +CME ERROR:, +CMS ERROR: or a rejected line
	ResponsePrompt                           // data input prompt
	ResponseTimeout                          // nothing terminal within the window
	ResponseEmpty                            // line consumed, stop calling the parser
	ResponsePendingExtra                     // line consumed, parser wants more lines
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseNotFound:
		return "NotFound"
	case ResponseOK:
		return "OK"
	case ResponseError:
		return "Error"
	case ResponsePrompt:
		return "Prompt"
	case ResponseTimeout:
		return "Timeout"
	case ResponseEmpty:
		return "Empty"
	case ResponsePendingExtra:
		return "PendingExtra"
	default:
		return "Unknown"
	}
}

// Terminal reports whether a parser returning k ends the wait loop.
func (k ResponseKind) Terminal() bool {
	return k != ResponseEmpty && k != ResponsePendingExtra
}
