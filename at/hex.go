package at

import (
	"encoding/hex"
	"fmt"
)

const hexDigits = "0123456789ABCDEF"

// AppendHex appends the uppercase hex form of src to dst, most significant
// nibble first, and returns the extended slice.
func AppendHex(dst, src []byte) []byte {
	for _, b := range src {
		dst = append(dst, hexDigits[b>>4], hexDigits[b&0x0F])
	}
	return dst
}

// EncodeHex returns the uppercase hex form of src.
func EncodeHex(src []byte) string {
	return string(AppendHex(make([]byte, 0, len(src)*2), src))
}

// DecodeHex decodes the uppercase hex string src into dst and returns the
// number of bytes written.
//
// Only 0-9 and A-F are accepted. The modem is expected to emit uppercase
// digits; anything else is reported as ErrInvalidHex instead of being decoded
// to a wrong value.
func DecodeHex(dst []byte, src string) (int, error) {
	if len(src)%2 != 0 {
		return 0, fmt.Errorf("%w: odd length %d", ErrInvalidHex, len(src))
	}
	if len(src)/2 > len(dst) {
		return 0, fmt.Errorf("%w: %d bytes do not fit in %d", ErrInvalidHex, len(src)/2, len(dst))
	}
	for i := 0; i < len(src); i++ {
		c := src[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return 0, fmt.Errorf("%w: %q at offset %d", ErrInvalidHex, c, i)
		}
	}
	return hex.Decode(dst, []byte(src))
}
