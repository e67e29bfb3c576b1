package codec

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported CARB format")
	ErrInvalidLength     = errors.New("invalid length")
	ErrInvalidChecksum   = errors.New("invalid checksum")

	ErrFrameTooShort   = errors.New("frame too short")
	ErrIncompleteFrame = errors.New("incomplete frame")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	ErrInvalidMode     = errors.New("invalid addressing mode")
)

// ErrorKind classifies a protocol-level decode failure.
type ErrorKind int

const (
	// KindUnsupportedFormat is reported when a format byte has top bits 01.
	KindUnsupportedFormat ErrorKind = iota + 1
	// KindInvalidLength is reported when an explicit length byte is zero.
	KindInvalidLength
	// KindInvalidChecksum is reported when the trailing checksum byte does not match.
	KindInvalidChecksum
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindInvalidLength:
		return "invalid_length"
	case KindInvalidChecksum:
		return "invalid_checksum"
	default:
		return "unknown"
	}
}

// ParseErrorKind is the inverse of ErrorKind.String.
func ParseErrorKind(s string) (ErrorKind, bool) {
	for _, k := range []ErrorKind{KindUnsupportedFormat, KindInvalidLength, KindInvalidChecksum} {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// sentinel returns the package error value matched by errors.Is for the kind.
func (k ErrorKind) sentinel() error {
	switch k {
	case KindUnsupportedFormat:
		return ErrUnsupportedFormat
	case KindInvalidLength:
		return ErrInvalidLength
	case KindInvalidChecksum:
		return ErrInvalidChecksum
	default:
		return nil
	}
}

// DecodeError reports a malformed frame. Start and End bracket the byte
// that proved the frame malformed.
type DecodeError struct {
	Kind  ErrorKind
	Start time.Time
	End   time.Time
}

func (e *DecodeError) Error() string {
	if s := e.Kind.sentinel(); s != nil {
		return s.Error()
	}
	return fmt.Sprintf("decode error %d", int(e.Kind))
}

// Is lets errors.Is match a DecodeError against ErrUnsupportedFormat,
// ErrInvalidLength or ErrInvalidChecksum.
func (e *DecodeError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && s == target
}
