package codec

import (
	"fmt"
	"time"
)

const (
	// Format byte layout: top two bits select the addressing mode, the low
	// six bits carry an inline length (0 means an explicit length byte follows).
	FormatModeMask   = 0xC0
	FormatLengthMask = 0x3F

	FormatNoAddress  = 0x00 // No address bytes
	FormatCARB       = 0x40 // CARB mode, not supported
	FormatPhysical   = 0x80 // Physical addressing, dst/src follow
	FormatFunctional = 0xC0 // Functional addressing, dst/src follow

	// MaxInlineLength is the largest length that fits in the format byte.
	MaxInlineLength = FormatLengthMask
	// MaxLength is the largest service+params length a frame can carry.
	MaxLength = 0xFF
)

// AddressMode identifies how a frame is addressed.
type AddressMode uint8

const (
	// AddressNone frames carry no address bytes.
	AddressNone AddressMode = iota
	// AddressPhysical frames target a single ECU.
	AddressPhysical
	// AddressFunctional frames target a group of ECUs.
	AddressFunctional
)

func (m AddressMode) String() string {
	switch m {
	case AddressNone:
		return "none"
	case AddressPhysical:
		return "physical"
	case AddressFunctional:
		return "functional"
	default:
		return "unknown"
	}
}

// ByteEvent is a single byte observed on the bus.
type ByteEvent struct {
	Value    byte
	Start    time.Time
	End      time.Time
	BusError bool // flagged by the acquisition layer, ignored by the decoder
}

// Frame is a decoded KWP2000 frame.
type Frame struct {
	Format byte
	Mode   AddressMode
	// ExplicitLength is set when the length travelled in its own byte after
	// the header instead of in the format byte.
	ExplicitLength bool
	Dst            byte // valid only if HasAddress
	Src            byte // valid only if HasAddress
	Service        byte
	ServiceName    string
	Params         []byte
	Checksum       byte
	Start          time.Time
	End            time.Time
}

// HasAddress reports whether the frame carried destination and source bytes.
func (f *Frame) HasAddress() bool {
	return f.Mode != AddressNone
}

// Length returns the number of service and parameter bytes.
func (f *Frame) Length() int {
	return 1 + len(f.Params)
}

// IsResponse reports whether the frame's service identifier is a response.
func (f *Frame) IsResponse() bool {
	return IsResponse(f.Service)
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s: % X", f.ServiceName, f.Params)
}

// EncodeFrame encodes a frame into wire bytes.
// The length is taken from Params; Format, Checksum and ServiceName are ignored
// and recomputed. A decoded frame encodes back to the bytes it was read from.
// Wire format: [format][dst][src][length][service][params...][checksum], where
// dst/src are present only for addressed frames and the length byte only when
// ExplicitLength is set or the length does not fit in the format byte.
func EncodeFrame(f *Frame) ([]byte, error) {
	n := f.Length()
	if n > MaxLength {
		return nil, ErrPayloadTooLarge
	}

	var top byte
	switch f.Mode {
	case AddressNone:
		top = FormatNoAddress
	case AddressPhysical:
		top = FormatPhysical
	case AddressFunctional:
		top = FormatFunctional
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, f.Mode)
	}

	inline := !f.ExplicitLength && n <= MaxInlineLength
	data := make([]byte, 0, 4+n+1)
	if inline {
		data = append(data, top|byte(n))
	} else {
		data = append(data, top)
	}
	if f.HasAddress() {
		data = append(data, f.Dst, f.Src)
	}
	if !inline {
		data = append(data, byte(n))
	}
	data = append(data, f.Service)
	data = append(data, f.Params...)
	data = append(data, Checksum(data))

	return data, nil
}

// DecodeFrame decodes a single frame from the start of data.
// Returns the decoded frame, any remaining bytes after the frame, and an error
// if decoding failed. Timestamps of the returned frame are zero.
func DecodeFrame(data []byte) (*Frame, []byte, error) {
	if len(data) == 0 {
		return nil, data, ErrFrameTooShort
	}

	var d Decoder
	for i, b := range data {
		frame, err := d.Feed(b, time.Time{}, time.Time{}, false)
		if err != nil {
			return nil, data, err
		}
		if frame != nil {
			return frame, data[i+1:], nil
		}
	}
	return nil, data, ErrIncompleteFrame
}
