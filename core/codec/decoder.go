package codec

import (
	"fmt"
	"time"
)

// Phase is the frame field the decoder expects next.
type Phase uint8

const (
	PhaseFormat Phase = iota
	PhaseDst
	PhaseSrc
	PhaseLength
	PhaseService
	PhaseParams
	PhaseChecksum
)

func (p Phase) String() string {
	switch p {
	case PhaseFormat:
		return "format"
	case PhaseDst:
		return "dst_addr"
	case PhaseSrc:
		return "src_addr"
	case PhaseLength:
		return "length"
	case PhaseService:
		return "service_id"
	case PhaseParams:
		return "params"
	case PhaseChecksum:
		return "checksum"
	default:
		return "unknown"
	}
}

// Decoder reconstructs KWP2000 frames from a byte stream, one byte at a time.
//
// A Decoder holds the state of exactly one stream and is not safe for
// concurrent use. The zero value is ready to use.
type Decoder struct {
	phase    Phase
	format   byte
	mode     AddressMode
	length   int  // service id + params
	explicit bool // length came in its own byte
	dst      byte
	src      byte
	service  byte
	params   []byte
	sum      byte // running checksum, excludes the checksum byte
	start    time.Time
}

// NewDecoder creates a decoder waiting for a format byte.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Phase returns the field the next byte will be decoded as.
func (d *Decoder) Phase() Phase {
	return d.phase
}

// Reset discards any partial frame and waits for a format byte.
func (d *Decoder) Reset() {
	d.phase = PhaseFormat
	d.sum = 0
	d.params = d.params[:0]
}

// FeedEvent is Feed for a ByteEvent.
func (d *Decoder) FeedEvent(ev ByteEvent) (*Frame, error) {
	return d.Feed(ev.Value, ev.Start, ev.End, ev.BusError)
}

// Feed consumes one byte spanning start to end.
//
// It returns a frame when b completes a valid frame, a *DecodeError when b
// proves the current frame malformed, and nil, nil otherwise. After a frame
// or an error the decoder treats the next byte as a format byte. Bytes with
// busError set are ignored and leave the decoder untouched.
func (d *Decoder) Feed(b byte, start, end time.Time, busError bool) (*Frame, error) {
	if busError {
		return nil, nil
	}

	switch d.phase {
	case PhaseFormat:
		d.params = d.params[:0]
		d.sum = 0
		d.start = start
		d.format = b
		d.dst, d.src = 0, 0
		d.length = int(b & FormatLengthMask)
		d.explicit = d.length == 0

		switch b & FormatModeMask {
		case FormatNoAddress:
			d.mode = AddressNone
			d.phase = d.afterHeader()
		case FormatCARB:
			return nil, d.fail(KindUnsupportedFormat, start, end)
		case FormatPhysical:
			d.mode = AddressPhysical
			d.phase = PhaseDst
		case FormatFunctional:
			d.mode = AddressFunctional
			d.phase = PhaseDst
		}
	case PhaseDst:
		d.dst = b
		d.phase = PhaseSrc
	case PhaseSrc:
		d.src = b
		d.phase = d.afterHeader()
	case PhaseLength:
		d.length = int(b)
		if d.length == 0 {
			return nil, d.fail(KindInvalidLength, start, end)
		}
		d.phase = PhaseService
	case PhaseService:
		d.service = b
		if d.length == 1 {
			d.phase = PhaseChecksum
		} else {
			d.phase = PhaseParams
		}
	case PhaseParams:
		d.params = append(d.params, b)
		if len(d.params) == d.length-1 {
			d.phase = PhaseChecksum
		}
	case PhaseChecksum:
		// The checksum byte is compared, never summed.
		if b != d.sum {
			return nil, d.fail(KindInvalidChecksum, start, end)
		}
		frame := d.frame(end)
		d.Reset()
		return frame, nil
	default:
		panic(fmt.Sprintf("codec: decoder in undefined phase %d", d.phase))
	}

	d.sum += b
	return nil, nil
}

// afterHeader picks the phase following the format (and address) bytes.
func (d *Decoder) afterHeader() Phase {
	if d.length == 0 {
		return PhaseLength
	}
	return PhaseService
}

func (d *Decoder) fail(kind ErrorKind, start, end time.Time) *DecodeError {
	d.Reset()
	return &DecodeError{Kind: kind, Start: start, End: end}
}

func (d *Decoder) frame(end time.Time) *Frame {
	params := make([]byte, len(d.params))
	copy(params, d.params)

	return &Frame{
		Format:         d.format,
		Mode:           d.mode,
		ExplicitLength: d.explicit,
		Dst:            d.dst,
		Src:            d.src,
		Service:        d.service,
		ServiceName:    ServiceName(d.service),
		Params:         params,
		Checksum:       d.sum,
		Start:          d.start,
		End:            end,
	}
}
