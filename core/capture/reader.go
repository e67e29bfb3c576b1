// Package capture reads byte events from logic analyser exports.
//
// The supported format is the CSV table written by async-serial analysers:
// a header row followed by one row per decoded byte. Columns are located by
// name, so extra columns and any column order are accepted:
//
//	start_time  seconds from the start of the capture (required)
//	duration    seconds the byte occupied the line (this or end_time required)
//	end_time    seconds from the start of the capture
//	data        byte value, hex with 0x prefix or decimal (required)
//	error       non-empty when the analyser flagged the byte (optional)
//
// Rows whose type column is present and not "data" are skipped.
package capture

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kabili207/kwp2000-go/core/codec"
)

var (
	ErrMissingColumn = errors.New("missing required column")
	ErrInvalidRow    = errors.New("invalid row")
)

// Reader yields byte events from a capture export. It implements stream.Source.
type Reader struct {
	r      *csv.Reader
	base   time.Time
	cols   columns
	header bool
	line   int
}

type columns struct {
	start, duration, end, data, errFlag, typ int
}

// Option configures a Reader.
type Option func(*Reader)

// WithBase sets the absolute time that capture offset zero maps to.
// Defaults to the Unix epoch.
func WithBase(t time.Time) Option {
	return func(r *Reader) {
		r.base = t
	}
}

// NewReader creates a Reader over a CSV export.
func NewReader(r io.Reader, opts ...Option) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rd := &Reader{
		r:    cr,
		base: time.Unix(0, 0).UTC(),
	}
	for _, opt := range opts {
		opt(rd)
	}
	return rd
}

// Next returns the next byte event, or io.EOF at the end of the export.
func (r *Reader) Next() (codec.ByteEvent, error) {
	if !r.header {
		if err := r.readHeader(); err != nil {
			return codec.ByteEvent{}, err
		}
	}

	for {
		record, err := r.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return codec.ByteEvent{}, io.EOF
			}
			return codec.ByteEvent{}, fmt.Errorf("reading capture: %w", err)
		}
		r.line++

		if r.cols.typ >= 0 && field(record, r.cols.typ) != "" &&
			!strings.EqualFold(field(record, r.cols.typ), "data") {
			continue
		}

		ev, err := r.parse(record)
		if err != nil {
			return codec.ByteEvent{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return ev, nil
	}
}

// ReadAll returns all remaining events.
func (r *Reader) ReadAll() ([]codec.ByteEvent, error) {
	var out []codec.ByteEvent
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

func (r *Reader) readHeader() error {
	record, err := r.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("reading capture header: %w", err)
	}
	r.line++

	cols := columns{start: -1, duration: -1, end: -1, data: -1, errFlag: -1, typ: -1}
	for i, name := range record {
		switch normalize(name) {
		case "start_time", "time", "time_s":
			cols.start = i
		case "duration":
			cols.duration = i
		case "end_time":
			cols.end = i
		case "data", "value":
			cols.data = i
		case "error":
			cols.errFlag = i
		case "type":
			cols.typ = i
		}
	}

	switch {
	case cols.start < 0:
		return fmt.Errorf("%w: start_time", ErrMissingColumn)
	case cols.data < 0:
		return fmt.Errorf("%w: data", ErrMissingColumn)
	case cols.duration < 0 && cols.end < 0:
		return fmt.Errorf("%w: duration or end_time", ErrMissingColumn)
	}

	r.cols = cols
	r.header = true
	return nil
}

func (r *Reader) parse(record []string) (codec.ByteEvent, error) {
	start, err := parseSeconds(field(record, r.cols.start))
	if err != nil {
		return codec.ByteEvent{}, fmt.Errorf("%w: start_time: %v", ErrInvalidRow, err)
	}

	var end time.Duration
	if r.cols.end >= 0 {
		end, err = parseSeconds(field(record, r.cols.end))
		if err != nil {
			return codec.ByteEvent{}, fmt.Errorf("%w: end_time: %v", ErrInvalidRow, err)
		}
	} else {
		d, err := parseSeconds(field(record, r.cols.duration))
		if err != nil {
			return codec.ByteEvent{}, fmt.Errorf("%w: duration: %v", ErrInvalidRow, err)
		}
		end = start + d
	}
	if end < start {
		return codec.ByteEvent{}, fmt.Errorf("%w: byte ends before it starts", ErrInvalidRow)
	}

	value, err := parseByte(field(record, r.cols.data))
	if err != nil {
		return codec.ByteEvent{}, fmt.Errorf("%w: data: %v", ErrInvalidRow, err)
	}

	return codec.ByteEvent{
		Value:    value,
		Start:    r.base.Add(start),
		End:      r.base.Add(end),
		BusError: r.cols.errFlag >= 0 && field(record, r.cols.errFlag) != "",
	}, nil
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// normalize maps header names such as "Start Time" or "Time [s]" onto
// lower_snake form.
func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer("[", "", "]", "", "(", "", ")", "").Replace(name)
	return strings.Join(strings.Fields(name), "_")
}

func parseSeconds(s string) (time.Duration, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("out of range: %s", s)
	}
	return time.Duration(math.Round(v * float64(time.Second))), nil
}

func parseByte(s string) (byte, error) {
	s = strings.Trim(s, "'\"")
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}
