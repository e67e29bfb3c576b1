// Package clock timestamps bytes read from a serial port.
//
// A serial read returns a batch of bytes some time after the last one
// finished arriving. Clock reconstructs per-byte start and end times from the
// arrival time of each batch and the character time of the line.
package clock

import (
	"sync"
	"time"
)

const (
	// DefaultBaudRate is the standard K-line baud rate.
	DefaultBaudRate = 10400
	// BitsPerChar is the number of bits per character on an 8N1 line.
	BitsPerChar = 10
)

// Span is the interval over which a single byte was on the wire.
type Span struct {
	Start time.Time
	End   time.Time
}

// Clock produces monotonic byte spans. Spans returned by successive calls to
// Stamp never overlap and never go backwards, even if batches are read faster
// than the line rate would allow or the wall clock steps back.
type Clock struct {
	mu      sync.Mutex
	char    time.Duration
	lastEnd time.Time
	nowFn   func() time.Time // overridable for testing
}

// New creates a Clock for a line running at baud. Non-positive rates use
// DefaultBaudRate.
func New(baud int) *Clock {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &Clock{
		char:  CharDuration(baud),
		nowFn: time.Now,
	}
}

// CharDuration returns the time one 8N1 character occupies at baud.
func CharDuration(baud int) time.Duration {
	return time.Duration(BitsPerChar) * time.Second / time.Duration(baud)
}

// CharDuration returns the character time of the clock's line.
func (c *Clock) CharDuration() time.Duration {
	return c.char
}

// Stamp returns spans for n bytes that have just been read in one batch.
// The last byte ends now; earlier bytes are laid out back to back before it.
// If that would overlap the previous batch, the batch is shifted to start
// where the previous one ended.
func (c *Clock) Stamp(n int) []Span {
	if n <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	end := c.nowFn()
	start := end.Add(-time.Duration(n) * c.char)
	if start.Before(c.lastEnd) {
		start = c.lastEnd
	}

	spans := make([]Span, n)
	for i := range spans {
		s := start.Add(time.Duration(i) * c.char)
		spans[i] = Span{Start: s, End: s.Add(c.char)}
	}
	c.lastEnd = spans[n-1].End
	return spans
}

// Reset forgets the previous batch.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastEnd = time.Time{}
}
