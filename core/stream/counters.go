package stream

import "sync/atomic"

// Counters tracks decode statistics using atomic counters.
// All fields are safe for concurrent access.
type Counters struct {
	BytesIn           atomic.Uint64 // Byte events pushed, including skipped ones
	Skipped           atomic.Uint64 // Leading events discarded by the skip count
	BusErrors         atomic.Uint64 // Events flagged as bus errors
	Frames            atomic.Uint64 // Frames decoded
	UnsupportedFormat atomic.Uint64 // Frames abandoned at a CARB format byte
	InvalidLength     atomic.Uint64 // Frames abandoned at a zero length byte
	InvalidChecksum   atomic.Uint64 // Frames rejected by checksum
}

// CountersSnapshot is a plain-value copy of Counters for reading.
type CountersSnapshot struct {
	BytesIn           uint64
	Skipped           uint64
	BusErrors         uint64
	Frames            uint64
	UnsupportedFormat uint64
	InvalidLength     uint64
	InvalidChecksum   uint64
}

// Errors returns the total number of decode errors.
func (s CountersSnapshot) Errors() uint64 {
	return s.UnsupportedFormat + s.InvalidLength + s.InvalidChecksum
}

// Snapshot returns a point-in-time copy of all counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		BytesIn:           c.BytesIn.Load(),
		Skipped:           c.Skipped.Load(),
		BusErrors:         c.BusErrors.Load(),
		Frames:            c.Frames.Load(),
		UnsupportedFormat: c.UnsupportedFormat.Load(),
		InvalidLength:     c.InvalidLength.Load(),
		InvalidChecksum:   c.InvalidChecksum.Load(),
	}
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.BytesIn.Store(0)
	c.Skipped.Store(0)
	c.BusErrors.Store(0)
	c.Frames.Store(0)
	c.UnsupportedFormat.Store(0)
	c.InvalidLength.Store(0)
	c.InvalidChecksum.Store(0)
}
