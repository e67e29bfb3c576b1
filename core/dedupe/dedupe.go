// Package dedupe suppresses repeated deliveries of relayed bus traffic.
//
// Recently seen messages are tracked in a circular buffer of truncated
// SHA256 hashes over topic and payload. Relayed frames and errors carry their
// capture timestamps, so two distinct outcomes never hash the same; a match
// means the broker delivered the same message again.
package dedupe

import (
	"crypto/sha256"
	"sync"
)

const (
	// DefaultMaxHashes is the default capacity of the hash table.
	DefaultMaxHashes = 256
	// HashSize is the truncated SHA256 hash size.
	HashSize = 8
)

// Deduplicator tracks recently seen messages. It is safe for concurrent use.
type Deduplicator struct {
	mu        sync.Mutex
	hashes    []byte // circular buffer of HashSize-byte hashes
	used      int
	maxHashes int
	next      int
}

// New creates a Deduplicator with the default capacity.
func New() *Deduplicator {
	return NewWithCapacity(DefaultMaxHashes)
}

// NewWithCapacity creates a Deduplicator remembering up to maxHashes messages.
func NewWithCapacity(maxHashes int) *Deduplicator {
	if maxHashes < 1 {
		maxHashes = 1
	}
	return &Deduplicator{
		hashes:    make([]byte, maxHashes*HashSize),
		maxHashes: maxHashes,
	}
}

// HasSeen reports whether the message was seen before. If not, it records
// the message and returns false.
func (d *Deduplicator) HasSeen(topic string, payload []byte) bool {
	hash := CalculateHash(topic, payload)

	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.used {
		offset := i * HashSize
		if [HashSize]byte(d.hashes[offset:offset+HashSize]) == hash {
			return true
		}
	}

	offset := d.next * HashSize
	copy(d.hashes[offset:offset+HashSize], hash[:])
	d.next = (d.next + 1) % d.maxHashes
	if d.used < d.maxHashes {
		d.used++
	}
	return false
}

// Clear forgets all previously seen messages.
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.hashes)
	d.next = 0
	d.used = 0
}

// CalculateHash computes the truncated hash identifying a message.
func CalculateHash(topic string, payload []byte) [HashSize]byte {
	h := sha256.New()
	h.Write([]byte(topic))
	h.Write([]byte{0})
	h.Write(payload)
	var result [HashSize]byte
	copy(result[:], h.Sum(nil))
	return result
}
