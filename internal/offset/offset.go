// Package offset maps a target identifier to a stable position inside a
// fixed-length polling cycle.
//
// The mapping is a pure function of the identifier and the bin count: every
// process that hashes the same identifier lands on the same bin, with no
// shared state or coordination. This is what keeps a population of polling
// targets spread evenly across a cycle instead of firing as a thundering
// herd at the cycle boundary.
package offset

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrEmptyIdentifier = errors.New("identifier is empty")
	ErrInvalidBinCount = errors.New("bin count must be positive")
)

// ComputeOffset returns the bin index for identifier in [0, binCount).
//
// The identifier is hashed with SHA-256 and the first 4 bytes of the digest,
// read big-endian as an unsigned 32-bit integer, are reduced modulo binCount.
// A cryptographic digest keeps the low-order bits uniform under modulo
// reduction even for adversarial-looking identifiers (sequential IDs, shared
// prefixes), which a weak checksum does not guarantee.
func ComputeOffset(identifier string, binCount int) (int, error) {
	if strings.TrimSpace(identifier) == "" {
		return 0, ErrEmptyIdentifier
	}
	if binCount <= 0 {
		return 0, fmt.Errorf("%w, got %d", ErrInvalidBinCount, binCount)
	}

	sum := sha256.Sum256([]byte(identifier))
	v := binary.BigEndian.Uint32(sum[:4])
	return int(v % uint32(binCount)), nil
}

// ComputeFireTime returns cycleStart plus the identifier's offset in seconds.
// For interval-aligned cycle starts and binCount <= interval, the result is
// always inside [cycleStart, cycleStart+interval).
func ComputeFireTime(identifier string, cycleStart time.Time, binCount int) (time.Time, error) {
	off, err := ComputeOffset(identifier, binCount)
	if err != nil {
		return time.Time{}, err
	}
	return cycleStart.Add(time.Duration(off) * time.Second), nil
}
