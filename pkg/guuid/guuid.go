// Package guuid provides a Go-native Unique Universal Identifier implementation
// used by the Quantum sender to tag each transfer run's log lines.
package guuid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GUUID represents a 16-byte globally unique identifier, used here once per
// transfer run to correlate log lines; it is not attached to trace spans.
// It never appears on
// the wire — spec.md §6 fixes the packet format with no room for a
// connection ID.
type GUUID [16]byte

// New generates a new GUUID using crypto/rand for high entropy.
func New() (GUUID, error) {
	var g GUUID
	_, err := rand.Read(g[:])
	if err != nil {
		return GUUID{}, fmt.Errorf("failed to generate GUUID: %w", err)
	}
	return g, nil
}

// String returns the string representation of the GUUID.
func (g GUUID) String() string {
	return hex.EncodeToString(g[:])
}
