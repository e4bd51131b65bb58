package util

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// RandomInt31 returns a non-negative random int32, used to synthesize
// request identifiers when a peer omitted one.
func RandomInt31() (int32, error) {
	b, err := RandomBytes(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b) &^ (1 << 31)), nil
}
