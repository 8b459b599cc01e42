// Package random provides cryptographic seed generation helpers.
//
// It uses crypto/rand to generate high-entropy seeds suitable for
// initializing pseudo-random number generators in deterministic systems.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand"
)

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}

	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// NewRand returns a pseudo-random generator seeded from crypto/rand. Each
// worker owns one so draws never contend across goroutines.
func NewRand() (*mrand.Rand, error) {
	seed, err := NewSeed()
	if err != nil {
		return nil, err
	}
	return mrand.New(mrand.NewSource(seed)), nil
}
