// Package keys turns configured key material into the process-wide token
// signing key.
package keys

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// KeyMaterialSize is the length of the configured key material.
	KeyMaterialSize = 64
	// SaltSize is the length of the configured salt.
	SaltSize = 32
	// DerivedKeySize is the length of the derived signing key.
	DerivedKeySize = 64
)

// Params are the argon2id cost parameters used for derivation.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultParams follow the argon2 RFC second recommendation.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 4}

var ErrInvalidParams = errors.New("invalid key derivation parameters")

func (p Params) validate() error {
	if p.Time < 1 {
		return fmt.Errorf("%w: time must be at least 1", ErrInvalidParams)
	}
	if p.Threads < 1 {
		return fmt.Errorf("%w: threads must be at least 1", ErrInvalidParams)
	}
	if p.Memory < 8*uint32(p.Threads) {
		return fmt.Errorf("%w: memory must be at least 8 KiB per thread", ErrInvalidParams)
	}
	return nil
}

// Material is the raw key and salt a signing key is derived from.
type Material struct {
	Key  []byte
	Salt []byte
}

// Generate returns fresh random key material.
func Generate() (Material, error) {
	m := Material{
		Key:  make([]byte, KeyMaterialSize),
		Salt: make([]byte, SaltSize),
	}
	if _, err := rand.Read(m.Key); err != nil {
		return Material{}, fmt.Errorf("generate key material: %w", err)
	}
	if _, err := rand.Read(m.Salt); err != nil {
		return Material{}, fmt.Errorf("generate salt: %w", err)
	}
	return m, nil
}

func (m Material) validate() error {
	if len(m.Key) != KeyMaterialSize {
		return fmt.Errorf("signing key must be %d bytes, got %d", KeyMaterialSize, len(m.Key))
	}
	if len(m.Salt) != SaltSize {
		return fmt.Errorf("signing key salt must be %d bytes, got %d", SaltSize, len(m.Salt))
	}
	return nil
}

// Zero overwrites the key and salt in place.
func (m Material) Zero() {
	clear(m.Key)
	clear(m.Salt)
}

// Derive runs argon2id over the material and returns the signing key. The
// material is zeroed whether or not derivation succeeds.
func Derive(m Material, p Params) ([]byte, error) {
	defer m.Zero()

	if err := m.validate(); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return argon2.IDKey(m.Key, m.Salt, p.Time, p.Memory, p.Threads, DerivedKeySize), nil
}
