package service

import (
	"errors"
	"fmt"

	"github.com/alexedwards/argon2id"
)

// passwordParams produce hashes in the argon2id PHC string format, so the
// parameters travel with each hash.
var passwordParams = &argon2id.Params{
	Memory:      19 * 1024,
	Iterations:  2,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

var errMalformedHash = errors.New("malformed password hash")

// dummyHash is verified against when a login names an unknown user so both
// paths cost one argon2 evaluation.
var dummyHash = mustHash("gild-dummy-password")

// HashPassword returns an argon2id PHC string for plaintext using a fresh salt.
func HashPassword(plaintext string) (string, error) {
	h, err := argon2id.CreateHash(plaintext, passwordParams)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return h, nil
}

// VerifyPassword reports whether plaintext matches the encoded hash. A hash
// that cannot be parsed never matches.
func VerifyPassword(plaintext, encoded string) bool {
	if err := checkHash(encoded); err != nil {
		return false
	}
	match, err := argon2id.ComparePasswordAndHash(plaintext, encoded)
	return err == nil && match
}

// checkHash rejects hashes that decode but would make argon2 panic, or that
// carry an empty key and so compare equal to anything.
func checkHash(encoded string) error {
	p, salt, key, err := argon2id.DecodeHash(encoded)
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformedHash, err)
	}
	if p.Iterations == 0 || p.Parallelism == 0 || p.Memory < 8*uint32(p.Parallelism) {
		return errMalformedHash
	}
	if len(salt) == 0 || len(key) == 0 {
		return errMalformedHash
	}
	return nil
}

func mustHash(plaintext string) string {
	h, err := HashPassword(plaintext)
	if err != nil {
		panic(err)
	}
	return h
}
