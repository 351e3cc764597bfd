package auth

import (
	"fmt"

	"github.com/alexedwards/argon2id"
)

// PasswordParams bundles the argon2id tuning knobs read from config.
// Shared by internal/auth's own user-password hashing and
// internal/servicehost's shared-secret hashing, since a service host's
// secret is authenticated the same way a user's password is — one knob
// set, one place to retune it.
type PasswordParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (p PasswordParams) toArgon2id() *argon2id.Params {
	return &argon2id.Params{
		Memory:      p.Memory,
		Iterations:  p.Iterations,
		Parallelism: p.Parallelism,
		SaltLength:  p.SaltLength,
		KeyLength:   p.KeyLength,
	}
}

// HashPassword hashes a password using argon2id with the given parameters.
func HashPassword(password string, params PasswordParams) (string, error) {
	hash, err := argon2id.CreateHash(password, params.toArgon2id())
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// VerifyPassword checks whether a plaintext password matches the given argon2id hash.
func VerifyPassword(password, hash string) (bool, error) {
	match, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, fmt.Errorf("verify password: %w", err)
	}
	return match, nil
}

// NeedsRehash returns true if the given Argon2id hash was generated with parameters that differ from the provided
// configuration values, indicating that the hash should be regenerated on next successful login.
func NeedsRehash(hash string, params PasswordParams) bool {
	decoded, salt, key, err := argon2id.DecodeHash(hash)
	if err != nil {
		return false
	}
	return decoded.Memory != params.Memory ||
		decoded.Iterations != params.Iterations ||
		decoded.Parallelism != params.Parallelism ||
		uint32(len(salt)) != params.SaltLength ||
		uint32(len(key)) != params.KeyLength
}
