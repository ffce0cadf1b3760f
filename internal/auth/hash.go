package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. Changing these invalidates stored hashes, since the
// parameters are not encoded alongside the salt.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// HashAPIKey derives an Argon2id hash of apiKey with a fresh random salt.
// The result is "<base64 salt>$<base64 hash>", suitable for storage.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return base64.StdEncoding.EncodeToString(salt) + "$" +
		base64.StdEncoding.EncodeToString(sum), nil
}

// VerifyAPIKey reports whether apiKey matches a hash produced by HashAPIKey.
// The comparison is constant-time.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	saltPart, hashPart, ok := strings.Cut(encoded, "$")
	if !ok {
		return false, fmt.Errorf("auth: invalid hash format")
	}

	salt, err := base64.StdEncoding.DecodeString(saltPart)
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}
	want, err := base64.StdEncoding.DecodeString(hashPart)
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}

	got := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// DummyVerify burns the same Argon2id work as a real verification. Auth
// failure paths that never reached a stored hash call this so their timing
// matches the wrong-key case and does not leak whether an agent_id exists.
func DummyVerify() {
	argon2.IDKey([]byte("dummy"), make([]byte, argonSaltLen), argonTime, argonMemory, argonThreads, argonKeyLen)
}
