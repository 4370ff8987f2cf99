package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters, OWASP 2025 recommendation.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16

	phcParts = 6
)

// PasswordHasher hashes and verifies passwords with Argon2id, encoding
// results in PHC string format: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
type PasswordHasher struct {
	time    uint32
	memory  uint32
	threads uint8
	keyLen  uint32
	saltLen int

	// dummy is verified against when the account does not exist, so an
	// unknown email costs the same as a wrong password.
	dummy string
}

// NewPasswordHasher returns a hasher with the given cost parameters.
// memory is in KiB.
func NewPasswordHasher(time, memory uint32, threads uint8) *PasswordHasher {
	h := &PasswordHasher{
		time:    time,
		memory:  memory,
		threads: threads,
		keyLen:  argonKeyLen,
		saltLen: argonSaltLen,
	}
	h.dummy, _ = h.Hash("graylogic-timing-equaliser") //nolint:errcheck // crypto/rand failure surfaces on the next Hash
	return h
}

// DefaultPasswordHasher uses the production cost parameters.
func DefaultPasswordHasher() *PasswordHasher {
	return NewPasswordHasher(argonTime, argonMemory, argonThreads)
}

// Hash hashes a plaintext password with a fresh random salt.
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.time, h.memory, h.threads, h.keyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory, h.time, h.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks password against an encoded hash. The parameters embedded
// in the hash are used, so hashes made with older costs still verify.
func (h *PasswordHasher) Verify(password, encoded string) (bool, error) {
	p, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.key))) //nolint:gosec // G115: key length always fits uint32

	return subtle.ConstantTimeCompare(p.key, candidate) == 1, nil
}

// VerifyMissing burns one verification against the dummy hash.
func (h *PasswordHasher) VerifyMissing(password string) {
	if h.dummy != "" {
		_, _ = h.Verify(password, h.dummy) //nolint:errcheck // result is discarded
	}
}

// NeedsRehash reports whether encoded was produced with different cost
// parameters than h.
func (h *PasswordHasher) NeedsRehash(encoded string) bool {
	p, err := decodePHC(encoded)
	if err != nil {
		return true
	}
	return p.time != h.time || p.memory != h.memory || p.threads != h.threads ||
		uint32(len(p.key)) != h.keyLen //nolint:gosec // G115: key length always fits uint32
}

type phcHash struct {
	time    uint32
	memory  uint32
	threads uint8
	salt    []byte
	key     []byte
}

func decodePHC(encoded string) (phcHash, error) {
	var p phcHash

	parts := strings.Split(encoded, "$")
	if len(parts) != phcParts {
		return p, fmt.Errorf("invalid PHC hash format")
	}
	if parts[1] != "argon2id" {
		return p, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, fmt.Errorf("parsing version: %w", err)
	}
	if version != argon2.Version {
		return p, fmt.Errorf("unsupported argon2 version: %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return p, fmt.Errorf("parsing parameters: %w", err)
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return p, fmt.Errorf("decoding salt: %w", err)
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return p, fmt.Errorf("decoding hash: %w", err)
	}
	return p, nil
}
