// Package password hashes and verifies credentials with argon2id.
//
// The stored format is the standard PHC string
// ($argon2id$v=19$m=...,t=...,p=...$salt$hash), so hashes produced by other
// argon2id implementations verify unchanged, and cost parameters can be
// raised later without invalidating existing records (see
// [Hasher.NeedsUpgrade]). Verification derives the key with the parameters
// embedded in the stored hash and compares in constant time.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
)

// Config holds argon2id cost parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns interactive-login cost parameters (64 MiB, t=3).
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher derives and verifies argon2id password hashes.
type Hasher struct {
	config Config
}

// NewHasher validates cfg against the hard minimums and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, errors.New("password: memory below 8 MiB")
	case cfg.Time < minTimeCost:
		return nil, errors.New("password: time cost below 1")
	case cfg.Parallelism < minParallelism:
		return nil, errors.New("password: parallelism below 1")
	case cfg.SaltLength < minSaltLength:
		return nil, errors.New("password: salt below 16 bytes")
	case cfg.KeyLength < minKeyLength:
		return nil, errors.New("password: key below 16 bytes")
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives a PHC-encoded argon2id hash with a fresh random salt.
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(plaintext),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches the stored PHC hash. The derived
// key comparison is constant-time; parameters come from the stored hash, not
// from the Hasher config, so old-cost hashes keep verifying.
func (h *Hasher) Verify(plaintext, encoded string) (bool, error) {
	params, salt, key, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(plaintext),
		salt,
		params.Time,
		params.Memory,
		params.Parallelism,
		uint32(len(key)),
	)

	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

// NeedsUpgrade reports whether the stored hash was derived with weaker cost
// parameters than the current config, so callers can rehash on next login.
func (h *Hasher) NeedsUpgrade(encoded string) (bool, error) {
	params, _, key, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	return params.Memory < h.config.Memory ||
		params.Time < h.config.Time ||
		params.Parallelism < h.config.Parallelism ||
		uint32(len(key)) < h.config.KeyLength, nil
}

func decodePHC(encoded string) (Config, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return Config{}, nil, nil, errors.New("password: malformed hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Config{}, nil, nil, errors.New("password: unsupported argon2 version")
	}

	var cfg Config
	for _, field := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(field, "=")
		if !ok {
			return Config{}, nil, nil, errors.New("password: malformed parameters")
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return Config{}, nil, nil, errors.New("password: malformed parameters")
		}
		switch name {
		case "m":
			cfg.Memory = uint32(n)
		case "t":
			cfg.Time = uint32(n)
		case "p":
			if n > 255 {
				return Config{}, nil, nil, errors.New("password: malformed parameters")
			}
			cfg.Parallelism = uint8(n)
		default:
			return Config{}, nil, nil, errors.New("password: unknown parameter " + name)
		}
	}
	if cfg.Memory == 0 || cfg.Time == 0 || cfg.Parallelism == 0 {
		return Config{}, nil, nil, errors.New("password: missing parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Config{}, nil, nil, errors.New("password: malformed salt")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Config{}, nil, nil, errors.New("password: malformed key")
	}
	if len(salt) == 0 || len(key) == 0 {
		return Config{}, nil, nil, errors.New("password: empty salt or key")
	}

	return cfg, salt, key, nil
}
