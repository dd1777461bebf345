package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/horacite/horacite/internal/config"
)

// PasswordHasher turns passwords into self-describing digests and checks
// passwords against them. Implementations never log secrets or digests.
type PasswordHasher interface {
	// Hash returns a new salted digest of password.
	Hash(password string) (string, error)

	// Verify reports whether password matches digest. Malformed digests
	// never match.
	Verify(password, digest string) bool

	// NeedsUpgrade reports whether digest was produced by another
	// algorithm or with weaker parameters than the current configuration.
	NeedsUpgrade(digest string) bool
}

// argonParams are the argon2id cost parameters. The defaults follow OWASP
// recommendations for argon2id: memory=64MB, iterations=3, parallelism=4.
type argonParams struct {
	time    uint32
	memory  uint32 // KiB
	threads uint8
	keyLen  uint32
	saltLen uint32
}

var defaultArgonParams = argonParams{
	time:    3,
	memory:  64 * 1024,
	threads: 4,
	keyLen:  32,
	saltLen: 16,
}

const argonPrefix = "$argon2id$"

// HasherConfig selects the algorithm used for new digests.
type HasherConfig struct {
	Algorithm  string
	BcryptCost int
}

// hasher implements PasswordHasher. Verify dispatches on the digest prefix,
// so switching the default algorithm never invalidates stored digests.
type hasher struct {
	algorithm string
	cost      int
	argon     argonParams
}

// NewPasswordHasher creates a hasher for the configured algorithm.
func NewPasswordHasher(cfg HasherConfig) (PasswordHasher, error) {
	switch cfg.Algorithm {
	case config.HashBcrypt:
		if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost %d out of range", cfg.BcryptCost)
		}
	case config.HashArgon2id:
	default:
		return nil, fmt.Errorf("unsupported password hash algorithm %q", cfg.Algorithm)
	}
	return &hasher{algorithm: cfg.Algorithm, cost: cfg.BcryptCost, argon: defaultArgonParams}, nil
}

// Hash creates a digest with the configured algorithm.
func (h *hasher) Hash(password string) (string, error) {
	if h.algorithm == config.HashArgon2id {
		return hashArgon2id(password, h.argon)
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hashing: %w", err)
	}
	return string(digest), nil
}

// Verify checks password against a bcrypt or argon2id digest.
func (h *hasher) Verify(password, digest string) bool {
	switch {
	case strings.HasPrefix(digest, argonPrefix):
		return verifyArgon2id(password, digest)
	case isBcryptDigest(digest):
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
	default:
		return false
	}
}

// NeedsUpgrade reports digests that should be rehashed on next login.
func (h *hasher) NeedsUpgrade(digest string) bool {
	if h.algorithm == config.HashArgon2id {
		p, _, _, err := parseArgon2id(digest)
		if err != nil {
			return true
		}
		return p.time < h.argon.time || p.memory < h.argon.memory || p.threads < h.argon.threads
	}

	if !isBcryptDigest(digest) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return true
	}
	return cost < h.cost
}

func isBcryptDigest(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

// --- argon2id ---

// hashArgon2id creates an argon2id hash in the PHC string format:
// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
func hashArgon2id(password string, p argonParams) (string, error) {
	salt := make([]byte, p.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argonPrefix, argon2.Version, p.memory, p.time, p.threads, b64Salt, b64Hash), nil
}

// parseArgon2id splits a PHC string into its parameters, salt and hash.
func parseArgon2id(encoded string) (argonParams, []byte, []byte, error) {
	var p argonParams

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, fmt.Errorf("not an argon2id digest")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, fmt.Errorf("unsupported argon2 version")
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return p, nil, nil, fmt.Errorf("parsing argon2 parameters: %w", err)
	}
	if p.memory == 0 || p.time == 0 || p.threads == 0 {
		return p, nil, nil, fmt.Errorf("invalid argon2 parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("decoding salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return p, nil, nil, fmt.Errorf("decoding hash")
	}

	p.saltLen = uint32(len(salt))
	p.keyLen = uint32(len(hash))
	return p, salt, hash, nil
}

// verifyArgon2id recomputes the hash with the digest's own parameters and
// compares in constant time.
func verifyArgon2id(password, encoded string) bool {
	p, salt, expected, err := parseArgon2id(encoded)
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)
	return subtle.ConstantTimeCompare(expected, computed) == 1
}
