package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters for newly produced hashes.
const (
	// DefaultIterations is the PBKDF2-HMAC-SHA256 work factor.
	DefaultIterations = 100_000

	// MaxIterations is the default verification ceiling. Stored hashes
	// claiming more iterations are rejected without being computed.
	MaxIterations = 100_000

	saltLength = 16
	keyLength  = 32

	hashScheme  = "pbkdf2"
	hashFields  = 4
	legacyBytes = sha256.Size
)

// Hasher produces and verifies credential hashes for passwords and API keys.
//
// Encoded form: pbkdf2$<iterations>$<salt hex>$<derived key hex>.
//
// Strings not in that form are treated as legacy unsalted SHA-256 hex
// digests and verified by direct comparison. Legacy matches are logged so
// operators can track remaining migrations.
type Hasher struct {
	iterations    int
	maxIterations int
	logger        *slog.Logger
}

// HasherOption configures a Hasher.
type HasherOption func(*Hasher)

// WithIterations sets the work factor for new hashes.
func WithIterations(n int) HasherOption {
	return func(h *Hasher) { h.iterations = n }
}

// WithMaxIterations sets the verification ceiling.
func WithMaxIterations(n int) HasherOption {
	return func(h *Hasher) { h.maxIterations = n }
}

// WithHasherLogger sets the logger used for legacy-hash warnings.
func WithHasherLogger(l *slog.Logger) HasherOption {
	return func(h *Hasher) { h.logger = l }
}

// NewHasher creates a Hasher with the default work factor.
// A work factor above the ceiling is clamped to the ceiling so every hash
// the Hasher produces is one it will also verify.
func NewHasher(opts ...HasherOption) *Hasher {
	h := &Hasher{
		iterations:    DefaultIterations,
		maxIterations: MaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.maxIterations <= 0 {
		h.maxIterations = MaxIterations
	}
	if h.iterations <= 0 {
		h.iterations = DefaultIterations
	}
	if h.iterations > h.maxIterations {
		h.iterations = h.maxIterations
	}
	return h
}

// Iterations returns the work factor used for new hashes.
func (h *Hasher) Iterations() int {
	return h.iterations
}

// Hash derives a new encoded hash for secret with a fresh random salt.
// Hashing the same secret twice yields different strings.
func (h *Hasher) Hash(secret string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := pbkdf2.Key([]byte(secret), salt, h.iterations, keyLength, sha256.New)

	return fmt.Sprintf("%s$%d$%s$%s", hashScheme, h.iterations,
		hex.EncodeToString(salt), hex.EncodeToString(key)), nil
}

// Verify reports whether secret matches the encoded hash.
//
// Verify never returns an error: malformed input, an iteration count of
// zero or above the ceiling, and undecodable hex all yield false.
func (h *Hasher) Verify(secret, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != hashFields || parts[0] != hashScheme {
		return h.verifyLegacy(secret, encoded)
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}
	if iterations > h.maxIterations {
		h.logger.Warn("credential hash exceeds iteration ceiling",
			"iterations", iterations,
			"max_iterations", h.maxIterations,
		)
		return false
	}

	salt, err := hex.DecodeString(parts[2])
	if err != nil || len(salt) != saltLength {
		return false
	}
	want, err := hex.DecodeString(parts[3])
	if err != nil || len(want) != keyLength {
		return false
	}

	got := pbkdf2.Key([]byte(secret), salt, iterations, keyLength, sha256.New)
	return ConstantTimeEqual(got, want)
}

// NeedsRehash reports whether encoded should be replaced with a fresh hash
// after a successful verification: legacy digests and hashes produced with
// a lower work factor than the current one.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if IsLegacyHash(encoded) {
		return true
	}
	parts := strings.Split(encoded, "$")
	iterations, err := strconv.Atoi(parts[1])
	if err != nil {
		return true
	}
	return iterations < h.iterations
}

// IsLegacyHash reports whether encoded is not in the PBKDF2 format.
func IsLegacyHash(encoded string) bool {
	parts := strings.Split(encoded, "$")
	return len(parts) != hashFields || parts[0] != hashScheme
}

func (h *Hasher) verifyLegacy(secret, encoded string) bool {
	want, err := hex.DecodeString(encoded)
	if err != nil || len(want) != legacyBytes {
		return false
	}

	sum := sha256.Sum256([]byte(secret))
	if !ConstantTimeEqual(sum[:], want) {
		return false
	}

	h.logger.Warn("legacy credential hash verified", "action_required", "rehash on next update")
	return true
}
