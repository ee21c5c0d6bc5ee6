package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// APIKeyPrefix starts every generated key so leaked keys are greppable.
	APIKeyPrefix = "tsk"

	apiKeyRandomLength = 32
	apiKeyHintLength   = 8
	base62Alphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// GenerateAPIKey returns a new raw key of the form <prefix>_<32 base62
// characters> and a short hint safe to store and display. The raw key is
// shown to the caller once and only its hash is persisted.
func GenerateAPIKey(prefix string) (raw, hint string, err error) {
	if prefix == "" {
		prefix = APIKeyPrefix
	}

	alphabetSize := big.NewInt(int64(len(base62Alphabet)))
	buf := make([]byte, apiKeyRandomLength)
	for i := range buf {
		n, randErr := rand.Int(rand.Reader, alphabetSize)
		if randErr != nil {
			return "", "", fmt.Errorf("generating api key: %w", randErr)
		}
		buf[i] = base62Alphabet[n.Int64()]
	}

	raw = prefix + "_" + string(buf)
	return raw, raw[:len(prefix)+1+apiKeyHintLength], nil
}
