package rfid

import (
	"fmt"
	"strings"
)

// Tag id length limits.
const (
	MinTagLength = 4
	MaxTagLength = 32
)

// NormalizeTagID returns the canonical form of a tag id: trimmed, with
// ASCII letters uppercased. Other runes are left alone; Unicode case
// mapping would fold characters such as U+017F into a valid id.
func NormalizeTagID(raw string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' {
			return r - ('a' - 'A')
		}
		return r
	}, strings.TrimSpace(raw))
}

// ParseTagID checks the trimmed input is 4-32 ASCII letters or digits and
// returns it uppercased. The check runs before any case mapping.
func ParseTagID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if len(id) < MinTagLength || len(id) > MaxTagLength {
		return "", fmt.Errorf("%w: must be %d-%d characters", ErrInvalidTagID, MinTagLength, MaxTagLength)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return "", fmt.Errorf("%w: must be alphanumeric", ErrInvalidTagID)
		}
	}
	return NormalizeTagID(id), nil
}
