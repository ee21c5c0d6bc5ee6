package auth

import (
	"fmt"
	"regexp"
	"strings"
)

// Password length limits. The floor drops when the account has a second factor.
const (
	MinPasswordLength        = 15
	MinPasswordLengthWithMFA = 8
	MaxPasswordLength        = 128
	maxPasswordScore         = 4
)

// Email limits from RFC 5321.
const (
	maxEmailLength     = 254
	maxEmailLocalPart  = 64
	emailDangerousRune = "<>\"'`\x00"
)

var (
	commonPasswordPrefixes = []string{"123456", "password", "qwerty", "admin", "letmein"}

	emailDomainPattern = regexp.MustCompile(`^[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	emailPattern       = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
)

// PasswordStrength is the result of a password policy check.
type PasswordStrength struct {
	Valid  bool     `json:"valid"`
	Score  int      `json:"score"`
	Errors []string `json:"errors,omitempty"`
}

// CheckPasswordStrength scores password from 0 to 4 and lists policy violations.
func CheckPasswordStrength(password string, hasMFA bool) PasswordStrength {
	var result PasswordStrength

	minLength := MinPasswordLength
	if hasMFA {
		minLength = MinPasswordLengthWithMFA
	}

	length := len([]rune(password))
	if length < minLength {
		result.Errors = append(result.Errors, fmt.Sprintf("Password must be at least %d characters", minLength))
	} else {
		result.Score++
		var lower, upper, digit, other bool
		for _, r := range password {
			switch {
			case r >= 'a' && r <= 'z':
				lower = true
			case r >= 'A' && r <= 'Z':
				upper = true
			case r >= '0' && r <= '9':
				digit = true
			default:
				other = true
			}
		}
		for _, present := range []bool{lower, upper, digit, other} {
			if present {
				result.Score++
			}
		}
	}

	if length > MaxPasswordLength {
		result.Errors = append(result.Errors, fmt.Sprintf("Password must not exceed %d characters", MaxPasswordLength))
	}

	lowered := strings.ToLower(password)
	for _, prefix := range commonPasswordPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			result.Errors = append(result.Errors, "Password contains common patterns")
			result.Score = max(0, result.Score-2)
			break
		}
	}

	result.Score = min(maxPasswordScore, result.Score)
	result.Valid = len(result.Errors) == 0
	return result
}

// ValidatePassword returns ErrWeakPassword, wrapped with the first violation,
// if password fails the policy.
func ValidatePassword(password string, hasMFA bool) error {
	strength := CheckPasswordStrength(password, hasMFA)
	if !strength.Valid {
		return fmt.Errorf("%w: %s", ErrWeakPassword, strength.Errors[0])
	}
	return nil
}

// NormalizeEmail lowercases and trims an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks email against an allowlist format.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidEmail)
	}
	if len(email) > maxEmailLength {
		return fmt.Errorf("%w: exceeds maximum length", ErrInvalidEmail)
	}
	if strings.ContainsAny(email, emailDangerousRune) {
		return fmt.Errorf("%w: contains invalid characters", ErrInvalidEmail)
	}

	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") || local == "" || len(local) > maxEmailLocalPart {
		return fmt.Errorf("%w: invalid format", ErrInvalidEmail)
	}
	if !emailDomainPattern.MatchString(domain) {
		return fmt.Errorf("%w: invalid domain", ErrInvalidEmail)
	}
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: invalid format", ErrInvalidEmail)
	}
	return nil
}
