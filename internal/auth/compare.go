package auth

import "crypto/subtle"

// ConstantTimeEqual reports whether a and b hold the same bytes.
//
// Inputs of different length return false at once; the length of a stored
// digest is not secret. Equal-length inputs are compared without an early
// exit so timing does not reveal the position of the first mismatch.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ConstantTimeEqualString is ConstantTimeEqual for strings.
func ConstantTimeEqualString(a, b string) bool {
	return ConstantTimeEqual([]byte(a), []byte(b))
}
