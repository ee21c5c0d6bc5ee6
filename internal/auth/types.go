package auth

import (
	"errors"
	"time"
)

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleDriver owns tags and may view their own scans. Drivers do not
	// log in to the dashboard in normal operation.
	RoleDriver Role = "driver"

	// RoleAdmin manages devices, tags, and drivers, and reviews security events.
	RoleAdmin Role = "admin"

	// RoleSuperAdmin has everything admin can do plus managing other admins.
	RoleSuperAdmin Role = "superadmin"
)

// ValidRoles is the set of valid user roles.
var ValidRoles = []Role{RoleDriver, RoleAdmin, RoleSuperAdmin}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// User represents an account: a dashboard operator or a driver who owns tags.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // never serialised
	Role         Role      `json:"role"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Identity returns the token identity for u.
func (u *User) Identity() Identity {
	return Identity{ID: u.ID, Email: u.Email, Role: u.Role, Name: u.Name}
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrEmailExists        = errors.New("email already exists")
	ErrMissingSecret      = errors.New("token signing secret is not configured")
	ErrTokenInvalid       = errors.New("invalid or expired token")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrWeakPassword       = errors.New("password does not meet strength requirements")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidRole        = errors.New("invalid role")
)
