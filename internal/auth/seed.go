package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
)

const (
	// seedPasswordBytes gives a 32-character generated password.
	seedPasswordBytes = 24

	// SeedEmail is the login of the first-boot superadmin.
	SeedEmail = "superadmin@tagsakay.local"
)

// SeedSuperadmin creates the initial superadmin account on first boot if no
// users exist. The generated password is logged once and must be changed.
// Returns the generated password (empty string if seeding was skipped).
func SeedSuperadmin(ctx context.Context, users UserRepository, hasher *Hasher, logger *slog.Logger) (string, error) {
	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Info("users exist, skipping superadmin seed")
		return "", nil
	}

	buf := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(buf); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := base64.RawURLEncoding.EncodeToString(buf)

	hash, err := hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Name:         "Super Admin",
		Email:        SeedEmail,
		PasswordHash: hash,
		Role:         RoleSuperAdmin,
		IsActive:     true,
	}
	if err := users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed superadmin: %w", err)
	}

	logger.Warn("seed superadmin account created",
		"email", SeedEmail,
		"password", password,
		"action_required", "change this password immediately",
	)
	return password, nil
}
