package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token lifetimes and verification defaults.
const (
	// DefaultAccessTTL is the lifetime of dashboard bearer tokens.
	DefaultAccessTTL = 4 * time.Hour

	// DefaultSessionTTL is the lifetime of cookie-borne session tokens.
	DefaultSessionTTL = 7 * 24 * time.Hour

	// ClockSkew is the tolerance applied to exp, nbf, and iat.
	ClockSkew = 30 * time.Second

	DefaultIssuer   = "tagsakay-api"
	DefaultAudience = "tagsakay-client"
)

// TokenKind distinguishes access tokens from session tokens so one cannot
// be replayed as the other.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindSession TokenKind = "session"
)

// Identity is the user information carried in a token.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
	Name  string `json:"name"`
}

// Claims are the JWT claims for access and session tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID string    `json:"id"`
	Email  string    `json:"email"`
	Role   Role      `json:"role"`
	Name   string    `json:"name"`
	Kind   TokenKind `json:"kind"`
}

// Identity returns the user identity carried by the claims.
func (c *Claims) Identity() Identity {
	return Identity{ID: c.UserID, Email: c.Email, Role: c.Role, Name: c.Name}
}

// VerifyOptions selects the optional claim checks applied by Verify.
type VerifyOptions struct {
	CheckIssuer   bool
	CheckAudience bool
}

// StrictVerify checks both issuer and audience.
var StrictVerify = VerifyOptions{CheckIssuer: true, CheckAudience: true}

// TokenService issues and verifies HS256 tokens of one kind.
type TokenService struct {
	secret   []byte
	kind     TokenKind
	ttl      time.Duration
	issuer   string
	audience string
	now      func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) { s.ttl = ttl }
}

// WithIssuer sets the iss claim written and checked.
func WithIssuer(iss string) TokenOption {
	return func(s *TokenService) { s.issuer = iss }
}

// WithAudience sets the aud claim written and checked.
func WithAudience(aud string) TokenOption {
	return func(s *TokenService) { s.audience = aud }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// NewTokenService creates a service for dashboard access tokens.
// An empty secret is a configuration error, never a silent default.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	return newTokenService(secret, KindAccess, DefaultAccessTTL, opts)
}

// NewSessionService creates a service for session tokens. Its secret must
// differ from the access token secret.
func NewSessionService(secret string, opts ...TokenOption) (*TokenService, error) {
	return newTokenService(secret, KindSession, DefaultSessionTTL, opts)
}

func newTokenService(secret string, kind TokenKind, ttl time.Duration, opts []TokenOption) (*TokenService, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	s := &TokenService{
		secret:   []byte(secret),
		kind:     kind,
		ttl:      ttl,
		issuer:   DefaultIssuer,
		audience: DefaultAudience,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", s.ttl)
	}
	return s, nil
}

// TTL returns the lifetime of issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Kind returns the kind of token the service handles.
func (s *TokenService) Kind() TokenKind {
	return s.kind
}

// Issue creates a signed token for id with iat=nbf=now and exp=now+TTL.
func (s *TokenService) Issue(id Identity) (string, error) {
	token, _, err := s.IssueClaims(id)
	return token, err
}

// IssueClaims is Issue that also returns the claims written, so callers
// can record the token id or expiry.
func (s *TokenService) IssueClaims(id Identity) (string, *Claims, error) {
	if id.ID == "" {
		return "", nil, fmt.Errorf("issuing %s token: missing user id", s.kind)
	}

	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.ID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		UserID: id.ID,
		Email:  id.Email,
		Role:   id.Role,
		Name:   id.Name,
		Kind:   s.kind,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signing %s token: %w", s.kind, err)
	}
	return signed, claims, nil
}

// Verify parses and validates a token.
//
// Every failure wraps ErrTokenInvalid. The wrapped cause is for server-side
// logs only; callers must respond with ErrTokenInvalid's message.
func (s *TokenService) Verify(raw string, opts VerifyOptions) (*Claims, error) {
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(ClockSkew),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if opts.CheckIssuer {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.issuer))
	}
	if opts.CheckAudience {
		parserOpts = append(parserOpts, jwt.WithAudience(s.audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	switch {
	case claims.IssuedAt == nil:
		return nil, fmt.Errorf("%w: missing iat", ErrTokenInvalid)
	case claims.UserID == "":
		return nil, fmt.Errorf("%w: missing user id", ErrTokenInvalid)
	case claims.Kind != s.kind:
		return nil, fmt.Errorf("%w: kind %q, want %q", ErrTokenInvalid, claims.Kind, s.kind)
	}

	return claims, nil
}
