package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-that-is-at-least-32-characters"

var testIdentity = Identity{
	ID:    "usr-12345678",
	Email: "admin@example.com",
	Role:  RoleAdmin,
	Name:  "Test Admin",
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNewTokenService_MissingSecret(t *testing.T) {
	if _, err := NewTokenService(""); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("NewTokenService(\"\") error = %v, want ErrMissingSecret", err)
	}
	if _, err := NewSessionService(""); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("NewSessionService(\"\") error = %v, want ErrMissingSecret", err)
	}
}

func TestTokenService_RoundTrip(t *testing.T) {
	svc, err := NewTokenService(testSecret)
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	token, err := svc.Issue(testIdentity)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := svc.Verify(token, StrictVerify)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if got := claims.Identity(); got != testIdentity {
		t.Errorf("Identity() = %+v, want %+v", got, testIdentity)
	}
	if claims.Subject != testIdentity.ID {
		t.Errorf("Subject = %q, want %q", claims.Subject, testIdentity.ID)
	}
	if claims.Issuer != DefaultIssuer {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, DefaultIssuer)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != DefaultAudience {
		t.Errorf("Audience = %v, want [%s]", claims.Audience, DefaultAudience)
	}
	if claims.ID == "" {
		t.Error("jti should be set")
	}
	if !claims.NotBefore.Equal(claims.IssuedAt.Time) {
		t.Error("nbf should equal iat")
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != DefaultAccessTTL {
		t.Errorf("lifetime = %s, want %s", got, DefaultAccessTTL)
	}
	if claims.Kind != KindAccess {
		t.Errorf("Kind = %q, want %q", claims.Kind, KindAccess)
	}
}

func TestTokenService_UniqueIDs(t *testing.T) {
	svc, _ := NewTokenService(testSecret)
	_, a, _ := svc.IssueClaims(testIdentity)
	_, b, _ := svc.IssueClaims(testIdentity)
	if a.ID == b.ID {
		t.Error("each token should carry a unique jti")
	}
}

func TestTokenService_WrongSecret(t *testing.T) {
	issuer, _ := NewTokenService(testSecret)
	verifier, _ := NewTokenService("a-completely-different-secret-value-here")

	token, _ := issuer.Issue(testIdentity)
	if _, err := verifier.Verify(token, StrictVerify); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify() error = %v, want ErrTokenInvalid", err)
	}
}

func TestTokenService_Expiry(t *testing.T) {
	start := time.Date(2025, 10, 1, 8, 0, 0, 0, time.UTC)
	issuer, _ := NewTokenService(testSecret, WithTTL(time.Hour), WithClock(fixedClock(start)))
	token, _ := issuer.Issue(testIdentity)

	tests := []struct {
		name    string
		at      time.Time
		wantErr bool
	}{
		{"fresh", start.Add(time.Minute), false},
		{"within skew after expiry", start.Add(time.Hour + 20*time.Second), false},
		{"expired", start.Add(time.Hour + time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier, _ := NewTokenService(testSecret, WithClock(fixedClock(tt.at)))
			_, err := verifier.Verify(token, StrictVerify)
			if (err != nil) != tt.wantErr {
				t.Errorf("Verify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("Verify() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestTokenService_NotBefore(t *testing.T) {
	now := time.Date(2025, 10, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		issued  time.Time
		wantErr bool
	}{
		{"within skew", now.Add(20 * time.Second), false},
		{"beyond skew", now.Add(2 * time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer, _ := NewTokenService(testSecret, WithClock(fixedClock(tt.issued)))
			verifier, _ := NewTokenService(testSecret, WithClock(fixedClock(now)))
			token, _ := issuer.Issue(testIdentity)

			_, err := verifier.Verify(token, StrictVerify)
			if (err != nil) != tt.wantErr {
				t.Errorf("Verify() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenService_IssuerAndAudience(t *testing.T) {
	other, _ := NewTokenService(testSecret, WithIssuer("someone-else"), WithAudience("another-client"))
	svc, _ := NewTokenService(testSecret)
	token, _ := other.Issue(testIdentity)

	if _, err := svc.Verify(token, VerifyOptions{CheckIssuer: true}); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("issuer check: error = %v, want ErrTokenInvalid", err)
	}
	if _, err := svc.Verify(token, VerifyOptions{CheckAudience: true}); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("audience check: error = %v, want ErrTokenInvalid", err)
	}
	if _, err := svc.Verify(token, VerifyOptions{}); err != nil {
		t.Errorf("unchecked: error = %v, want nil", err)
	}
}

func TestTokenService_MissingClaims(t *testing.T) {
	svc, _ := NewTokenService(testSecret)
	now := time.Now()

	tests := []struct {
		name   string
		claims Claims
	}{
		{"missing iat", Claims{
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
			UserID:           "usr-1", Kind: KindAccess,
		}},
		{"missing exp", Claims{
			RegisteredClaims: jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(now)},
			UserID:           "usr-1", Kind: KindAccess,
		}},
		{"missing user id", Claims{
			RegisteredClaims: jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(now), ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
			Kind:             KindAccess,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tt.claims).SignedString([]byte(testSecret))
			if err != nil {
				t.Fatalf("signing: %v", err)
			}
			if _, err := svc.Verify(token, VerifyOptions{}); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("Verify() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestTokenService_RejectsOtherAlgorithms(t *testing.T) {
	svc, _ := NewTokenService(testSecret)
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(now), ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
		UserID:           "usr-1",
		Kind:             KindAccess,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	if _, err := svc.Verify(token, VerifyOptions{}); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("HS512 token: error = %v, want ErrTokenInvalid", err)
	}

	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := svc.Verify(unsigned, VerifyOptions{}); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("unsigned token: error = %v, want ErrTokenInvalid", err)
	}
}

func TestTokenService_KindsNotInterchangeable(t *testing.T) {
	access, _ := NewTokenService(testSecret)
	session, _ := NewSessionService(testSecret)

	sessionToken, _ := session.Issue(testIdentity)
	if _, err := access.Verify(sessionToken, StrictVerify); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("session token accepted as access token: %v", err)
	}

	claims, err := session.Verify(sessionToken, StrictVerify)
	if err != nil {
		t.Fatalf("session Verify() error = %v", err)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != DefaultSessionTTL {
		t.Errorf("session lifetime = %s, want %s", got, DefaultSessionTTL)
	}
}

func TestTokenService_GenericErrorMessage(t *testing.T) {
	svc, _ := NewTokenService(testSecret)

	for _, raw := range []string{"", "not.a.token", strings.Repeat("x", 40)} {
		_, err := svc.Verify(raw, StrictVerify)
		if !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("Verify(%q) error = %v, want ErrTokenInvalid", raw, err)
		}
	}
	if ErrTokenInvalid.Error() != "invalid or expired token" {
		t.Errorf("ErrTokenInvalid = %q", ErrTokenInvalid.Error())
	}
}
