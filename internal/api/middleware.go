package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tagsakay/tagsakay-core/internal/audit"
	"github.com/tagsakay/tagsakay-core/internal/auth"
	"github.com/tagsakay/tagsakay-core/internal/device"
	"github.com/tagsakay/tagsakay-core/internal/guard"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// ctxKeyRequestID is the context key for the request ID.
	ctxKeyRequestID contextKey = "request_id"

	// ctxKeyClaims is the context key for verified user token claims.
	ctxKeyClaims contextKey = "claims"

	// ctxKeyPrincipal is the context key for an authenticated device or API key.
	ctxKeyPrincipal contextKey = "principal"
)

// apiKeyHeader carries device and service credentials.
const apiKeyHeader = "X-API-Key"

// requestIDMiddleware generates a unique request ID for each request.
// If the client sends an X-Request-ID header, it is used; otherwise one is generated.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	})
}

// recoveryMiddleware catches panics in handlers and returns a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", r.Context().Value(ctxKeyRequestID),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles Cross-Origin Resource Sharing headers.
// Credentials are allowed because the dashboard authenticates with the
// session cookie, so the wildcard origin is never echoed.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", joinOrDefault(s.cfg.CORS.AllowedMethods, "GET, POST, PUT, PATCH, DELETE, OPTIONS"))
			w.Header().Set("Access-Control-Allow-Headers", joinOrDefault(s.cfg.CORS.AllowedHeaders, "Authorization, Content-Type, X-API-Key, X-Request-ID"))
			w.Header().Set("Access-Control-Expose-Headers", "X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
		}

		// Handle preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// bodySizeLimitMiddleware limits the size of incoming request bodies.
func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware counts requests per client address and route under p.
// Denied requests get 429 with Retry-After and are logged as security events.
// For skip-successful policies a request that ends below 400 is released so
// only failures count.
func (s *Server) rateLimitMiddleware(p guard.Policy, deviceFacing bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.secCfg.RateLimit.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			ip := guard.ClientIP(r)
			decision := s.limiter.Allow(p, ip, r.URL.Path)
			decision.SetHeaders(w.Header())

			if !decision.Allowed {
				s.logger.Security("rate limit exceeded",
					"policy", p.Name,
					"ip", ip,
					"path", r.URL.Path,
					"retry_after_s", decision.RetryAfterSeconds(),
				)
				s.recordEvent(r, &audit.Event{
					Type:    audit.EventRateLimitExceeded,
					Message: "Rate limit exceeded",
					Details: map[string]any{"policy": p.Name, "retryAfter": decision.RetryAfterSeconds()},
				})
				if deviceFacing {
					writeDeviceError(w, http.StatusTooManyRequests, p.Message)
				} else {
					writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, p.Message)
				}
				return
			}

			if !p.SkipSuccessful {
				next.ServeHTTP(w, r)
				return
			}

			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			if wrapped.status < http.StatusBadRequest {
				s.limiter.Release(decision.Key)
			}
		})
	}
}

// userAuthMiddleware requires a valid access token (Authorization: Bearer)
// or session token (session cookie) that has not been revoked.
func (s *Server) userAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.authenticateUser(w, r)
		if err != nil {
			if !errors.Is(err, auth.ErrTokenInvalid) && !errors.Is(err, auth.ErrTokenRevoked) {
				s.logger.Error("token check failed", "error", err)
				writeInternalError(w, "authentication failed")
				return
			}
			if !errors.Is(err, errNoToken) {
				s.logger.Security("token rejected", "ip", guard.ClientIP(r), "path", r.URL.Path, "error", err)
				s.recordEvent(r, &audit.Event{
					Type:    audit.EventTokenInvalid,
					Message: "Invalid or expired token",
				})
			}
			writeUnauthorized(w, auth.ErrTokenInvalid.Error())
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// errNoToken means the request carried neither a bearer token nor a
// session cookie. It wraps ErrTokenInvalid so callers answer the same way.
var errNoToken = errors.Join(auth.ErrTokenInvalid, errors.New("no token presented"))

// authenticateUser verifies the bearer token if present, else the session
// cookie. A session cookie that fails verification or has been revoked
// is cleared.
func (s *Server) authenticateUser(w http.ResponseWriter, r *http.Request) (*auth.Claims, error) {
	var (
		claims     *auth.Claims
		err        error
		fromCookie bool
	)

	switch {
	case r.Header.Get("Authorization") != "":
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			return nil, auth.ErrTokenInvalid
		}
		claims, err = s.access.Verify(strings.TrimSpace(raw), auth.StrictVerify)
		if err != nil {
			return nil, err
		}
	default:
		cookie, cookieErr := r.Cookie(s.cookieName())
		if cookieErr != nil || cookie.Value == "" {
			return nil, errNoToken
		}
		fromCookie = true
		claims, err = s.session.Verify(cookie.Value, auth.StrictVerify)
		if err != nil {
			s.clearSession(w, r)
			return nil, err
		}
	}

	revoked, err := s.revocations.IsRevoked(r.Context(), claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		if fromCookie {
			s.clearSession(w, r)
		}
		return nil, auth.ErrTokenRevoked
	}
	return claims, nil
}

func (s *Server) clearSession(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, auth.ClearSessionCookie(s.cookieName(), auth.IsSecureRequest(r)))
}

// requirePermission rejects users whose role lacks perm.
// Must run after userAuthMiddleware.
func (s *Server) requirePermission(perm auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil || !auth.HasPermission(claims.Role, perm) {
				s.denyPermission(w, r, claims, perm)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// denyPermission writes 403 and records a PERMISSION_DENIED event.
func (s *Server) denyPermission(w http.ResponseWriter, r *http.Request, claims *auth.Claims, perm auth.Permission) {
	e := &audit.Event{
		Type:    audit.EventPermissionDenied,
		Message: "Insufficient permissions",
		Details: map[string]any{"permission": string(perm)},
	}
	if claims != nil {
		e.Account = claims.Email
		e.UserID = claims.UserID
		e.Details["role"] = string(claims.Role)
	}
	s.recordEvent(r, e)
	writeForbidden(w, auth.ErrForbidden.Error())
}

// deviceAuthMiddleware authenticates the X-API-Key header against device
// and generic API key hashes.
func (s *Server) deviceAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.deviceAuth.Authenticate(r.Context(), r.Header.Get(apiKeyHeader))
		switch {
		case errors.Is(err, device.ErrMissingCredential):
			writeDeviceError(w, http.StatusUnauthorized, "No API key provided")
			return
		case errors.Is(err, device.ErrInvalidCredential):
			s.logger.Security("device authentication failed", "ip", guard.ClientIP(r), "path", r.URL.Path)
			s.recordEvent(r, &audit.Event{
				Type:    audit.EventDeviceAuthFailure,
				Message: "Invalid API key",
			})
			writeDeviceError(w, http.StatusUnauthorized, "Invalid API key")
			return
		case err != nil:
			s.logger.Error("device authentication unavailable", "error", err)
			writeDeviceError(w, http.StatusInternalServerError, "Authentication failed")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// claimsFromContext returns the verified token claims, or nil.
func claimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(ctxKeyClaims).(*auth.Claims)
	return claims
}

// principalFromContext returns the authenticated device principal, or nil.
func principalFromContext(ctx context.Context) *device.Principal {
	p, _ := ctx.Value(ctxKeyPrincipal).(*device.Principal)
	return p
}

func (s *Server) cookieName() string {
	if s.secCfg.Session.CookieName != "" {
		return s.secCfg.Session.CookieName
	}
	return auth.DefaultSessionCookie
}

// isAllowedOrigin checks if the origin is in the allowed list.
// An empty list allows all origins (dev mode).
func (s *Server) isAllowedOrigin(origin string) bool {
	if len(s.cfg.CORS.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// requestIDBytes is the number of random bytes used for request IDs.
const requestIDBytes = 8

// generateRequestID creates a random hex request ID.
func generateRequestID() string {
	b := make([]byte, requestIDBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// joinOrDefault joins a string slice with ", " or returns the default if empty.
func joinOrDefault(values []string, defaultVal string) string {
	if len(values) == 0 {
		return defaultVal
	}
	return strings.Join(values, ", ")
}
