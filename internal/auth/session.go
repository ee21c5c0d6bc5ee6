package auth

import (
	"net/http"
	"strings"
	"time"
)

// DefaultSessionCookie is the cookie carrying the session token.
const DefaultSessionCookie = "ts_session"

// SessionCookie builds the cookie that carries a session token.
// The cookie is HttpOnly and SameSite=Strict; Secure is set when the
// request arrived over HTTPS.
func SessionCookie(name, token string, ttl time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// ClearSessionCookie builds a cookie that removes the session cookie.
func ClearSessionCookie(name string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// IsSecureRequest reports whether r reached the service over HTTPS, either
// directly or through a TLS-terminating edge that says so.
func IsSecureRequest(r *http.Request) bool {
	if r.TLS != nil || r.URL.Scheme == "https" {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	visitor := strings.ReplaceAll(r.Header.Get("CF-Visitor"), " ", "")
	return strings.Contains(visitor, `"scheme":"https"`)
}
