package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tagsakay/tagsakay-core/internal/audit"
	"github.com/tagsakay/tagsakay-core/internal/auth"
	"github.com/tagsakay/tagsakay-core/internal/guard"
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
// The session token travels only in the HttpOnly cookie.
type loginResponse struct {
	AccessToken string     `json:"accessToken"`
	TokenType   string     `json:"tokenType"`
	ExpiresIn   int        `json:"expiresIn"`
	User        *auth.User `json:"user"`
}

// meResponse is the response body for GET /auth/me.
type meResponse struct {
	User        *auth.User        `json:"user"`
	Permissions []auth.Permission `json:"permissions"`
}

// handleLogin authenticates a user by email and password, returns an access
// token and sets the session cookie.
//
// Unknown emails and wrong passwords get the same 401; the lockout state is
// revealed only once the account is locked.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	email := auth.NormalizeEmail(req.Email)
	if err := auth.ValidateEmail(email); err != nil || req.Password == "" {
		s.recordEvent(r, &audit.Event{
			Type:    audit.EventValidationFailed,
			Account: email,
			Message: "Invalid login request",
		})
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "valid email and password are required")
		return
	}

	result, err := s.login.Login(r.Context(), email, req.Password)
	if err != nil {
		s.writeLoginError(w, r, email, err)
		return
	}

	secure := auth.IsSecureRequest(r)
	http.SetCookie(w, auth.SessionCookie(s.cookieName(), result.SessionToken, s.session.TTL(), secure))

	s.logger.Info("user logged in", "user_id", result.User.ID, "role", result.User.Role)
	s.recordEvent(r, &audit.Event{
		Type:    audit.EventLoginSuccess,
		Account: email,
		UserID:  result.User.ID,
		Message: "Login successful",
	})

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: result.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.access.TTL() / time.Second),
		User:        result.User,
	})
}

func (s *Server) writeLoginError(w http.ResponseWriter, r *http.Request, email string, err error) {
	var locked *auth.LockedError
	switch {
	case errors.As(err, &locked):
		retry := max(int(locked.RetryAfter.Round(time.Second)/time.Second), 1)
		s.logger.Security("login rejected, account locked", "account", email, "ip", guard.ClientIP(r), "retry_after_s", retry)
		s.recordEvent(r, &audit.Event{
			Type:    audit.EventAccountLocked,
			Account: email,
			Message: "Account temporarily locked",
			Details: map[string]any{"retryAfter": retry},
		})
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeError(w, http.StatusTooManyRequests, ErrCodeAccountLocked,
			"Account temporarily locked due to too many failed login attempts. Try again later.")

	case errors.Is(err, auth.ErrInvalidCredentials):
		s.logger.Security("login failed", "account", email, "ip", guard.ClientIP(r))
		s.recordEvent(r, &audit.Event{
			Type:    audit.EventLoginFailure,
			Account: email,
			Message: "Invalid credentials",
		})
		writeUnauthorized(w, "Invalid email or password")

	case errors.Is(err, auth.ErrUserInactive):
		s.recordEvent(r, &audit.Event{
			Type:    audit.EventLoginFailure,
			Account: email,
			Message: "Account is inactive",
		})
		writeForbidden(w, "Account is inactive")

	default:
		s.logger.Error("login failed", "error", err)
		writeInternalError(w, "login failed")
	}
}

// handleLogout revokes the presented token and the session cookie's token,
// then clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	ctx := r.Context()

	if err := s.revocations.Revoke(ctx, claims.ID, claims.UserID, claims.ExpiresAt.Time); err != nil {
		s.logger.Error("revoking token failed", "user_id", claims.UserID, "error", err)
		writeInternalError(w, "logout failed")
		return
	}

	// A bearer logout also ends the browser session riding alongside it.
	if cookie, err := r.Cookie(s.cookieName()); err == nil && cookie.Value != "" {
		if sc, verifyErr := s.session.Verify(cookie.Value, auth.StrictVerify); verifyErr == nil && sc.ID != claims.ID {
			if err := s.revocations.Revoke(ctx, sc.ID, sc.UserID, sc.ExpiresAt.Time); err != nil {
				s.logger.Warn("revoking session token failed", "user_id", sc.UserID, "error", err)
			}
		}
	}

	s.clearSession(w, r)
	s.recordEvent(r, &audit.Event{
		Type:    audit.EventLogout,
		Account: claims.Email,
		UserID:  claims.UserID,
		Message: "Logged out",
	})

	writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out"})
}

// handleMe returns the current user and their permissions.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	user, err := s.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeUnauthorized(w, auth.ErrTokenInvalid.Error())
			return
		}
		s.logger.Error("get current user failed", "error", err)
		writeInternalError(w, "failed to load user")
		return
	}
	if !user.IsActive {
		writeForbidden(w, "Account is inactive")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		User:        user,
		Permissions: auth.PermissionsForRole(user.Role),
	})
}
