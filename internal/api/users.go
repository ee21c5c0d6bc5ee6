package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tagsakay/tagsakay-core/internal/audit"
	"github.com/tagsakay/tagsakay-core/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type createUserRequest struct {
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Password string    `json:"password"`
	Role     auth.Role `json:"role,omitempty"`
}

type updateUserRequest struct {
	Name     *string    `json:"name,omitempty"`
	Role     *auth.Role `json:"role,omitempty"`
	IsActive *bool      `json:"isActive,omitempty"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates a new user account.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = auth.NormalizeEmail(req.Email)
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleDriver
	}
	if !auth.IsValidRole(req.Role) {
		writeBadRequest(w, "invalid role: must be driver, admin, or superadmin")
		return
	}

	claims := claimsFromContext(r.Context())
	if req.Role != auth.RoleDriver && !auth.HasPermission(claims.Role, auth.PermAdminManage) {
		s.denyPermission(w, r, claims, auth.PermAdminManage)
		return
	}

	if err := auth.ValidateEmail(req.Email); err != nil {
		s.rejectUserInput(w, r, claims, err)
		return
	}
	if err := auth.ValidatePassword(req.Password, false); err != nil {
		s.rejectUserInput(w, r, claims, err)
		return
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	user := &auth.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		IsActive:     true,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrEmailExists) {
			writeConflict(w, "email already exists")
			return
		}
		s.logger.Error("create user failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "role", user.Role, "created_by", claims.UserID)
	writeJSON(w, http.StatusCreated, user)
}

// handleGetUser returns a single user by ID.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user failed", "error", err)
		writeInternalError(w, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser modifies a user's name, role or active flag.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims := claimsFromContext(r.Context())

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user for update failed", "error", err)
		writeInternalError(w, "failed to update user")
		return
	}

	// Self-protection: cannot deactivate yourself or change your own role
	if id == claims.UserID {
		if req.IsActive != nil && !*req.IsActive {
			writeForbidden(w, "cannot deactivate your own account")
			return
		}
		if req.Role != nil && *req.Role != claims.Role {
			writeForbidden(w, "cannot change your own role")
			return
		}
	}

	if req.Role != nil && !auth.IsValidRole(*req.Role) {
		writeBadRequest(w, "invalid role: must be driver, admin, or superadmin")
		return
	}

	// Only superadmins touch admin accounts or grant admin roles
	escalates := req.Role != nil && *req.Role != auth.RoleDriver
	if (user.Role != auth.RoleDriver || escalates) && !auth.HasPermission(claims.Role, auth.PermAdminManage) {
		s.denyPermission(w, r, claims, auth.PermAdminManage)
		return
	}

	if req.Name != nil {
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Role != nil {
		user.Role = *req.Role
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	if err := s.users.Update(r.Context(), user); err != nil {
		s.logger.Error("update user failed", "error", err)
		writeInternalError(w, "failed to update user")
		return
	}

	s.logger.Info("user updated", "user_id", id, "updated_by", claims.UserID)
	writeJSON(w, http.StatusOK, user)
}

// handleDeleteUser removes a user account. Tags owned by the user become
// unbound; scan records keep the user id.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims := claimsFromContext(r.Context())

	if id == claims.UserID {
		writeForbidden(w, "cannot delete your own account")
		return
	}

	if err := s.users.Delete(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("delete user failed", "error", err)
		writeInternalError(w, "failed to delete user")
		return
	}

	s.logger.Info("user deleted", "user_id", id, "deleted_by", claims.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// rejectUserInput answers 400 with the validation message and records a
// VALIDATION_FAILED event.
func (s *Server) rejectUserInput(w http.ResponseWriter, r *http.Request, claims *auth.Claims, err error) {
	s.recordEvent(r, &audit.Event{
		Type:    audit.EventValidationFailed,
		Account: claims.Email,
		UserID:  claims.UserID,
		Message: err.Error(),
	})
	writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
}
