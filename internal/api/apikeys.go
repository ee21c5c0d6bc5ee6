package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tagsakay/tagsakay-core/internal/audit"
	"github.com/tagsakay/tagsakay-core/internal/auth"
	"github.com/tagsakay/tagsakay-core/internal/device"
)

type createAPIKeyRequest struct {
	Name        string         `json:"name"`
	DeviceID    string         `json:"deviceId,omitempty"`
	Description string         `json:"description,omitempty"`
	Prefix      string         `json:"prefix,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
	Type        device.KeyType `json:"type,omitempty"`
}

type createAPIKeyResponse struct {
	APIKey *device.APIKey `json:"apiKey"`
	Key    string         `json:"key"`
}

// maxKeyPrefixLength bounds caller-chosen key prefixes.
const maxKeyPrefixLength = 8

// handleCreateAPIKey issues a generic API key. The raw key is returned once.
func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := device.ValidateName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if req.Type == "" {
		req.Type = device.KeyTypeDevice
	}
	if !device.IsValidKeyType(req.Type) {
		writeBadRequest(w, "invalid type: must be device, service, or admin")
		return
	}
	if !validKeyPrefix(req.Prefix) {
		writeBadRequest(w, "prefix must be 1-8 lowercase letters or digits")
		return
	}
	if req.Permissions == nil {
		req.Permissions = []string{}
	}

	raw, hint, err := auth.GenerateAPIKey(req.Prefix)
	if err != nil {
		s.logger.Error("generating api key failed", "error", err)
		writeInternalError(w, "failed to create api key")
		return
	}
	hash, err := s.hasher.Hash(raw)
	if err != nil {
		s.logger.Error("hashing api key failed", "error", err)
		writeInternalError(w, "failed to create api key")
		return
	}

	claims := claimsFromContext(r.Context())
	key := &device.APIKey{
		Name:        strings.TrimSpace(req.Name),
		DeviceID:    req.DeviceID,
		Description: req.Description,
		KeyHash:     hash,
		Prefix:      hint,
		Permissions: req.Permissions,
		Type:        req.Type,
		IsActive:    true,
		CreatedBy:   claims.UserID,
	}
	if err := s.apiKeys.Create(r.Context(), key); err != nil {
		s.logger.Error("create api key failed", "error", err)
		writeInternalError(w, "failed to create api key")
		return
	}

	s.recordEvent(r, &audit.Event{
		Type:     audit.EventAPIKeyCreated,
		Account:  claims.Email,
		UserID:   claims.UserID,
		DeviceID: key.DeviceID,
		Message:  "API key created",
		Details:  map[string]any{"keyId": key.ID, "name": key.Name, "type": string(key.Type)},
	})

	writeJSON(w, http.StatusCreated, createAPIKeyResponse{APIKey: key, Key: raw})
}

// handleListAPIKeys returns all API keys. Hashes are never serialised.
func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.apiKeys.List(r.Context())
	if err != nil {
		s.logger.Error("list api keys failed", "error", err)
		writeInternalError(w, "failed to list api keys")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"apiKeys": keys, "count": len(keys)})
}

// handleRevokeAPIKey deactivates an API key. The record is kept.
func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.apiKeys.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrAPIKeyNotFound) {
			writeNotFound(w, "api key not found")
			return
		}
		s.logger.Error("revoke api key failed", "key_id", id, "error", err)
		writeInternalError(w, "failed to revoke api key")
		return
	}

	claims := claimsFromContext(r.Context())
	s.recordEvent(r, &audit.Event{
		Type:    audit.EventAPIKeyRevoked,
		Account: claims.Email,
		UserID:  claims.UserID,
		Message: "API key revoked",
		Details: map[string]any{"keyId": id},
	})

	w.WriteHeader(http.StatusNoContent)
}

func validKeyPrefix(p string) bool {
	if p == "" {
		return true
	}
	if len(p) > maxKeyPrefixLength {
		return false
	}
	for _, c := range p {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
