package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tagsakay/tagsakay-core/internal/audit"
	"github.com/tagsakay/tagsakay-core/internal/rfid"
)

// tagDetailScans is how many recent scans GET /rfid/tags/{tagId} includes.
const tagDetailScans = 10

type createTagRequest struct {
	TagID    string         `json:"tagId"`
	UserID   string         `json:"userId,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type updateTagRequest struct {
	UserID   *string        `json:"userId,omitempty"`
	IsActive *bool          `json:"isActive,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// handleListTags returns all registered tags.
func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.tags.ListTags(r.Context())
	if err != nil {
		s.logger.Error("failed to list tags", "error", err)
		writeInternalError(w, "failed to list tags")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tags":  tags,
		"count": len(tags),
	})
}

// handleCreateTag registers a tag, optionally bound to an owner.
func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var req createTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	claims := claimsFromContext(r.Context())
	tag, err := rfid.RegisterTag(r.Context(), s.tags, rfid.NewTag{
		TagID:        req.TagID,
		UserID:       req.UserID,
		RegisteredBy: claims.UserID,
		Metadata:     req.Metadata,
	})
	if err != nil {
		s.writeTagError(w, r, req.TagID, err)
		return
	}

	s.logger.Info("tag registered", "tag_id", tag.TagID, "user_id", tag.UserID, "registered_by", claims.UserID)
	writeJSON(w, http.StatusCreated, tag)
}

// handleGetTag returns a tag with its most recent scans.
func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	tagID, ok := tagIDParam(w, r)
	if !ok {
		return
	}

	tag, err := s.tags.GetTag(r.Context(), tagID)
	if err != nil {
		s.writeTagError(w, r, tagID, err)
		return
	}

	scans, err := s.tags.ListScans(r.Context(), rfid.ScanFilter{TagID: tagID, Limit: tagDetailScans})
	if err != nil {
		s.logger.Error("failed to list tag scans", "tag_id", tagID, "error", err)
		writeInternalError(w, "failed to get tag")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tag":         tag,
		"recentScans": scans,
	})
}

// handleUpdateTag changes the owner, active flag or metadata of a tag.
func (s *Server) handleUpdateTag(w http.ResponseWriter, r *http.Request) {
	tagID, ok := tagIDParam(w, r)
	if !ok {
		return
	}

	var req updateTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	tag, err := rfid.UpdateTag(r.Context(), s.tags, tagID, rfid.TagUpdate{
		UserID:   req.UserID,
		IsActive: req.IsActive,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.writeTagError(w, r, tagID, err)
		return
	}

	s.logger.Info("tag updated", "tag_id", tag.TagID, "is_active", tag.IsActive, "user_id", tag.UserID)
	writeJSON(w, http.StatusOK, tag)
}

// handleDeleteTag removes a tag. Its scan history is kept.
func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	tagID, ok := tagIDParam(w, r)
	if !ok {
		return
	}

	if err := s.tags.DeleteTag(r.Context(), tagID); err != nil {
		s.writeTagError(w, r, tagID, err)
		return
	}

	s.logger.Info("tag deleted", "tag_id", tagID, "deleted_by", claimsFromContext(r.Context()).UserID)
	w.WriteHeader(http.StatusNoContent)
}

// tagIDParam reads and normalises the {tagId} URL parameter.
func tagIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	tagID, err := rfid.ParseTagID(chi.URLParam(r, "tagId"))
	if err != nil {
		writeBadRequest(w, "invalid tag id")
		return "", false
	}
	return tagID, true
}

func (s *Server) writeTagError(w http.ResponseWriter, r *http.Request, tagID string, err error) {
	switch {
	case errors.Is(err, rfid.ErrInvalidTagID):
		s.recordEvent(r, &audit.Event{
			Type:    audit.EventValidationFailed,
			UserID:  claimsFromContext(r.Context()).UserID,
			Message: "Invalid RFID tag ID",
			Details: map[string]any{"tagId": tagID},
		})
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "tag id must be 4-32 letters or digits")
	case errors.Is(err, rfid.ErrTagNotFound):
		writeNotFound(w, "tag not found")
	case errors.Is(err, rfid.ErrTagExists):
		writeConflict(w, "tag already registered")
	case errors.Is(err, rfid.ErrOwnerNotFound):
		writeBadRequest(w, "owner user not found")
	default:
		s.logger.Error("tag operation failed", "tag_id", tagID, "error", err)
		writeInternalError(w, "tag operation failed")
	}
}
