package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tagsakay/tagsakay-core/internal/audit"
	"github.com/tagsakay/tagsakay-core/internal/auth"
	"github.com/tagsakay/tagsakay-core/internal/device"
	"github.com/tagsakay/tagsakay-core/internal/rfid"
)

// minEpochMillis separates wall-clock timestamps from device uptime
// counters in batch uploads. Anything below it is treated as uptime and
// replaced with the receive time.
const minEpochMillis = 1_000_000_000_000

// defaultUnregisteredWindow bounds GET /rfid/unregistered/recent when no
// since parameter is given.
const defaultUnregisteredWindow = 24 * time.Hour

type scanRequest struct {
	TagID     string `json:"tagId"`
	DeviceID  string `json:"deviceId,omitempty"`
	Location  string `json:"location,omitempty"`
	VehicleID string `json:"vehicleId,omitempty"`
}

// scanResponseData is the data object of a scan response.
type scanResponseData struct {
	Scan              *rfid.Scan  `json:"scan"`
	Outcome           string      `json:"outcome"`
	User              *rfid.Owner `json:"user,omitempty"`
	RegistrationMatch bool        `json:"registrationMatch"`
}

type batchScanEntry struct {
	TagID     string `json:"tagId"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds, or device uptime
	Location  string `json:"location,omitempty"`
	VehicleID string `json:"vehicleId,omitempty"`
}

type batchScanRequest struct {
	DeviceID string           `json:"deviceId,omitempty"`
	Count    int              `json:"count"`
	Scans    []batchScanEntry `json:"scans"`
}

// handleScan classifies one scan from an authenticated device.
//
// The HTTP status follows the outcome: 200 accepted, 404 unregistered,
// 403 inactive tag or owner. Every outcome has been recorded before the
// response is written.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDeviceError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	principal := principalFromContext(r.Context())
	deviceID, ok := scanDeviceID(w, principal, req.DeviceID)
	if !ok {
		return
	}

	scanReq := rfid.ScanRequest{
		TagID:     req.TagID,
		DeviceID:  deviceID,
		Location:  req.Location,
		VehicleID: req.VehicleID,
		Source:    "http",
	}
	if d := principal.Device; d != nil && d.RegistrationMode {
		scanReq.PendingTagID = d.PendingRegistrationTagID
	}

	res, err := s.classifier.Classify(r.Context(), scanReq)
	switch {
	case errors.Is(err, rfid.ErrInvalidTagID):
		s.recordEvent(r, &audit.Event{
			Type:     audit.EventValidationFailed,
			DeviceID: deviceID,
			Message:  "Invalid RFID tag ID",
			Details:  map[string]any{"tagId": req.TagID},
		})
		writeDeviceError(w, http.StatusBadRequest, "Invalid RFID tag ID")
		return
	case err != nil:
		writeDeviceError(w, http.StatusInternalServerError, "Failed to process scan")
		return
	}

	writeDevice(w, res.Outcome.HTTPStatus(), res.Success(), res.Outcome.Message(), scanResponseData{
		Scan:              res.Scan,
		Outcome:           string(res.Outcome),
		User:              res.Owner,
		RegistrationMatch: res.RegistrationMatch,
	})
}

// handleBatchScan classifies an offline buffer upload. Each entry is
// classified and recorded on its own; one bad entry does not fail the rest.
func (s *Server) handleBatchScan(w http.ResponseWriter, r *http.Request) {
	var req batchScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDeviceError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Scans) == 0 {
		writeDeviceError(w, http.StatusBadRequest, "No scans provided")
		return
	}
	if len(req.Scans) > rfid.MaxBatchSize {
		writeDeviceError(w, http.StatusBadRequest,
			"Too many scans in batch (max "+strconv.Itoa(rfid.MaxBatchSize)+")")
		return
	}

	deviceID, ok := scanDeviceID(w, principalFromContext(r.Context()), req.DeviceID)
	if !ok {
		return
	}

	entries := make([]rfid.BatchEntry, len(req.Scans))
	for i, sc := range req.Scans {
		entries[i] = rfid.BatchEntry{
			TagID:     sc.TagID,
			Location:  sc.Location,
			VehicleID: sc.VehicleID,
		}
		if sc.Timestamp >= minEpochMillis {
			entries[i].Timestamp = time.UnixMilli(sc.Timestamp)
		}
	}

	results, err := s.classifier.ClassifyBatch(r.Context(), deviceID, entries)
	if err != nil {
		s.logger.Error("batch scan aborted", "device_id", deviceID, "processed", len(results), "error", err)
		writeDeviceError(w, http.StatusInternalServerError, "Failed to process batch")
		return
	}

	accepted := 0
	for _, res := range results {
		if res.Success {
			accepted++
		}
	}

	writeDevice(w, http.StatusOK, true, "Batch processed", map[string]any{
		"processed": len(results),
		"accepted":  accepted,
		"results":   results,
	})
}

// scanDeviceID resolves the device a scan is recorded against. A device
// credential always scans as itself; a generic key uses its bound device or
// the device named in the body.
func scanDeviceID(w http.ResponseWriter, p *device.Principal, bodyDeviceID string) (string, bool) {
	switch {
	case p.DeviceID != "" && bodyDeviceID != "" && bodyDeviceID != p.DeviceID:
		writeDeviceError(w, http.StatusForbidden, "Device ID mismatch")
		return "", false
	case p.DeviceID != "":
		return p.DeviceID, true
	case bodyDeviceID != "":
		return bodyDeviceID, true
	}
	writeDeviceError(w, http.StatusBadRequest, "Device ID is required")
	return "", false
}

// handleRecentScans is the polling endpoint for the live scan feed.
// Users with scan:view see every scan; drivers see only their own.
//
// Query parameters: since (RFC 3339), limit (default 50, max 200),
// deviceId, tagId, status.
func (s *Server) handleRecentScans(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	q := r.URL.Query()

	filter := rfid.ScanFilter{
		DeviceID: q.Get("deviceId"),
		TagID:    rfid.NormalizeTagID(q.Get("tagId")),
		Status:   rfid.Status(q.Get("status")),
	}
	switch {
	case auth.HasPermission(claims.Role, auth.PermScanView):
	case auth.HasPermission(claims.Role, auth.PermScanOwn):
		filter.UserID = claims.UserID
	default:
		s.denyPermission(w, r, claims, auth.PermScanView)
		return
	}

	since, ok := parseSince(w, q.Get("since"))
	if !ok {
		return
	}
	filter.Since = since
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}

	scans, err := s.tags.ListScans(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list scans", "error", err)
		writeInternalError(w, "failed to list scans")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scans":      scans,
		"count":      len(scans),
		"serverTime": time.Now().UTC(),
	})
}

// handleUnregisteredTags lists tags that were scanned but are not
// registered, so an admin can register them.
func (s *Server) handleUnregisteredTags(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	since, ok := parseSince(w, q.Get("since"))
	if !ok {
		return
	}
	if since.IsZero() {
		since = time.Now().Add(-defaultUnregisteredWindow)
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	tags, err := s.tags.ListUnregistered(r.Context(), since, limit)
	if err != nil {
		s.logger.Error("failed to list unregistered tags", "error", err)
		writeInternalError(w, "failed to list unregistered tags")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"unregisteredTags": tags,
		"total":            len(tags),
	})
}
