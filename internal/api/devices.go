package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tagsakay/tagsakay-core/internal/audit"
	"github.com/tagsakay/tagsakay-core/internal/auth"
	"github.com/tagsakay/tagsakay-core/internal/device"
	"github.com/tagsakay/tagsakay-core/internal/rfid"
)

type registerDeviceRequest struct {
	MACAddress string `json:"macAddress"`
	Name       string `json:"name"`
	Location   string `json:"location,omitempty"`
}

// deviceKeyResponse carries a raw device key. It is returned exactly once.
type deviceKeyResponse struct {
	Device *device.Device `json:"device"`
	APIKey string         `json:"apiKey"`
}

type setActiveRequest struct {
	IsActive *bool `json:"isActive"`
}

// heartbeatDevice is the device view returned to a heartbeat.
type heartbeatDevice struct {
	DeviceID                 string     `json:"deviceId"`
	IsActive                 bool       `json:"isActive"`
	RegistrationMode         bool       `json:"registrationMode"`
	ScanMode                 bool       `json:"scanMode"`
	PendingRegistrationTagID string     `json:"pendingRegistrationTagId,omitempty"`
	LastSeen                 *time.Time `json:"lastSeen,omitempty"`
}

// ─── Dashboard handlers ────────────────────────────────────────────

// handleRegisterDevice registers a scanner by MAC address and returns its
// API key. Only the key's hash is stored.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.MACAddress == "" || strings.TrimSpace(req.Name) == "" {
		writeBadRequest(w, "macAddress and name are required")
		return
	}

	raw, hash, ok := s.newDeviceKey(w)
	if !ok {
		return
	}

	dev := &device.Device{
		MACAddress: req.MACAddress,
		Name:       strings.TrimSpace(req.Name),
		Location:   strings.TrimSpace(req.Location),
		APIKeyHash: hash,
	}
	if err := s.devices.Register(r.Context(), dev); err != nil {
		s.writeDeviceManageError(w, err)
		return
	}

	claims := claimsFromContext(r.Context())
	s.recordEvent(r, &audit.Event{
		Type:     audit.EventDeviceRegistered,
		Account:  claims.Email,
		UserID:   claims.UserID,
		DeviceID: dev.DeviceID,
		Message:  "Device registered",
		Details:  map[string]any{"name": dev.Name, "macAddress": dev.MACAddress},
	})

	writeJSON(w, http.StatusCreated, deviceKeyResponse{Device: dev, APIKey: raw})
}

// handleListDevices returns all devices, most recently seen first.
//
// Query parameters:
//   - active: "true" restricts to active devices
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var (
		devices []device.Device
		err     error
	)
	if r.URL.Query().Get("active") == "true" {
		devices, err = s.devices.ListActive(r.Context())
	} else {
		devices, err = s.devices.List(r.Context())
	}
	if err != nil {
		s.logger.Error("failed to list devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleDeviceStats returns registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.devices.GetStats())
}

// handleGetDevice returns a single device by device id.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.devices.Get(r.Context(), chi.URLParam(r, "deviceId"))
	if err != nil {
		s.writeDeviceManageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleSetDeviceMode switches registration or scan mode. A pending
// registration tag id is normalised; an empty one clears it.
func (s *Server) handleSetDeviceMode(w http.ResponseWriter, r *http.Request) {
	var upd device.ModeUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if upd.PendingRegistrationTagID != nil && *upd.PendingRegistrationTagID != "" {
		tagID, err := rfid.ParseTagID(*upd.PendingRegistrationTagID)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "pendingRegistrationTagId is not a valid tag id")
			return
		}
		upd.PendingRegistrationTagID = &tagID
	}
	// Leaving registration mode drops any pending tag.
	if upd.RegistrationMode != nil && !*upd.RegistrationMode && upd.PendingRegistrationTagID == nil {
		empty := ""
		upd.PendingRegistrationTagID = &empty
	}

	dev, err := s.devices.SetMode(r.Context(), chi.URLParam(r, "deviceId"), upd)
	if err != nil {
		s.writeDeviceManageError(w, err)
		return
	}

	s.logger.Info("device mode updated",
		"device_id", dev.DeviceID,
		"registration_mode", dev.RegistrationMode,
		"scan_mode", dev.ScanMode,
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Device mode updated successfully",
		"device":  dev,
	})
}

// handleSetDeviceActive enables or disables a device. Devices are never
// deleted so scan records keep their device linkage.
func (s *Server) handleSetDeviceActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsActive == nil {
		writeBadRequest(w, "isActive is required")
		return
	}

	dev, err := s.devices.SetActive(r.Context(), chi.URLParam(r, "deviceId"), *req.IsActive)
	if err != nil {
		s.writeDeviceManageError(w, err)
		return
	}

	s.logger.Info("device active flag changed", "device_id", dev.DeviceID, "is_active", dev.IsActive,
		"changed_by", claimsFromContext(r.Context()).UserID)
	writeJSON(w, http.StatusOK, dev)
}

// handleRotateDeviceKey issues a new API key for a device. The old key
// stops working immediately.
func (s *Server) handleRotateDeviceKey(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")

	raw, hash, ok := s.newDeviceKey(w)
	if !ok {
		return
	}
	if err := s.devices.RotateKey(r.Context(), deviceID, hash); err != nil {
		s.writeDeviceManageError(w, err)
		return
	}
	dev, err := s.devices.Get(r.Context(), deviceID)
	if err != nil {
		s.writeDeviceManageError(w, err)
		return
	}

	claims := claimsFromContext(r.Context())
	s.recordEvent(r, &audit.Event{
		Type:     audit.EventAPIKeyCreated,
		Account:  claims.Email,
		UserID:   claims.UserID,
		DeviceID: deviceID,
		Message:  "Device API key rotated",
	})

	writeJSON(w, http.StatusOK, deviceKeyResponse{Device: dev, APIKey: raw})
}

// newDeviceKey generates a raw device key and its stored hash.
func (s *Server) newDeviceKey(w http.ResponseWriter) (raw, hash string, ok bool) {
	raw, _, err := auth.GenerateAPIKey(auth.APIKeyPrefix)
	if err != nil {
		s.logger.Error("generating device key failed", "error", err)
		writeInternalError(w, "failed to generate api key")
		return "", "", false
	}
	hash, err = s.hasher.Hash(raw)
	if err != nil {
		s.logger.Error("hashing device key failed", "error", err)
		writeInternalError(w, "failed to generate api key")
		return "", "", false
	}
	return raw, hash, true
}

func (s *Server) writeDeviceManageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrDeviceExists):
		writeConflict(w, "Device already registered")
	case errors.Is(err, device.ErrInvalidMAC),
		errors.Is(err, device.ErrInvalidName),
		errors.Is(err, device.ErrInvalidDevice):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		s.logger.Error("device operation failed", "error", err)
		writeInternalError(w, "device operation failed")
	}
}

// ─── Device-facing handlers ────────────────────────────────────────

// handleHeartbeat records that the calling device is alive and applies any
// reported location or mode change.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := ownDeviceID(w, r)
	if !ok {
		return
	}

	var hb device.Heartbeat
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
			writeDeviceError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	dev, err := s.devices.Heartbeat(r.Context(), deviceID, hb)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeDeviceError(w, http.StatusNotFound, "Device not found")
			return
		}
		s.logger.Error("heartbeat failed", "device_id", deviceID, "error", err)
		writeDeviceError(w, http.StatusInternalServerError, "Failed to process heartbeat")
		return
	}

	writeDevice(w, http.StatusOK, true, "Heartbeat received", map[string]any{
		"device": heartbeatDevice{
			DeviceID:                 dev.DeviceID,
			IsActive:                 dev.IsActive,
			RegistrationMode:         dev.RegistrationMode,
			ScanMode:                 dev.ScanMode,
			PendingRegistrationTagID: dev.PendingRegistrationTagID,
			LastSeen:                 dev.LastSeen,
		},
	})
}

// handleDeviceCommands returns the pending mode commands for the calling device.
func (s *Server) handleDeviceCommands(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := ownDeviceID(w, r)
	if !ok {
		return
	}

	dev, err := s.devices.Get(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeDeviceError(w, http.StatusNotFound, "Device not found")
			return
		}
		s.logger.Error("get device commands failed", "device_id", deviceID, "error", err)
		writeDeviceError(w, http.StatusInternalServerError, "Failed to get commands")
		return
	}

	writeDevice(w, http.StatusOK, true, "Commands retrieved", map[string]any{
		"commands": dev.Commands(time.Now()),
		"deviceStatus": map[string]any{
			"isActive":         dev.IsActive,
			"registrationMode": dev.RegistrationMode,
			"scanMode":         dev.ScanMode,
		},
	})
}

// ownDeviceID returns the {deviceId} URL parameter if the authenticated
// principal is that device, else writes 403.
func ownDeviceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	deviceID := chi.URLParam(r, "deviceId")
	p := principalFromContext(r.Context())
	if p == nil || p.DeviceID == "" || !strings.EqualFold(p.DeviceID, deviceID) {
		writeDeviceError(w, http.StatusForbidden, "Device ID mismatch")
		return "", false
	}
	return p.DeviceID, true
}
