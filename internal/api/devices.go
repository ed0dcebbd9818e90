package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hearthd/hearth-core/internal/store"
)

// defaultHistoryLimit caps history and event queries when the client does
// not pass an explicit limit.
const defaultHistoryLimit = 100

// handleListDevices returns every device in the registry.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("listing devices failed", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	device, err := s.store.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			writeNotFound(w, "device not found: "+id)
			return
		}
		s.logger.Error("fetching device failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to fetch device")
		return
	}

	writeJSON(w, http.StatusOK, device)
}

// handleGetDeviceState returns the last known state of a device.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	device, err := s.store.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			writeNotFound(w, "device not found: "+id)
			return
		}
		s.logger.Error("fetching device failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to fetch device")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": device.ID,
		"state":     device.State,
		"online":    device.Online,
		"updated":   device.UpdatedAt,
	})
}

// handleStateHistory returns recorded state changes for a device, newest
// first. An optional limit query parameter bounds the result.
func (s *Server) handleStateHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit, err := limitParam(r, defaultHistoryLimit)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	history, err := s.store.StateHistory(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("state history query failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to query state history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"history":   history,
		"count":     len(history),
	})
}

// commandRequest is the body of POST /devices/{id}/command.
type commandRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

// handleSendCommand routes a command to the device through the hub.
// Delivery failures surface as 502 rather than an error payload so panels
// can distinguish "core rejected it" from "device unreachable".
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	if !s.hub.SendDeviceCommand(r.Context(), id, req.Command, req.Params) {
		writeError(w, http.StatusBadGateway, ErrCodeGateway, "command could not be delivered")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"command":   req.Command,
		"sent":      true,
	})
}

// limitParam parses an optional positive limit query parameter.
func limitParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return limit, nil
}
