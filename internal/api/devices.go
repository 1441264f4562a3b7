package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/telemetry-core/internal/audit"
	"github.com/nerrad567/telemetry-core/internal/device"
)

// createDeviceRequest is the body of POST /devices.
type createDeviceRequest struct {
	Name        string         `json:"name" validate:"required,max=255"`
	Description *string        `json:"description" validate:"omitempty,max=1024"`
	Notes       map[string]any `json:"notes"`
}

// updateDeviceRequest is the body of PUT /devices/{id}. Absent fields are kept.
type updateDeviceRequest struct {
	Name        *string        `json:"name" validate:"omitempty,max=255"`
	Description *string        `json:"description" validate:"omitempty,max=1024"`
	Notes       map[string]any `json:"notes"`
}

// handleListDevices returns a page of devices in insertion order.
//
// Query parameters:
//   - offset: rows to skip (default 0)
//   - limit: page size (default registry.default_page_size)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	page, err := s.parsePage(r, "offset", s.paging.DefaultPageSize)
	if err != nil {
		s.rejectInvalid(w, r, err)
		return
	}

	devices, err := s.devices.ListDevices(r.Context(), page.Offset, page.Limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.devices.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleCreateDevice registers a new device. Admin only.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.rejectInvalid(w, r, err)
		return
	}

	dev := &device.Device{
		Name:        req.Name,
		Description: req.Description,
		Notes:       req.Notes,
	}
	if err := s.devices.CreateDevice(r.Context(), dev); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.auditLog(audit.ActionCreate, audit.EntityDevice, dev.ID, actorAdmin, map[string]any{"name": dev.Name})
	writeJSON(w, http.StatusCreated, dev)
}

// handleUpdateDevice applies a partial update. Admin only.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var req updateDeviceRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.rejectInvalid(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	dev, err := s.devices.UpdateDevice(r.Context(), id, device.Patch{
		Name:        req.Name,
		Description: req.Description,
		Notes:       req.Notes,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.auditLog(audit.ActionUpdate, audit.EntityDevice, id, actorAdmin, nil)
	writeJSON(w, http.StatusOK, dev)
}

// handleDeleteDevice removes a device and its key. Devices with stored
// telemetry are refused with 409. Admin only.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.devices.DeleteDevice(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.auditLog(audit.ActionDelete, audit.EntityDevice, id, actorAdmin, nil)
	w.WriteHeader(http.StatusNoContent)
}
