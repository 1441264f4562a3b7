package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/telemetry-core/internal/audit"
)

// revokedMessage is the body of a successful revoke.
const revokedMessage = "API key revoked successfully"

// handleIssueKey creates the device's key and returns the raw secret once.
// Admin only.
func (s *Server) handleIssueKey(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	issued, err := s.keys.Issue(r.Context(), deviceID)
	s.metrics.observeKeyOp("issue", err)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.auditLog(audit.ActionIssue, audit.EntityAPIKey, deviceID, actorAdmin, map[string]any{"key_id": issued.ID})
	writeJSON(w, http.StatusCreated, issued)
}

// handleRevokeKey revokes a device's key. Admin only, and the request must
// also carry the key being revoked in the device headers.
func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	rawKey, deviceID := deviceCredentials(r)

	key, err := s.keys.Revoke(r.Context(), rawKey, deviceID)
	s.metrics.observeKeyOp("revoke", err)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.auditLog(audit.ActionRevoke, audit.EntityAPIKey, deviceID, actorAdmin, map[string]any{"key_id": key.ID})
	writeJSON(w, http.StatusOK, map[string]string{"message": revokedMessage})
}

// handleRefreshKey replaces the device's secret and re-activates the key.
// Admin only.
func (s *Server) handleRefreshKey(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	issued, err := s.keys.Refresh(r.Context(), deviceID)
	s.metrics.observeKeyOp("refresh", err)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.auditLog(audit.ActionRefresh, audit.EntityAPIKey, deviceID, actorAdmin, map[string]any{"key_id": issued.ID})
	writeJSON(w, http.StatusOK, issued)
}
