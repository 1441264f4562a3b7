package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/telemetry-core/internal/audit"
)

// actorAdmin identifies the shared admin credential in audit entries.
const actorAdmin = "admin"

// auditLog queues an audit entry. It is a no-op without a recorder.
func (s *Server) auditLog(action, entityType, entityID, actor string, details map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(&audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actor,
		Source:     "api",
		Details:    details,
	})
}

// handleListAuditLogs returns paginated audit entries with optional filters.
// Admin only.
//
// Query parameters:
//   - action: create, update, delete, issue, revoke, refresh
//   - entity_type: device or api_key
//   - entity_id: filter by specific entity ID
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeNotFound(w, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}
	for param, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeValidationError(w)
			return
		}
		*dst = n
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
