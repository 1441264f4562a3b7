package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ingestRequest is the body of POST /data.
type ingestRequest struct {
	Data json.RawMessage `json:"data" validate:"required"`
}

// ingestResponse acknowledges a stored record.
type ingestResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// handleIngest stores a telemetry payload for the device named in
// X-Device-Id, authenticated by X-API-Key.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	rawKey, deviceID := deviceCredentials(r)

	// A malformed body still goes through Ingest with no data so that an
	// unknown device (404) or bad credentials (401) report before the
	// payload is judged.
	var req ingestRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.logger.Debug("invalid ingest body", "error", err, "request_id", requestIDFrom(r.Context()))
		req.Data = nil
	}

	rec, err := s.ingestor.Ingest(r.Context(), deviceID, rawKey, req.Data)
	s.metrics.observeIngest(err)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ingestResponse{Status: "ok", ID: rec.ID})
}

// handleGetRecord returns one stored record.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ingestor.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListRecords returns a page of a device's records, oldest first.
//
// Query parameters:
//   - skip: rows to skip (default 0)
//   - limit: page size (default registry.telemetry_page_size)
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	page, err := s.parsePage(r, "skip", s.paging.TelemetryPageSize)
	if err != nil {
		s.rejectInvalid(w, r, err)
		return
	}

	records, err := s.ingestor.ListRecords(r.Context(), chi.URLParam(r, "device_id"), page.Offset, page.Limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
