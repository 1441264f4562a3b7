package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

var errTrailingData = errors.New("unexpected data after JSON body")

// decodeBody reads one JSON value into dst and runs struct validation.
func (s *Server) decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errTrailingData
	}
	return s.validate.Struct(dst)
}

// pageQuery is the parsed offset/limit pair of a list request.
type pageQuery struct {
	Offset int `validate:"gte=0"`
	Limit  int `validate:"gte=1"`
}

// parsePage reads offsetParam and limit from the query string. Limits above
// the configured maximum are clamped. A negative offset, a limit below one
// and non-integers fail.
func (s *Server) parsePage(r *http.Request, offsetParam string, defaultLimit int) (pageQuery, error) {
	q := r.URL.Query()
	page := pageQuery{Limit: defaultLimit}

	if v := q.Get(offsetParam); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page, err
		}
		page.Offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page, err
		}
		page.Limit = n
	}

	if err := s.validate.Struct(page); err != nil {
		return page, err
	}
	page.Limit = min(page.Limit, s.paging.MaxPageSize)
	return page, nil
}

// rejectInvalid logs the detail of a malformed request and writes the generic 422.
func (s *Server) rejectInvalid(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Debug("invalid request",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
		"request_id", requestIDFrom(r.Context()),
	)
	writeValidationError(w)
}
