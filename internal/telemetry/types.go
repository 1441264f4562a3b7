package telemetry

import (
	"encoding/json"
	"errors"
	"time"
)

// Record is one stored telemetry submission.
type Record struct {
	ID        string          `json:"id"`
	DeviceID  string          `json:"device_id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_date"`
}

// Fields decodes the record data into a map.
func (r *Record) Fields() (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(r.Data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Domain errors for the telemetry package.
var (
	// ErrRecordNotFound is returned when a record ID does not exist.
	ErrRecordNotFound = errors.New("telemetry: record not found")

	// ErrInvalidPayload is returned when data is not a JSON object.
	ErrInvalidPayload = errors.New("telemetry: data must be a JSON object")

	// ErrInvalidPagination is returned for a negative skip or limit.
	ErrInvalidPagination = errors.New("telemetry: invalid pagination")
)
