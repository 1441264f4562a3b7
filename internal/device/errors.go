package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when unique names are enforced and the name is taken.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrDeviceHasTelemetry is returned when deleting a device that still has records.
	ErrDeviceHasTelemetry = errors.New("device: has telemetry records")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidDescription is returned when a description is too long.
	ErrInvalidDescription = errors.New("device: invalid description")

	// ErrInvalidNotes is returned when notes exceed the size limits.
	ErrInvalidNotes = errors.New("device: invalid notes")

	// ErrInvalidPagination is returned for a negative offset or limit.
	ErrInvalidPagination = errors.New("device: invalid pagination")
)
