package device

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validation limits.
const (
	MaxNameLength        = 255
	MaxDescriptionLength = 1024

	// maxNotesBytes bounds the encoded notes object.
	maxNotesBytes = 64 * 1024
)

// ValidateDevice checks the fields a caller may set.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if d.Description != nil {
		if err := ValidateDescription(*d.Description); err != nil {
			return err
		}
	}
	return ValidateNotes(d.Notes)
}

// ValidateName requires a non-blank name of at most MaxNameLength characters.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, MaxNameLength)
	}
	return nil
}

// ValidateDescription limits the description length.
func ValidateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidDescription, MaxDescriptionLength)
	}
	return nil
}

// ValidateNotes checks that notes encode to a reasonably sized JSON object.
func ValidateNotes(notes map[string]any) error {
	if notes == nil {
		return nil
	}
	b, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNotes, err) //nolint:errorlint // only the sentinel is matched
	}
	if len(b) > maxNotesBytes {
		return fmt.Errorf("%w: notes exceed %d bytes", ErrInvalidNotes, maxNotesBytes)
	}
	return nil
}
