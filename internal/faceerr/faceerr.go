// Package faceerr defines the error taxonomy shared by the recognition core.
//
// Callers wrap these sentinels with fmt.Errorf("...: %w", err) and classify
// failures with errors.Is.
package faceerr

import "errors"

var (
	// ErrInvalidInput marks a malformed image, a face count other than one,
	// or an embedding whose dimensionality does not match the gallery.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorage marks a failed file write or delete, or a failed store operation.
	ErrStorage = errors.New("storage error")

	// ErrAlreadyRunning is returned when a retrain is requested while another one is in flight.
	ErrAlreadyRunning = errors.New("retrain already running")

	// ErrNotFound is returned when a person, image or event does not exist.
	ErrNotFound = errors.New("not found")
)
