package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrPartSizeTooSmall is wrapped by the ConfigurationError returned from SetPartSize.
	ErrPartSizeTooSmall = errors.New("part size is below the minimum")
	// ErrEmptySource is returned for 0 byte sources, multipart backends can not finalize an upload without parts.
	ErrEmptySource = errors.New("source file is empty")
	// ErrSourceChanged means the checkpoint was written for a source of a different size.
	ErrSourceChanged = errors.New("source file changed since the checkpoint was written")
	// ErrAlreadyRunning is returned when Start is called while another Start is in progress on the same Controller.
	ErrAlreadyRunning = errors.New("upload is already running")
)

// ConfigurationError reports an invalid setup. It is raised by the configuring call when possible.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid upload configuration: %s", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// InterruptedError is returned when the upload stopped because of Interrupt or a cancelled context.
// The checkpoint is kept, a later Start resumes.
type InterruptedError struct {
	CompletedParts int
	Err            error
}

func (e *InterruptedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload interrupted after %d parts: %s", e.CompletedParts, e.Err)
	}
	return fmt.Sprintf("upload interrupted after %d parts", e.CompletedParts)
}

func (e *InterruptedError) Unwrap() error {
	return e.Err
}

// AbortedError is returned when the upload stopped because of Abort.
// The checkpoint is removed and the remote transaction cancellation was attempted;
// Err holds the cleanup failure, if any.
type AbortedError struct {
	Err error
}

func (e *AbortedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload aborted: %s", e.Err)
	}
	return "upload aborted"
}

func (e *AbortedError) Unwrap() error {
	return e.Err
}

// BackendError wraps a failure of the part-upload backend.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a checkpoint store failure.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s checkpoint %s: %s", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsInterrupted reports whether err, or any error it wraps, is an InterruptedError.
func IsInterrupted(err error) bool {
	var interrupted *InterruptedError
	return errors.As(err, &interrupted)
}

// IsAborted reports whether err, or any error it wraps, is an AbortedError.
func IsAborted(err error) bool {
	var aborted *AbortedError
	return errors.As(err, &aborted)
}
