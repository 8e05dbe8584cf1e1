package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every pipeline failure matches exactly one of these with
// errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrNetwork    = errors.New("network error")
	ErrAuth       = errors.New("auth error")
	ErrServer     = errors.New("server error")
	ErrWrite      = errors.New("write error")
	ErrRead       = errors.New("read error")
)

// Retryable reports whether the failed operation may be repeated unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// ServiceError is a rejection reported by the processing service.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("processing service rejected request: status %d", e.StatusCode)
	}
	return fmt.Sprintf("processing service rejected request: status %d: %s", e.StatusCode, e.Message)
}

func (e *ServiceError) Is(target error) bool {
	return target == ErrServer
}

// RecordFailure names one record that could not be persisted.
type RecordFailure struct {
	Kind     ImageKind
	ImageURL string
	Err      error
}

// WriteError lists the records of one upload that were not persisted. The
// upload itself already succeeded, so the bytes exist server-side.
type WriteError struct {
	Failures []RecordFailure
	Written  int
}

func (e *WriteError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s %s: %v", f.Kind, f.ImageURL, f.Err))
	}
	return fmt.Sprintf("persist records: %d written, %d failed: %s", e.Written, len(e.Failures), strings.Join(parts, "; "))
}

func (e *WriteError) Is(target error) bool {
	return target == ErrWrite
}

func (e *WriteError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Partial reports whether at least one record of the upload was written.
func (e *WriteError) Partial() bool {
	return e.Written > 0
}
