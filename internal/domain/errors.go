package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnknownSession   = errors.New("unknown upload session")
	ErrNotFound         = errors.New("not found")
	ErrIncompleteUpload = errors.New("incomplete upload")
	ErrInvalidMapping   = errors.New("invalid mapping")
	ErrInvalidState     = errors.New("invalid state")
	ErrJobActive        = errors.New("ingest job already active")
	ErrStepConflict     = errors.New("ingest step already in progress")
	ErrTransientStep    = errors.New("transient step failure")
	ErrIngestFailed     = errors.New("unrecoverable ingest failure")
)

// IncompleteUploadError lists the part numbers finalize could not find.
type IncompleteUploadError struct {
	Missing []int
}

func (e *IncompleteUploadError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, n := range e.Missing {
		parts = append(parts, fmt.Sprint(n))
	}
	return fmt.Sprintf("%s: missing parts [%s]", ErrIncompleteUpload, strings.Join(parts, ","))
}

func (e *IncompleteUploadError) Unwrap() error { return ErrIncompleteUpload }

// MappingError reports roles that are required but empty, unknown role keys,
// and mapped columns that are absent from the file header.
type MappingError struct {
	MissingRoles   []string
	UnknownRoles   []string
	UnknownColumns []string
}

func (e *MappingError) Error() string {
	var b strings.Builder
	b.WriteString(ErrInvalidMapping.Error())
	if len(e.MissingRoles) > 0 {
		b.WriteString(": missing roles " + strings.Join(e.MissingRoles, ","))
	}
	if len(e.UnknownRoles) > 0 {
		b.WriteString(": unknown roles " + strings.Join(e.UnknownRoles, ","))
	}
	if len(e.UnknownColumns) > 0 {
		b.WriteString(": columns not in header " + strings.Join(e.UnknownColumns, ","))
	}
	return b.String()
}

func (e *MappingError) Unwrap() error { return ErrInvalidMapping }

// IsStructural reports whether err is a caller error that retrying the same
// call cannot fix.
func IsStructural(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrUnknownSession) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrIncompleteUpload) ||
		errors.Is(err, ErrInvalidMapping) ||
		errors.Is(err, ErrInvalidState)
}

// Error codes carried in API error bodies.
const (
	CodeInvalidInput     = "invalid_input"
	CodeUnknownSession   = "unknown_session"
	CodeNotFound         = "not_found"
	CodeIncompleteUpload = "incomplete_upload"
	CodeInvalidMapping   = "invalid_mapping"
	CodeInvalidState     = "invalid_state"
	CodeJobActive        = "job_active"
	CodeStepConflict     = "step_conflict"
	CodeTransientStep    = "transient_step"
	CodeIngestFailed     = "ingest_failed"
	CodeInternal         = "internal"
)

var codeErrors = []struct {
	code string
	err  error
}{
	{CodeInvalidInput, ErrInvalidInput},
	{CodeUnknownSession, ErrUnknownSession},
	{CodeNotFound, ErrNotFound},
	{CodeIncompleteUpload, ErrIncompleteUpload},
	{CodeInvalidMapping, ErrInvalidMapping},
	{CodeInvalidState, ErrInvalidState},
	{CodeJobActive, ErrJobActive},
	{CodeStepConflict, ErrStepConflict},
	{CodeTransientStep, ErrTransientStep},
	{CodeIngestFailed, ErrIngestFailed},
}

// ErrorCode returns the API code for err, or CodeInternal.
func ErrorCode(err error) string {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeInternal
}

// ErrorForCode returns the sentinel for an API code, or nil if the code is
// unknown.
func ErrorForCode(code string) error {
	for _, ce := range codeErrors {
		if ce.code == code {
			return ce.err
		}
	}
	return nil
}
