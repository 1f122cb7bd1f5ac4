package client

import (
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/assetingest/internal/domain"
)

// apiError is the server's error body.
type apiError struct {
	Error          string   `json:"error"`
	Code           string   `json:"code"`
	Missing        []int    `json:"missing"`
	MissingRoles   []string `json:"missing_roles"`
	UnknownRoles   []string `json:"unknown_roles"`
	UnknownColumns []string `json:"unknown_columns"`
}

// Error is a non-2xx response. It unwraps to the domain sentinel for its
// code, so errors.Is works across the wire.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return domain.ErrorForCode(e.Code)
}

// responseError converts a failed response into a typed error. Incomplete
// uploads and mapping errors are rebuilt as their domain types.
func responseError(resp *resty.Response) error {
	body, _ := resp.Error().(*apiError)
	if body == nil {
		body = &apiError{}
	}

	switch body.Code {
	case domain.CodeIncompleteUpload:
		if len(body.Missing) > 0 {
			return &domain.IncompleteUploadError{Missing: body.Missing}
		}
	case domain.CodeInvalidMapping:
		if len(body.MissingRoles)+len(body.UnknownRoles)+len(body.UnknownColumns) > 0 {
			return &domain.MappingError{
				MissingRoles:   body.MissingRoles,
				UnknownRoles:   body.UnknownRoles,
				UnknownColumns: body.UnknownColumns,
			}
		}
	}
	return &Error{StatusCode: resp.StatusCode(), Code: body.Code, Message: body.Error}
}
