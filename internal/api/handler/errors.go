package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/assetingest/internal/api/middleware"
	"github.com/timmy/assetingest/internal/domain"
)

var codeStatus = map[string]int{
	domain.CodeInvalidInput:     http.StatusBadRequest,
	domain.CodeInvalidMapping:   http.StatusBadRequest,
	domain.CodeUnknownSession:   http.StatusNotFound,
	domain.CodeNotFound:         http.StatusNotFound,
	domain.CodeIncompleteUpload: http.StatusConflict,
	domain.CodeInvalidState:     http.StatusConflict,
	domain.CodeJobActive:        http.StatusConflict,
	domain.CodeStepConflict:     http.StatusConflict,
	domain.CodeTransientStep:    http.StatusServiceUnavailable,
	domain.CodeIngestFailed:     http.StatusUnprocessableEntity,
}

// StatusFor maps a domain error code to its HTTP status.
func StatusFor(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes the {"error","code"} body for err. Incomplete uploads
// carry the missing part numbers and mapping errors carry the offending roles.
func respondError(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	status := StatusFor(code)

	body := gin.H{"error": err.Error(), "code": code}

	var incomplete *domain.IncompleteUploadError
	if errors.As(err, &incomplete) {
		body["missing"] = incomplete.Missing
	}
	var merr *domain.MappingError
	if errors.As(err, &merr) {
		if len(merr.MissingRoles) > 0 {
			body["missing_roles"] = merr.MissingRoles
		}
		if len(merr.UnknownRoles) > 0 {
			body["unknown_roles"] = merr.UnknownRoles
		}
		if len(merr.UnknownColumns) > 0 {
			body["unknown_columns"] = merr.UnknownColumns
		}
	}

	log := middleware.GetLogger(c)
	if status >= http.StatusInternalServerError {
		log.WithError(err).Errorf("Request failed: code=%s", code)
	} else {
		log.Debugf("Request rejected: code=%s, error=%v", code, err)
	}
	c.JSON(status, body)
}

func invalidInput(c *gin.Context, msg string) {
	respondError(c, fmt.Errorf("%s: %w", msg, domain.ErrInvalidInput))
}
