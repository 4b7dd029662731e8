package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"flowplay/internal/apperr"
	"flowplay/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	defaultPage     = 1
	defaultLimit    = 20
	maxLimit        = 100
	maxSearchLength = 1000
	maxJSONBody     = 1 << 20
	maxProfileBody  = 5 << 20 // avatars may be inline images
)

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// respondJSON writes v as JSON with the given status.
func (ms *MusicServer) respondJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ms.logger.WithError(err).Debug("Failed to write response")
	}
}

// respondWithValidationError sends a structured validation error response
func (ms *MusicServer) respondWithValidationError(w http.ResponseWriter, r *http.Request, errs []ValidationError) {
	ms.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"errors": errs,
	}).Warn("Validation failed")

	message := "validation failed"
	if len(errs) > 0 {
		message = errs[0].Message
	}

	ms.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":   message,
		"code":    http.StatusBadRequest,
		"success": false,
		"errors":  errs,
	})
}

// respondWithError sends a structured error response
func (ms *MusicServer) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := ms.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})

	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}

	ms.respondJSON(w, statusCode, map[string]interface{}{
		"error":   message,
		"code":    statusCode,
		"success": false,
	})
}

// respondWithAppError maps a service error onto the response envelope.
// Internal causes are logged, never sent.
func (ms *MusicServer) respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.Internal(err)
	}

	if appErr.Kind == apperr.KindValidation {
		ms.respondWithValidationError(w, r, []ValidationError{{
			Field:   appErr.Field,
			Message: appErr.Message,
			Code:    appErr.Code,
		}})
		return
	}

	ms.respondWithError(w, r, appErr.Kind.HTTPStatus(), appErr.Message, appErr.Err)
}

// decodeJSON strictly decodes a JSON request body into dst. Unknown fields
// and trailing data are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, limit int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &maxErr):
			return apperr.TooLarge("BODY_TOO_LARGE", fmt.Sprintf("request body too large (max %d bytes)", maxErr.Limit))
		case errors.Is(err, io.EOF):
			return apperr.Validation("body", "EMPTY_BODY", "request body is required")
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			return apperr.Validation("body", "INVALID_JSON", "request body is not valid JSON")
		case errors.As(err, &typeErr):
			return apperr.Validation(typeErr.Field, "INVALID_FIELD_TYPE", fmt.Sprintf("field %q has the wrong type", typeErr.Field))
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
			return apperr.Validation(field, "UNKNOWN_FIELD", fmt.Sprintf("unknown field %q", field))
		default:
			return apperr.Validation("body", "INVALID_JSON", "request body is not valid JSON")
		}
	}

	if dec.More() {
		return apperr.Validation("body", "INVALID_JSON", "request body must contain a single JSON object")
	}
	return nil
}

// parsePage reads page and limit query parameters.
func parsePage(r *http.Request) (models.Page, *ValidationError) {
	q := r.URL.Query()
	page := models.Page{Number: defaultPage, Size: defaultLimit}

	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return page, &ValidationError{
				Field:   "page",
				Message: "page must be a positive integer",
				Code:    "INVALID_PAGE",
			}
		}
		page.Number = n
	}

	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return page, &ValidationError{
				Field:   "limit",
				Message: "limit must be a positive integer",
				Code:    "INVALID_LIMIT",
			}
		}
		if n > maxLimit {
			n = maxLimit
		}
		page.Size = n
	}

	return page, nil
}

// validateSearchQuery validates search query parameters
func validateSearchQuery(field, query string) *ValidationError {
	if len(query) > maxSearchLength {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s too long (max %d characters)", field, maxSearchLength),
			Code:    "SEARCH_QUERY_TOO_LONG",
		}
	}

	if strings.Contains(query, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s contains invalid characters", field),
			Code:    "INVALID_SEARCH_CHARACTERS",
		}
	}

	return nil
}

// sanitizeInput removes null bytes and surrounding whitespace
func sanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
