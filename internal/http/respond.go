package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ricorrenze/internal/core"
	"ricorrenze/internal/recurrence"
	"ricorrenze/internal/services"
	"ricorrenze/internal/storage"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	payload    any
	headers    map[string]string
}

func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

func (b *JSONResponseBuilder) Body(payload any) *JSONResponseBuilder {
	b.payload = payload
	return b
}

func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	if b.payload != nil {
		_ = json.NewEncoder(w).Encode(b.payload)
	}
}

type errorPayload struct {
	Error string `json:"error"`
}

type badRequestError struct {
	msg string
}

func (e badRequestError) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return badRequestError{msg: fmt.Sprintf(format, args...)}
}

func writeBadRequest(w http.ResponseWriter, err error) {
	ErrorResponse(http.StatusBadRequest, err.Error()).Write(w)
}

// ErrorResponse creates a JSON error response with the given status.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(errorPayload{Error: message})
}

// MethodNotAllowed writes a 405 with the Allow header set.
func MethodNotAllowed(w http.ResponseWriter, allowedMethods string) {
	NewJSONResponse().
		Status(http.StatusMethodNotAllowed).
		Header("Allow", allowedMethods).
		Body(errorPayload{Error: "method not allowed"}).
		Write(w)
}

// validationErrors are the domain sentinels that mean the request payload
// was well-formed but semantically wrong.
var validationErrors = []error{
	core.ErrInvalidDate,
	core.ErrInvalidAmount,
	core.ErrInvalidFrequency,
	core.ErrInvalidKind,
	core.ErrEmptyDescription,
	core.ErrEmptyPrimary,
	core.ErrEmptySecondary,
	core.ErrEmptySource,
}

// writeServiceError maps service and storage errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrSeriesNotFound):
		ErrorResponse(http.StatusNotFound, err.Error()).Write(w)
	case errors.Is(err, storage.ErrDuplicatePeriod):
		ErrorResponse(http.StatusConflict, err.Error()).Write(w)
	case errors.Is(err, services.ErrSeriesEnded),
		errors.Is(err, recurrence.ErrSeriesInactive),
		errors.Is(err, recurrence.ErrNotDue):
		ErrorResponse(http.StatusConflict, err.Error()).Write(w)
	case isValidationError(err):
		ErrorResponse(http.StatusUnprocessableEntity, err.Error()).Write(w)
	default:
		ErrorResponse(http.StatusInternalServerError, "internal error").Write(w)
	}
}

func isValidationError(err error) bool {
	for _, sentinel := range validationErrors {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
