package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// AppError is an error that is safe to show to the user.
// Code is the HTTP status it maps to.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func BadRequest(format string, args ...any) *AppError {
	return New(http.StatusBadRequest, fmt.Sprintf(format, args...))
}

func Unauthorized(msg string) *AppError {
	return New(http.StatusUnauthorized, msg)
}

func Forbidden(msg string) *AppError {
	return New(http.StatusForbidden, msg)
}

func NotFound(msg string) *AppError {
	return New(http.StatusNotFound, msg)
}

var (
	ErrUnauthorized = Unauthorized("Unauthorized")
	ErrForbidden    = Forbidden("Access denied")
	ErrNotFound     = NotFound("Not found")
	ErrRateLimit    = New(http.StatusTooManyRequests, "Too many requests, slow down")
	ErrInternal     = New(http.StatusInternalServerError, "internal error")
)

// As extracts an AppError from err, if there is one.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Message returns the user-facing message for err.
func Message(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Message
	}
	return ErrInternal.Message
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks v against its `validate` struct tags and converts the first
// failure into a BadRequest with a human readable message.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return BadRequest("invalid request")
	}
	return BadRequest("%s", fieldMessage(verrs[0]))
}

func fieldMessage(fe validator.FieldError) string {
	field := humanize(fe.Field())
	switch fe.ActualTag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return "Please enter a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "eqfield":
		return "Passwords do not match"
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// humanize turns "DisplayName" into "Display name".
func humanize(field string) string {
	var b strings.Builder
	for i, r := range field {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
