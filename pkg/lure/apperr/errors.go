// Package apperr defines the error categories surfaced by lure operations and
// maps them onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Category is a stable, caller-visible error class.
type Category string

const (
	CategoryValidation      Category = "validation"
	CategoryNotFound        Category = "not_found"
	CategoryExternalService Category = "external_service"
	CategoryFetch           Category = "fetch"
	CategoryPersistence     Category = "persistence"
	CategoryStructural      Category = "structural"
	CategoryInternal        Category = "internal"
)

// Sentinel errors for errors.Is checks
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrExternalService = errors.New("external service failure")
	ErrFetch           = errors.New("fetch failed")
	ErrPersistence     = errors.New("persistence failure")
	ErrStructural      = errors.New("structural error")
)

// Error carries a category, a message safe to show in debug mode, and the cause.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an *Error against the sentinel of its category.
func (e *Error) Is(target error) bool {
	return sentinelFor(e.Category) == target
}

func sentinelFor(c Category) error {
	switch c {
	case CategoryValidation:
		return ErrValidation
	case CategoryNotFound:
		return ErrNotFound
	case CategoryExternalService:
		return ErrExternalService
	case CategoryFetch:
		return ErrFetch
	case CategoryPersistence:
		return ErrPersistence
	case CategoryStructural:
		return ErrStructural
	}
	return nil
}

func newError(c Category, err error, format string, args ...any) *Error {
	return &Error{Category: c, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validation reports missing or invalid input. Not retryable.
func Validation(format string, args ...any) *Error {
	return newError(CategoryValidation, nil, format, args...)
}

// InvalidBody reports a request body that failed to bind. The binding error is
// kept as the cause, so only debug responses show it.
func InvalidBody(err error) *Error {
	return newError(CategoryValidation, err, "invalid request body")
}

// NotFound reports an unknown tracking link, content item, or similar.
func NotFound(format string, args ...any) *Error {
	return newError(CategoryNotFound, nil, format, args...)
}

// ExternalService wraps an annotation or publish failure.
func ExternalService(err error, format string, args ...any) *Error {
	return newError(CategoryExternalService, err, format, args...)
}

// Fetch wraps an asset download failure.
func Fetch(err error, format string, args ...any) *Error {
	return newError(CategoryFetch, err, format, args...)
}

// Persistence wraps a non-duplicate store failure.
func Persistence(err error, format string, args ...any) *Error {
	return newError(CategoryPersistence, err, format, args...)
}

// Structural reports a malformed upload, e.g. an archive without an entry document.
func Structural(format string, args ...any) *Error {
	return newError(CategoryStructural, nil, format, args...)
}

// CategoryOf returns the category of err, or CategoryInternal if err carries none.
func CategoryOf(err error) Category {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Category
	}
	return CategoryInternal
}

// HTTPStatus maps an error to the status code returned to callers.
func HTTPStatus(err error) int {
	switch CategoryOf(err) {
	case CategoryValidation, CategoryStructural:
		return http.StatusBadRequest
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryExternalService, CategoryFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var genericMessages = map[Category]string{
	CategoryValidation:      "Invalid request",
	CategoryNotFound:        "Resource not found",
	CategoryExternalService: "Upstream service unavailable",
	CategoryFetch:           "Asset download failed",
	CategoryPersistence:     "Internal server error",
	CategoryStructural:      "Upload rejected",
	CategoryInternal:        "Internal server error",
}

// Respond writes err as a JSON error body. Outside debug mode the message is the
// generic text for the category; validation messages are always shown since they
// describe the caller's own input.
func Respond(c *gin.Context, err error, debug bool) {
	category := CategoryOf(err)
	message := genericMessages[category]
	if debug || category == CategoryValidation {
		var appErr *Error
		if errors.As(err, &appErr) {
			message = appErr.Message
		}
		if debug {
			message = err.Error()
		}
	}
	c.JSON(HTTPStatus(err), gin.H{
		"error":   string(category),
		"message": message,
	})
}
