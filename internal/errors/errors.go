package errors

import "errors"

// This package defines a centralized set of sentinel errors for the application.
// Services wrap these with context (fmt.Errorf("%w: ...")) and the API layer
// uses errors.Is() to map them to HTTP responses.

var (
	// ErrNotFound signifies that a requested resource could not be located.
	// Mapped to 404 Not Found.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation signifies that input data provided by a client failed
	// business rule validation.
	// Mapped to 400 Bad Request.
	ErrValidation = errors.New("validation failed")

	// ErrConflict signifies that an operation conflicts with the current
	// state of a resource.
	// Mapped to 409 Conflict.
	ErrConflict = errors.New("resource conflict")

	// ErrPermission signifies that the caller may not perform the action.
	// Mapped to 403 Forbidden.
	ErrPermission = errors.New("permission denied")

	// ErrProviderUnavailable signifies that an LLM provider could not be
	// reached, rejected the request, or is missing required credentials.
	// Mapped to 502 Bad Gateway.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrInternal signifies an unexpected error on the server.
	// Mapped to 500 Internal Server Error.
	ErrInternal = errors.New("internal server error")
)
