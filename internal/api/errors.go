package api

import (
	"errors"
	"log/slog"
	"net/http"
)

// AppError is an error with a status code and a message safe to show to
// admin API callers.
type AppError struct {
	Code    int
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

var ErrInternalServer = &AppError{Code: http.StatusInternalServerError, Message: "internal server error"}

func NewBadRequestError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

// NewValidationError wraps validator output; it maps to 422 so callers can
// tell a malformed body from a semantically invalid one.
func NewValidationError(msg string) *AppError {
	return &AppError{Code: http.StatusUnprocessableEntity, Message: msg}
}

// HandleError writes err as a JSON error body. Anything that is not an
// AppError is logged and hidden behind a 500.
func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		JSONError(w, appErr.Code, appErr.Message)
		return
	}
	slog.Error("unhandled admin api error", "error", err)
	JSONError(w, http.StatusInternalServerError, ErrInternalServer.Message)
}
