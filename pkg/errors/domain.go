package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Domain error kinds. Services wrap these with %w and handlers map them onto
// AppErrors with FromDomain.
var (
	ErrNotFound            = stderrors.New("not found")
	ErrUnauthorized        = stderrors.New("unauthorized")
	ErrInsufficientBalance = stderrors.New("insufficient tokens")
	ErrValidation          = stderrors.New("validation failed")
	ErrUnavailable         = stderrors.New("upstream unavailable")
)

// Validationf returns an error wrapping ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf returns an error wrapping ErrNotFound naming the missing entity.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// FromDomain converts a service error into the AppError rendered to clients.
// Errors that already are AppErrors pass through unchanged.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	switch {
	case stderrors.Is(err, ErrNotFound):
		return NewNotFoundError(CodeNotFound, err.Error())
	case stderrors.Is(err, ErrUnauthorized):
		return NewUnauthorizedError(CodeUnauthorized, err.Error())
	case stderrors.Is(err, ErrInsufficientBalance):
		return NewPaymentRequiredError(CodeInsufficientTokens, "Insufficient token balance")
	case stderrors.Is(err, ErrValidation):
		return NewBadRequestError(CodeValidation, err.Error())
	case stderrors.Is(err, ErrUnavailable):
		return NewError(http.StatusServiceUnavailable, CodeUnavailable, "The AI service is unavailable, no tokens were charged")
	default:
		// internal details stay in the logs
		return &AppError{
			StatusCode: http.StatusInternalServerError,
			Code:       CodeInternal,
			Message:    "An unexpected error occurred",
			Details:    nil,
			Stack:      err.Error(),
		}
	}
}
