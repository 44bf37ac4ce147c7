package usecase

import (
	"context"
	"errors"
	"fmt"

	"therapy-service/internal/domain"
	"therapy-service/internal/store"
)

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorNotFound     ErrorCode = "NOT_FOUND"
	ErrorConflict     ErrorCode = "CONFLICT"
	ErrorInvalidState ErrorCode = "INVALID_STATE"
	ErrorStore        ErrorCode = "STORE_ERROR"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether the caller may repeat the operation with backoff.
func (e *Error) Retryable() bool {
	if e == nil || e.Code != ErrorStore {
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var opErr *store.OpError
	return errors.As(e.Err, &opErr) && opErr.Retryable()
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// classify maps a repository failure onto an Error. subject names what the
// operation was about and prefixes the reason, e.g. "mapping_request_not_found".
func classify(subject string, err error) error {
	if err == nil {
		return nil
	}
	var ue *Error
	if errors.As(err, &ue) {
		return err
	}
	switch {
	case errors.Is(err, domain.ErrValidation):
		return newError(ErrorInvalidInput, "invalid_"+subject, err)
	case errors.Is(err, domain.ErrNotFound):
		return newError(ErrorNotFound, subject+"_not_found", err)
	case errors.Is(err, domain.ErrInvalidState):
		return newError(ErrorInvalidState, subject+"_already_decided", err)
	case errors.Is(err, domain.ErrConflict):
		return newError(ErrorConflict, subject+"_conflict", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newError(ErrorStore, "store_timeout", err)
	}
	var opErr *store.OpError
	if errors.As(err, &opErr) {
		return newError(ErrorStore, "store_error", err)
	}
	return newError(ErrorInternal, subject+"_failed", err)
}
