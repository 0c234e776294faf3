package usecase

import (
	"errors"
	"fmt"

	"semantic-chat/internal/domain"
)

type ErrorCode string

const (
	ErrorInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	ErrorNotFound        ErrorCode = "NOT_FOUND"
	ErrorConflict        ErrorCode = "CONFLICT"
	ErrorDependency      ErrorCode = "DEPENDENCY_FAILURE"
	// ErrorPartialTurn means the prompt was persisted but the turn never
	// completed; the message stays drafted.
	ErrorPartialTurn ErrorCode = "PARTIAL_TURN_FAILURE"
	ErrorInternal    ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
	// MessageID is set for partial turn failures.
	MessageID string
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

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// storeError classifies a store failure by its sentinel.
func storeError(reason string, err error) *Error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return newError(ErrorNotFound, reason, err)
	case errors.Is(err, domain.ErrConflict):
		return newError(ErrorConflict, reason, err)
	default:
		return newError(ErrorDependency, reason, err)
	}
}

func partialTurnError(messageID, reason string, err error) *Error {
	return &Error{Code: ErrorPartialTurn, Reason: reason, Err: err, MessageID: messageID}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrorInternal when there is none.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) && ue != nil {
		return ue.Code
	}
	return ErrorInternal
}
