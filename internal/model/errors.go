package model

import "errors"

var (
	ErrValidation           = errors.New("validation error")
	ErrConflict             = errors.New("conflict")
	ErrInvalidState         = errors.New("invalid state")
	ErrAIService            = errors.New("ai service error")
	ErrBlockchain           = errors.New("blockchain error")
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// 既に出題中のコントラクトにsetRiddleした時のrevert
	ErrRiddleAlreadyActive = errors.New("riddle already active")
)

// Error is a domain error of one of the kinds above. errors.Is matches the
// kind, errors.Unwrap returns the underlying cause.
type Error struct {
	kind  error
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *Error) Is(target error) bool {
	return target == e.kind
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Kind() error {
	return e.kind
}

// Message returns the message without the cause.
func (e *Error) Message() string {
	return e.msg
}

func NewValidationError(msg string) error {
	return &Error{kind: ErrValidation, msg: msg}
}

func NewConflictError(msg string) error {
	return &Error{kind: ErrConflict, msg: msg}
}

func NewInvalidStateError(msg string) error {
	return &Error{kind: ErrInvalidState, msg: msg}
}

func NewAIServiceError(msg string, cause error) error {
	return &Error{kind: ErrAIService, msg: msg, cause: cause}
}

func NewBlockchainError(msg string, cause error) error {
	return &Error{kind: ErrBlockchain, msg: msg, cause: cause}
}

func NewUnsupportedOperationError(msg string) error {
	return &Error{kind: ErrUnsupportedOperation, msg: msg}
}
