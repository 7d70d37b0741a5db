package protocol

import (
	"errors"
	"fmt"
)

const (
	// Caller bugs; never retried.
	ErrCodeUnknownOperation = "E_UNKNOWN_OPERATION"
	ErrCodeValidation       = "E_VALIDATION"

	// Recoverable; surfaced to the player as a narrative failure.
	ErrCodeNotFound = "E_NOT_FOUND"

	// Storage layer. Safe to retry the whole save.
	ErrCodePersistence = "E_PERSISTENCE"

	// Content changed under a save; never auto-resolved.
	ErrCodeIncompatibleSave = "E_INCOMPATIBLE_SAVE"

	ErrCodeInternal = "E_INTERNAL"
)

var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrPersistence      = errors.New("persistence failure")
	ErrIncompatibleSave = errors.New("incompatible save")
)

var knownCodes = map[string]error{
	ErrCodeUnknownOperation: ErrUnknownOperation,
	ErrCodeValidation:       ErrValidation,
	ErrCodeNotFound:         ErrNotFound,
	ErrCodePersistence:      ErrPersistence,
	ErrCodeIncompatibleSave: ErrIncompatibleSave,
	ErrCodeInternal:         nil,
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Error is the concrete error carried across subsystem boundaries. Kind is one
// of the sentinel errors above; Err is the optional underlying cause.
type Error struct {
	Code string
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func newError(code string, cause error, format string, args ...any) *Error {
	return &Error{
		Code: code,
		Kind: knownCodes[code],
		Msg:  fmt.Sprintf(format, args...),
		Err:  cause,
	}
}

func UnknownOperation(subsystem, operation string) error {
	return newError(ErrCodeUnknownOperation, nil, "unknown operation %s.%s", subsystem, operation)
}

func Validation(format string, args ...any) error {
	return newError(ErrCodeValidation, nil, format, args...)
}

func NotFound(format string, args ...any) error {
	return newError(ErrCodeNotFound, nil, format, args...)
}

// Persistence wraps a storage failure. op names the storage step that failed.
func Persistence(op string, err error) error {
	return newError(ErrCodePersistence, err, "persistence: %s", op)
}

func IncompatibleSave(format string, args ...any) error {
	return newError(ErrCodeIncompatibleSave, nil, format, args...)
}

// CodeOf maps any error to its wire code.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) && pe.Code != "" {
		return pe.Code
	}
	switch {
	case errors.Is(err, ErrUnknownOperation):
		return ErrCodeUnknownOperation
	case errors.Is(err, ErrValidation):
		return ErrCodeValidation
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrPersistence):
		return ErrCodePersistence
	case errors.Is(err, ErrIncompatibleSave):
		return ErrCodeIncompatibleSave
	}
	return ErrCodeInternal
}
