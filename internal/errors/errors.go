package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError carrying the same code. This lets
// callers match error kinds with errors.Is(err, ErrOrdering).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	CodeConfiguration           = "CONFIGURATION_ERROR"
	CodeOrdering                = "ORDERING_ERROR"
	CodeIncompleteTrial         = "INCOMPLETE_TRIAL"
	CodeConstraintUnsatisfiable = "CONSTRAINT_UNSATISFIABLE"
	CodeDeviceUnavailable       = "DEVICE_UNAVAILABLE"
	CodeTrialState              = "TRIAL_STATE"
	CodeInvalidInput            = "INVALID_INPUT"
	CodeInternal                = "INTERNAL_ERROR"
)

// Kind sentinels, for use with errors.Is.
var (
	ErrConfiguration           = &AppError{Code: CodeConfiguration, Message: "configuration error"}
	ErrOrdering                = &AppError{Code: CodeOrdering, Message: "event ordering error"}
	ErrIncompleteTrial         = &AppError{Code: CodeIncompleteTrial, Message: "incomplete trial"}
	ErrConstraintUnsatisfiable = &AppError{Code: CodeConstraintUnsatisfiable, Message: "trial ordering constraint unsatisfiable"}
	ErrDeviceUnavailable       = &AppError{Code: CodeDeviceUnavailable, Message: "device unavailable"}
	ErrTrialState              = &AppError{Code: CodeTrialState, Message: "invalid trial state transition"}
	ErrInvalidInput            = &AppError{Code: CodeInvalidInput, Message: "invalid input"}
)

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message
func Newf(code, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   err,
		}
	}
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error. A bare AppError has its
// code replaced; a wrapped chain is kept as the cause.
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// GetCode returns the code of the first AppError in the chain, otherwise "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// Common error constructors

func Configuration(format string, args ...interface{}) *AppError {
	return Newf(CodeConfiguration, format, args...)
}

func Ordering(format string, args ...interface{}) *AppError {
	return Newf(CodeOrdering, format, args...)
}

func IncompleteTrial(format string, args ...interface{}) *AppError {
	return Newf(CodeIncompleteTrial, format, args...)
}

func ConstraintUnsatisfiable(format string, args ...interface{}) *AppError {
	return Newf(CodeConstraintUnsatisfiable, format, args...)
}

// DeviceUnavailable translates a link or SDK failure into the device error kind.
func DeviceUnavailable(cause error, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    CodeDeviceUnavailable,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

func TrialState(format string, args ...interface{}) *AppError {
	return Newf(CodeTrialState, format, args...)
}

func InvalidInput(format string, args ...interface{}) *AppError {
	return Newf(CodeInvalidInput, format, args...)
}
