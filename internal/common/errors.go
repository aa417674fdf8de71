package common

import (
	"errors"
	"fmt"
)

// Error codes carried by AppError. Only CodeConfig halts a batch run.
const (
	CodeConfig       = "CONFIG_ERROR"
	CodeProvider     = "PROVIDER_ERROR"
	CodeParse        = "PARSE_ERROR"
	CodeStorage      = "STORAGE_ERROR"
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidState = "INVALID_STATE"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match an AppError against the sentinel for its code.
func (e *AppError) Is(target error) bool {
	s, ok := sentinels[e.Code]
	return ok && s == target
}

// Common application errors
var (
	ErrConfiguration = errors.New("invalid configuration")
	ErrProvider      = errors.New("model provider failure")
	ErrParse         = errors.New("unparsable model response")
	ErrStorage       = errors.New("storage failure")
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidState  = errors.New("invalid state transition")
	ErrInvalidInput  = errors.New("invalid input")
)

var sentinels = map[string]error{
	CodeConfig:       ErrConfiguration,
	CodeProvider:     ErrProvider,
	CodeParse:        ErrParse,
	CodeStorage:      ErrStorage,
	CodeValidation:   ErrValidation,
	CodeNotFound:     ErrNotFound,
	CodeInvalidState: ErrInvalidState,
}

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func ConfigErrorf(format string, args ...any) error {
	return NewAppError(CodeConfig, fmt.Sprintf(format, args...), nil)
}

func ProviderError(cause error, message string) error {
	return NewAppError(CodeProvider, message, cause)
}

func ParseError(cause error, message string) error {
	return NewAppError(CodeParse, message, cause)
}

func StorageError(cause error, message string) error {
	return NewAppError(CodeStorage, message, cause)
}

func ValidationErrorf(format string, args ...any) error {
	return NewAppError(CodeValidation, fmt.Sprintf(format, args...), nil)
}

func NotFoundf(format string, args ...any) error {
	return NewAppError(CodeNotFound, fmt.Sprintf(format, args...), nil)
}

func InvalidStatef(format string, args ...any) error {
	return NewAppError(CodeInvalidState, fmt.Sprintf(format, args...), nil)
}

// CodeOf returns the code of the outermost AppError in err's chain, or "".
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
