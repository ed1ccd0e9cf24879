package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorType int

const (
	// ErrInvalidDocument: the input is not a JSON object or array, or two
	// of its values share one key path.
	ErrInvalidDocument ErrorType = iota
	// ErrProvider is absorbed by the escalation chain and never fails a job.
	ErrProvider
	// ErrRestore is absorbed into the failure sentinel.
	ErrRestore
	// ErrPipeline fails the job.
	ErrPipeline
	ErrNotFound
	ErrValidation
	ErrConfig
	ErrFileRead
	ErrFileWrite
)

func (t ErrorType) String() string {
	switch t {
	case ErrInvalidDocument:
		return "InvalidDocument"
	case ErrProvider:
		return "Provider"
	case ErrRestore:
		return "Restore"
	case ErrPipeline:
		return "Pipeline"
	case ErrNotFound:
		return "NotFound"
	case ErrValidation:
		return "Validation"
	case ErrConfig:
		return "Config"
	case ErrFileRead:
		return "FileRead"
	case ErrFileWrite:
		return "FileWrite"
	default:
		return "Unknown"
	}
}

type TransError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *TransError {
	return &TransError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func WrapError(err error, errorType ErrorType, message string) *TransError {
	e := NewError(errorType, message)
	e.Cause = err
	return e
}

func (e *TransError) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Type, e.Message)}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}
	return strings.Join(parts, " | ")
}

func (e *TransError) Unwrap() error {
	return e.Cause
}

func (e *TransError) WithContext(key string, value any) *TransError {
	e.Context[key] = value
	return e
}

func IsErrorType(err error, errorType ErrorType) bool {
	var te *TransError
	if errors.As(err, &te) {
		return te.Type == errorType
	}
	return false
}
