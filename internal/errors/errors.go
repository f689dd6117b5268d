// Package errors defines the error categories used by the persistence engine
// and the rules that decide whether a failed store call may be retried.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType defines different categories of errors
type ErrorType string

const (
	ErrorTypeInvalidRecord  ErrorType = "INVALID_RECORD"
	ErrorTypeTransientStore ErrorType = "TRANSIENT_STORE"
	ErrorTypeValidation     ErrorType = "VALIDATION"
	ErrorTypeInternal       ErrorType = "INTERNAL"
)

// AppError is the custom error type for the application
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidRecord reports a record that cannot produce a filter or document.
func NewInvalidRecord(message string) error {
	return &AppError{
		Type:    ErrorTypeInvalidRecord,
		Message: message,
	}
}

// NewTransientStore wraps a failed store call that may succeed when repeated.
func NewTransientStore(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeTransientStore,
		Message: message,
		Err:     err,
	}
}

// NewValidation creates a validation error
func NewValidation(message string) error {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewInternal creates an internal error
func NewInternal(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, preserve the type
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Type:    appErr.Type,
			Message: fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:     appErr.Err,
		}
	}

	return NewInternal(message, err)
}

// TypeOf returns the category of err, or an empty type for foreign errors.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsInvalidRecord checks if an error is an invalid record error
func IsInvalidRecord(err error) bool {
	return TypeOf(err) == ErrorTypeInvalidRecord
}

// IsTransientStore checks if an error is a transient store error
func IsTransientStore(err error) bool {
	return TypeOf(err) == ErrorTypeTransientStore
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

// IsInternal checks if an error is an internal error
func IsInternal(err error) bool {
	return TypeOf(err) == ErrorTypeInternal
}
