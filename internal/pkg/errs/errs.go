/*
Package errs provides custom error types and application-level error code constants.

This file defines the CustomError struct, which implements the standard Go error interface
and carries a business code, a readable message, an HTTP status code and an optional cause.
*/
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"dogechat/internal/pkg/logx"
)

// CustomError is the custom error structure used throughout the application.
type CustomError struct {
	// Code is the business error code (see constants definition).
	Code int

	// Message is the human readable error description.
	Message string

	// Status is the HTTP status code used when the error is reported over HTTP.
	Status int

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the standard Go error interface.
func (e *CustomError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("error code %d: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("error code %d: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause so errors.Is and errors.As see through a CustomError.
func (e *CustomError) Unwrap() error {
	return e.Err
}

// NewError constructs a new *CustomError based on a predefined error code.
// The optional details are printf arguments for the message template. Templates with a
// placeholder and no details get "unspecified". Unknown codes fall back to ErrUnknown.
func NewError(code int, details ...any) *CustomError {
	templateErr, ok := errorMap[code]

	if !ok {
		logx.Error(
			fmt.Errorf("attempted to create an error with an unknown code in errorMap"),
			"Unknown error code requested",
			"requested_code", code,
		)

		unknownErr := errorMap[ErrUnknown]
		return &unknownErr
	}

	customErr := templateErr

	if customErr.Status == 0 {
		customErr.Status = http.StatusOK
	}

	hasVerb := strings.Contains(customErr.Message, "%")
	switch {
	case hasVerb && len(details) > 0:
		customErr.Message = fmt.Sprintf(customErr.Message, details...)
	case hasVerb:
		customErr.Message = fmt.Sprintf(customErr.Message, "unspecified")
	case len(details) > 0:
		logx.Warn(
			"Details provided for error, but message template has no formatting placeholders. Details ignored.",
			"code", code,
		)
	}

	return &customErr
}

// Wrap builds the error for code the same way NewError does and attaches cause to it.
func Wrap(code int, cause error, details ...any) *CustomError {
	customErr := NewError(code, details...)
	customErr.Err = cause
	return customErr
}

// IsCode reports whether any error in err's chain is a *CustomError with the given code.
// ErrInvalidState also matches the more specific state codes that refine it.
func IsCode(err error, code int) bool {
	var customErr *CustomError
	for err != nil {
		if !errors.As(err, &customErr) {
			return false
		}
		if customErr.Code == code || family(customErr.Code) == code {
			return true
		}
		err = customErr.Err
	}
	return false
}

// family returns the general code a specific code refines, or code itself.
func family(code int) int {
	switch code {
	case ErrAlreadyListening, ErrAlreadyConnected, ErrNotConnected:
		return ErrInvalidState
	}
	return code
}
