/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the CustomError template for every application error code.
// Messages containing a %s verb accept the details passed to NewError.
var errorMap = map[int]CustomError{
	// 1xxx
	ErrInvalidParams:     {Code: ErrInvalidParams, Message: "Invalid argument: %s.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded: {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx
	ErrInvalidState:     {Code: ErrInvalidState, Message: "Invalid state: %s.", Status: http.StatusConflict},
	ErrAlreadyListening: {Code: ErrAlreadyListening, Message: "The server is listening already.", Status: http.StatusConflict},
	ErrAlreadyConnected: {Code: ErrAlreadyConnected, Message: "The client is already connected to a server.", Status: http.StatusConflict},
	ErrNotConnected:     {Code: ErrNotConnected, Message: "The client is not connected to a server.", Status: http.StatusConflict},
	ErrObjectDisposed:   {Code: ErrObjectDisposed, Message: "Object disposed: %s.", Status: http.StatusGone},

	// 3xxx
	ErrConnectionFailed:  {Code: ErrConnectionFailed, Message: "Connection failed: %s.", Status: http.StatusBadGateway},
	ErrProtocolViolation: {Code: ErrProtocolViolation, Message: "Protocol violation: %s."},

	// 5xxx
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
