/*
Package errs provides custom error types and application-level error code constants.

These error codes classify every failure the chat core surfaces to its callers, on both
the server (listener, participant handling) and the client (connection, join/leave facade).
*/
package errs

// 1xxx: Argument and Request Errors
const (
	// ErrInvalidParams indicates that an argument failed validation (blank address or name,
	// port out of range, blank message text, malformed event).
	ErrInvalidParams = 1001

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Lifecycle and State Errors
const (
	// ErrInvalidState indicates that the operation is not valid in the component's current state.
	// IsCode(err, ErrInvalidState) also matches ErrAlreadyListening, ErrAlreadyConnected and ErrNotConnected.
	ErrInvalidState = 2001

	// ErrAlreadyListening indicates that Listen was called on a server that is already bound.
	ErrAlreadyListening = 2002

	// ErrAlreadyConnected indicates that Join was called on a client that already holds a connection.
	ErrAlreadyConnected = 2003

	// ErrNotConnected indicates that the client has no open connection to send on.
	ErrNotConnected = 2004

	// ErrObjectDisposed indicates that the component has been torn down and accepts no further calls.
	ErrObjectDisposed = 2005
)

// 3xxx: Transport and Protocol Errors
const (
	// ErrConnectionFailed indicates that the transport could not be established or a write failed.
	ErrConnectionFailed = 3001

	// ErrProtocolViolation indicates that the remote end sent an event out of protocol.
	// It is a soft error: logged and dropped, never returned across a connection boundary.
	ErrProtocolViolation = 3002
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general internal error.
	ErrUnknown = 5000
)
