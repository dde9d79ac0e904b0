package actornet

import "errors"

// Reserved command IDs for internal use.
const (
	// CmdJSONRPC is reserved for JSON-RPC 2.0 messages
	CmdJSONRPC uint32 = 0xFFFFFFFF
)

// Dispatch errors. None of them closes the connection that produced the message.
var (
	ErrDecode           = errors.New("invalid message format")
	ErrUnhandledMessage = errors.New("unhandled message type")
	ErrEntityUnresolved = errors.New("entity id unresolved for this message")
	ErrActorUnavailable = errors.New("actor unavailable")
	ErrHandlerPanic     = errors.New("handler panicked")
)

// Registry and session errors.
var (
	ErrNilHandler       = errors.New("handler is nil")
	ErrDuplicateHandler = errors.New("handler already registered")
	ErrRegistryFrozen   = errors.New("handler registry is frozen")
	ErrAlreadyBound     = errors.New("channel already bound to a session")
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidEntityID  = errors.New("invalid entity id")
	ErrConnectionClosed = errors.New("client connection is closed")
	ErrContextCancelled = errors.New("client context cancelled")
	ErrServerRunning    = errors.New("server already running")
	ErrServerStopped    = errors.New("server stopped")
	ErrFailedToEncode   = errors.New("failed to encode message")
)

// ErrInvalidParams can be wrapped by a JSON-RPC method to answer with the
// invalid params error code instead of an internal error.
var ErrInvalidParams = errors.New("invalid params")

// Standard JSON-RPC error messages
const (
	ErrParseError      = "Parse error"
	ErrInvalidRequest  = "Invalid Request"
	ErrMethodNotFound  = "Method not found"
	ErrInternalError   = "Internal error"
	ErrRateLimitReason = "Rate limit exceeded"
)

// JSON-RPC 2.0 error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// JSON-RPC version
const (
	JSONRPCVersion = "2.0"
)
