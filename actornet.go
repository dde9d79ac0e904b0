package actornet

import (
	"context"
	"net/http"
	"time"

	"google.golang.org/protobuf/proto"
)

// Server defines the interface for a game server front door that accepts WebSocket
// connections, decodes command frames and routes each one to a registered handler.
//
// Example usage:
//
//	import "github.com/luciancaetano/actornet/ws"
//
//	server := ws.New(&ws.ServerConfig{Addr: ":8080"})
//
//	server.RegisterHandler(0x10, actornet.HandlerFunc(func(ctx context.Context, call *actornet.Call) error {
//	    return call.Channel.Send(ctx, 0x10, call.Message.Payload)
//	}))
//
//	server.Start(ctx)
type Server interface {
	// Start freezes the handler table and begins listening for connections.
	//
	// Returns an error if the server is already running or if there's a problem
	// binding to the network address.
	Start(ctx context.Context) error

	// Stop closes every channel, shuts the listener down and waits for in-flight
	// dispatches to return or for ctx to expire, whichever comes first. Actions
	// already queued on entity mailboxes are not cancelled.
	Stop(ctx context.Context) error

	// RegisterHandler registers a handler prototype for a command ID.
	//
	// A handler that also implements EntityHandler is executed on the target
	// entity's mailbox; any other handler runs inline in its own dispatch
	// goroutine. Registration is only allowed before Start.
	RegisterHandler(commandID uint32, handler Handler) error

	// RegisterJSONRPCHandler registers a JSON-RPC 2.0 method served on the
	// reserved CmdJSONRPC command.
	RegisterJSONRPCHandler(method string, handler JSONRPCHandlerFunc) error

	// RegisterProtoBody decodes the payload of commandID into the protobuf
	// message returned by alloc before dispatch. The result is Message.Body.
	RegisterProtoBody(commandID uint32, alloc func() proto.Message)

	// RegisterJSONBody is RegisterProtoBody for JSON payloads.
	RegisterJSONBody(commandID uint32, alloc func() any)

	// Handler returns the WebSocket upgrade handler, for mounting the server on
	// an existing mux instead of calling Start.
	Handler() http.Handler

	// Subscribe registers a listener for an internal event kind. Listeners run on
	// the notifier goroutine and must not block for long.
	Subscribe(kind EventKind, listener EventListener)

	// BindSession authenticates a channel, returning its new session ID. A channel
	// carries at most one live session.
	BindSession(ch Channel) (int64, error)

	// Sessions exposes the process-wide session registry.
	Sessions() SessionRegistry

	// SendToSession sends a command to the channel bound to sessionID.
	SendToSession(ctx context.Context, sessionID int64, commandID uint32, payload []byte) error

	// BroadcastCommand sends a command to all connected channels.
	BroadcastCommand(ctx context.Context, commandID uint32, payload []byte) error
}

// Channel represents one accepted connection.
//
// Each channel has a unique identifier assigned by the transport when it is
// accepted. The channel's context is cancelled when the connection closes.
type Channel interface {
	// ID returns the transport-assigned identifier of the connection.
	ID() string

	// RemoteAddr returns the peer address, typically "IP:port".
	RemoteAddr() string

	// Context returns the channel's lifecycle context.
	Context() context.Context

	// Send encodes and queues a command for delivery to the peer.
	//
	// Returns an error if the connection is closed or ctx is cancelled.
	Send(ctx context.Context, commandID uint32, payload []byte) error

	// Close closes the connection with a normal closure code.
	Close(ctx context.Context) error

	// CloseWithCode closes the connection with a specific WebSocket close code.
	CloseWithCode(ctx context.Context, code int, reason string) error

	// IsAlive returns true if the connection is still open.
	IsAlive() bool
}

// Message is one decoded command frame. Messages are immutable once decoded and
// live for a single dispatch.
type Message struct {
	// ID is the command identifier the message was framed with.
	ID uint32
	// Payload holds the raw bytes after the command header.
	Payload []byte
	// Body is the typed value decoded from Payload, or nil when no body type is
	// registered for ID.
	Body any
}

// Call is the per-dispatch state handed to a handler. A new Call is built for
// every dispatched message and is never shared between dispatches.
type Call struct {
	// Time is when the dispatcher accepted the message.
	Time time.Time
	// Channel is the connection the message arrived on.
	Channel Channel
	// Message is the decoded message.
	Message *Message
	// SessionID is the session bound to Channel at dispatch time, 0 if none.
	SessionID int64
}

// Handler is a handler prototype. Implementations must not keep per-call state on
// the receiver: the same value serves every dispatch of its command ID
// concurrently.
type Handler interface {
	Handle(ctx context.Context, call *Call) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, call *Call) error

// Handle calls f(ctx, call).
func (f HandlerFunc) Handle(ctx context.Context, call *Call) error {
	return f(ctx, call)
}

// EntityHandler is a Handler bound to a game entity. Its Handle runs on the
// entity's mailbox, serialized with every other action targeting that entity.
type EntityHandler interface {
	Handler

	// EntityID resolves the entity the call targets. Returning 0 means the
	// entity could not be resolved and the message is dropped.
	EntityID(ctx context.Context, call *Call) (int64, error)
}

// EntityHandlerFunc builds an EntityHandler from a resolver and an action.
type EntityHandlerFunc struct {
	Resolve func(ctx context.Context, call *Call) (int64, error)
	Action  HandlerFunc
}

func (h EntityHandlerFunc) Handle(ctx context.Context, call *Call) error {
	return h.Action(ctx, call)
}

func (h EntityHandlerFunc) EntityID(ctx context.Context, call *Call) (int64, error) {
	return h.Resolve(ctx, call)
}

// Action is a unit of work executed on an entity mailbox.
type Action func(ctx context.Context) error

// Actor is the serialized execution queue of one entity.
type Actor interface {
	// Submit enqueues action without waiting for it to run. It returns
	// ErrActorUnavailable when the actor has been retired.
	Submit(ctx context.Context, action Action) error
}

// EntityManager resolves live entity actors by entity ID.
type EntityManager interface {
	ActorFor(entityID int64) (Actor, bool)
}

// SessionRegistry maps session IDs to channels and back.
type SessionRegistry interface {
	// Bind issues a new session ID for ch.
	Bind(ch Channel) (int64, error)
	// Lookup returns the session bound to ch, or 0.
	Lookup(ch Channel) int64
	// Channel returns the channel bound to sessionID.
	Channel(sessionID int64) (Channel, bool)
	// Remove deletes sessionID, reporting whether it was live.
	Remove(sessionID int64) bool
	// Len returns the number of live sessions.
	Len() int
}

// EventKind identifies an internal event.
type EventKind int

const (
	// EventMessageReceived fires for every dispatched message on a bound session.
	EventMessageReceived EventKind = iota + 1
	// EventSessionBound fires after a channel is bound to a session.
	EventSessionBound
	// EventSessionRemoved fires after a session is removed on disconnect.
	EventSessionRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventMessageReceived:
		return "message_received"
	case EventSessionBound:
		return "session_bound"
	case EventSessionRemoved:
		return "session_removed"
	default:
		return "unknown"
	}
}

// Event is a fire-and-forget notification about a session.
type Event struct {
	SessionID int64
	Kind      EventKind
}

// EventListener receives events from the notifier goroutine.
type EventListener func(Event)

// JSONRPCHandlerFunc serves one JSON-RPC method. The returned value is marshalled
// as the response result.
type JSONRPCHandlerFunc func(ctx context.Context, call *Call, params map[string]interface{}) (interface{}, error)
