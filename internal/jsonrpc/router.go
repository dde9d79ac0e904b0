// Package jsonrpc serves JSON-RPC 2.0 requests carried on the reserved
// actornet.CmdJSONRPC command.
package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/actornet"
)

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string                 `json:"jsonrpc"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
	ID      interface{}            `json:"id"`
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Router is a stateless actornet.Handler that maps JSON-RPC methods to
// functions. Responses are sent back on the calling channel.
type Router struct {
	log *logrus.Entry

	mu      sync.RWMutex
	methods map[string]actornet.JSONRPCHandlerFunc
}

var _ actornet.Handler = (*Router)(nil)

func NewRouter(logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Router{
		log:     logger.WithField("scope", "jsonrpc.Router"),
		methods: make(map[string]actornet.JSONRPCHandlerFunc),
	}
}

func (r *Router) Register(method string, fn actornet.JSONRPCHandlerFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: method %q", actornet.ErrNilHandler, method)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.methods[method]; ok {
		return fmt.Errorf("%w: method %q", actornet.ErrDuplicateHandler, method)
	}
	r.methods[method] = fn
	return nil
}

func (r *Router) lookup(method string) (actornet.JSONRPCHandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.methods[method]
	return fn, ok
}

// Handle decodes one request from the call payload, runs the method and replies.
// Protocol-level failures are answered with a JSON-RPC error object; only a
// failed send is returned.
func (r *Router) Handle(ctx context.Context, call *actornet.Call) error {
	var req Request
	if err := json.Unmarshal(call.Message.Payload, &req); err != nil {
		return r.sendError(ctx, call, nil, actornet.JSONRPCParseError, actornet.ErrParseError)
	}

	if req.JSONRPC != actornet.JSONRPCVersion {
		return r.sendError(ctx, call, req.ID, actornet.JSONRPCInvalidRequest, actornet.ErrInvalidRequest)
	}

	fn, ok := r.lookup(req.Method)
	if !ok {
		return r.sendError(ctx, call, req.ID, actornet.JSONRPCMethodNotFound, actornet.ErrMethodNotFound)
	}

	result, err := fn(ctx, call, req.Params)
	if err != nil {
		r.log.WithError(err).WithField("method", req.Method).Debug("method returned an error")
		code := actornet.JSONRPCInternalError
		if errors.Is(err, actornet.ErrInvalidParams) {
			code = actornet.JSONRPCInvalidParams
		}
		return r.sendError(ctx, call, req.ID, code, err.Error())
	}

	data, err := json.Marshal(Response{
		JSONRPC: actornet.JSONRPCVersion,
		Result:  result,
		ID:      req.ID,
	})
	if err != nil {
		return r.sendError(ctx, call, req.ID, actornet.JSONRPCInternalError, actornet.ErrInternalError)
	}

	return call.Channel.Send(ctx, actornet.CmdJSONRPC, data)
}

func (r *Router) sendError(ctx context.Context, call *actornet.Call, id interface{}, code int, message string) error {
	data, err := json.Marshal(Response{
		JSONRPC: actornet.JSONRPCVersion,
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", actornet.ErrFailedToEncode, err)
	}
	return call.Channel.Send(ctx, actornet.CmdJSONRPC, data)
}
