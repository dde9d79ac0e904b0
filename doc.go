// Package actornet is the network dispatch core of a multiplayer game server.
//
// It accepts WebSocket connections, decodes command frames and routes every
// message to a registered handler. Handlers come in two kinds: stateless
// handlers run directly in their own dispatch goroutine, entity handlers are
// queued on the mailbox of the game entity they target, so that all work for
// one entity runs one action at a time in arrival order.
//
// # Architecture
//
// Each accepted connection is a Channel with exactly one read loop. The loop
// reads a frame, decodes it into a Message and hands it to the dispatcher in a
// new goroutine without waiting for it. A slow handler therefore never stalls
// the connection it came from.
//
// The dispatcher looks the command ID up in a handler table that is frozen
// when the server starts, builds a fresh Call for the message and then either
// runs the handler or resolves the target entity and submits the handler to
// that entity's Actor. A dispatch never fails the connection: unknown
// commands, unresolved entities, missing actors, handler errors and panics are
// logged and the message is dropped.
//
// Sessions are issued explicitly with Server.BindSession, typically by a login
// handler, and removed automatically when their channel disconnects.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/actornet"
//	    "github.com/luciancaetano/actornet/ws"
//	)
//
//	entities := ws.NewEntityRegistry(logger)
//	directory := ws.NewDirectory(0, 0)
//
//	server := ws.New(&ws.ServerConfig{
//	    Addr:     ":8080",
//	    Entities: entities,
//	    Logger:   logger,
//	})
//	server.Subscribe(actornet.EventSessionRemoved, directory.OnSessionRemoved)
//
//	// Stateless: runs inline in its dispatch goroutine.
//	server.RegisterHandler(0x10, actornet.HandlerFunc(func(ctx context.Context, call *actornet.Call) error {
//	    return call.Channel.Send(ctx, 0x10, call.Message.Payload)
//	}))
//
//	// Entity bound: runs on the mailbox of the caller's entity.
//	server.RegisterHandler(0x20, actornet.EntityHandlerFunc{
//	    Resolve: directory.Resolve,
//	    Action: func(ctx context.Context, call *actornet.Call) error {
//	        return move(ctx, call)
//	    },
//	})
//
//	server.Start(ctx)
//
// # Protocol Format
//
//	[4 bytes: CommandID (uint32, big-endian)][N bytes: Payload]
//
// Maximum payload: 10MB. Payloads can be decoded into typed bodies before
// dispatch with Server.RegisterProtoBody and Server.RegisterJSONBody.
//
// # JSON-RPC 2.0 Support
//
// Command ID 0xFFFFFFFF is reserved for JSON-RPC 2.0 requests. Methods are
// registered with Server.RegisterJSONRPCHandler and answered on the same
// command ID.
//
// # Rate Limiting
//
// Each channel has its own token bucket. When it is exhausted the channel is
// closed with code 1008 (Policy Violation).
//
// # Important
//
//   - Handler values are shared by every dispatch of their command ID; keep
//     per-message state in the Call, never on the handler.
//   - Stateless handlers have no ordering guarantee between each other.
//   - Entity actions keep running after their channel disconnects.
//   - Configure CheckOriginFn in production (never use ws.AllOrigins() in production)
package actornet
