package ws

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/actornet"
	"github.com/luciancaetano/actornet/internal/actor"
	"github.com/luciancaetano/actornet/internal/directory"
	"github.com/luciancaetano/actornet/internal/websocket"
)

type ServerConfig = websocket.ServerConfig
type ChannelConfig = websocket.ChannelConfig
type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = websocket.OnConnectFn
type OnDisconnectFn = websocket.OnDisconnectFn

// EntityRegistry owns the mailboxes of active entities. Pass it as
// ServerConfig.Entities so entity-bound handlers can reach them.
type EntityRegistry = actor.Registry

// Mailbox is the serialized action queue of one entity.
type Mailbox = actor.Mailbox

// Directory maps sessions to the entity they control. Its Resolve method fits
// actornet.EntityHandlerFunc.Resolve.
type Directory = directory.Directory

// New creates a new WebSocket game server.
//
// Example:
//
//	entities := ws.NewEntityRegistry(logger)
//	server := ws.New(&ws.ServerConfig{
//	    Addr:     ":8080",
//	    Entities: entities,
//	    Logger:   logger,
//	})
func New(cfg *ServerConfig) actornet.Server {
	return websocket.New(cfg)
}

func NewEntityRegistry(logger *logrus.Logger) *EntityRegistry {
	return actor.NewRegistry(logger)
}

// NewDirectory returns a session to entity directory. A ttl <= 0 keeps entries
// until they are detached.
func NewDirectory(ttl, cleanup time.Duration) *Directory {
	return directory.New(ttl, cleanup)
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

// DefaultChannelConfig returns the per-connection queue and deadline defaults.
func DefaultChannelConfig() ChannelConfig {
	return websocket.DefaultChannelConfig()
}
