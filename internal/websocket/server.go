package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"github.com/luciancaetano/actornet"
	"github.com/luciancaetano/actornet/internal/dispatch"
	"github.com/luciancaetano/actornet/internal/event"
	"github.com/luciancaetano/actornet/internal/jsonrpc"
	"github.com/luciancaetano/actornet/internal/protocol"
	"github.com/luciancaetano/actornet/internal/session"
)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is called after the WebSocket handshake completes and before the
// read loop starts. It runs on the channel's read goroutine, so the channel
// reads nothing until it returns.
type OnConnectFn = func(ch actornet.Channel)

// OnDisconnectFn is called once the read loop of a channel has ended and its
// session, if any, has been removed. voluntary is true when the peer sent a
// normal or going-away close frame.
type OnDisconnectFn = func(ch actornet.Channel, voluntary bool)

type ServerConfig struct {
	Addr string
	// Path is the URL path upgraded to WebSocket by Start. Defaults to "/ws".
	Path string

	RateLimitConfig *RateLimitConfig
	Channel         ChannelConfig
	CheckOrigin     CheckOriginFn
	OnConnect       OnConnectFn
	OnDisconnect    OnDisconnectFn

	// Entities resolves entity actors for entity-bound handlers.
	Entities actornet.EntityManager

	// ResolveRetries and ResolveRetryDelay configure how an entity ID that
	// resolves to 0 is retried before its message is dropped.
	ResolveRetries    int
	ResolveRetryDelay time.Duration

	// EventBuffer is the capacity of the event notifier queue.
	EventBuffer int

	Logger         *logrus.Logger
	TracerProvider trace.TracerProvider
}

// RateLimitConfig defines rate limiting configuration for channels
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a channel can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

const handshakeTimeout = 10 * time.Second

// Server implements actornet.Server
type Server struct {
	addr     string
	path     string
	server   *http.Server
	channels sync.Map // map[string]*Channel

	handlers   *dispatch.Registry
	dispatcher *dispatch.Dispatcher
	decoder    *protocol.Decoder
	rpc        *jsonrpc.Router
	sessions   *session.Registry
	events     *event.Notifier

	rateLimitConfig *RateLimitConfig
	channelConfig   ChannelConfig

	// wg counts read loops and the dispatches they spawn.
	wg sync.WaitGroup

	mu           sync.RWMutex
	running      bool
	stopping     bool
	upgrader     websocket.Upgrader
	onConnect    OnConnectFn
	onDisconnect OnDisconnectFn
	log          *logrus.Entry
}

var _ actornet.Server = (*Server)(nil)

// New creates a server from cfg. The JSON-RPC router is mounted on
// actornet.CmdJSONRPC; every other command ID is free for RegisterHandler.
func New(cfg *ServerConfig) *Server {
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = DefaultRateLimitConfig()
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	sessions := session.NewRegistry()
	events := event.NewNotifier(cfg.Logger, cfg.EventBuffer)
	handlers := dispatch.NewRegistry()
	rpc := jsonrpc.NewRouter(cfg.Logger)
	_ = handlers.Register(actornet.CmdJSONRPC, rpc)

	return &Server{
		addr:     cfg.Addr,
		path:     cfg.Path,
		handlers: handlers,
		dispatcher: dispatch.New(dispatch.Config{
			Handlers:          handlers,
			Sessions:          sessions,
			Entities:          cfg.Entities,
			Events:            events,
			Logger:            cfg.Logger,
			ResolveRetries:    cfg.ResolveRetries,
			ResolveRetryDelay: cfg.ResolveRetryDelay,
			TracerProvider:    cfg.TracerProvider,
		}),
		decoder:         protocol.NewDecoder(),
		rpc:             rpc,
		sessions:        sessions,
		events:          events,
		rateLimitConfig: cfg.RateLimitConfig,
		channelConfig:   cfg.Channel.withDefaults(),
		onConnect:       cfg.OnConnect,
		onDisconnect:    cfg.OnDisconnect,
		log:             cfg.Logger.WithField("scope", "websocket.Server"),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			CheckOrigin:      cfg.CheckOrigin,
		},
	}
}

// Start freezes the handler table and starts listening.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return actornet.ErrServerRunning
	}
	if s.stopping {
		s.mu.Unlock()
		return actornet.ErrServerStopped
	}
	s.running = true
	s.mu.Unlock()

	s.handlers.Freeze()

	mux := http.NewServeMux()
	mux.Handle(s.path, s.Handler())

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Check for immediate startup errors with a small timeout
	select {
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		s.log.WithFields(logrus.Fields{"addr": s.addr, "path": s.path}).Info("server listening")
		return nil
	}
}

// Stop refuses new connections, closes every channel and waits for read loops
// and in-flight dispatches to return. Actions queued on entity mailboxes keep
// running. A stopped server cannot be started again.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.running = false
	s.mu.Unlock()

	s.channels.Range(func(_, value interface{}) bool {
		if ch, ok := value.(*Channel); ok {
			_ = ch.CloseWithCode(ctx, websocket.CloseGoingAway, "server shutting down")
		}
		return true
	})

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.log.Info("server stopped")
	case <-ctx.Done():
		s.log.Warn("server stopped before in-flight dispatches returned")
		err = errors.Join(err, ctx.Err())
	}

	s.events.Close()
	return err
}

// Handler returns the WebSocket upgrade handler. Serving through it freezes
// the handler table just like Start.
func (s *Server) Handler() http.Handler {
	s.handlers.Freeze()
	return http.HandlerFunc(s.handleWebSocket)
}

// RegisterHandler registers a handler prototype for commandID. It fails once
// the server has started serving.
func (s *Server) RegisterHandler(commandID uint32, handler actornet.Handler) error {
	return s.handlers.Register(commandID, handler)
}

// RegisterJSONRPCHandler registers a JSON-RPC handler for a specific method
// served on the reserved command ID actornet.CmdJSONRPC.
func (s *Server) RegisterJSONRPCHandler(method string, handler actornet.JSONRPCHandlerFunc) error {
	return s.rpc.Register(method, handler)
}

func (s *Server) RegisterProtoBody(commandID uint32, alloc func() proto.Message) {
	s.decoder.RegisterProto(commandID, alloc)
}

func (s *Server) RegisterJSONBody(commandID uint32, alloc func() any) {
	s.decoder.RegisterJSON(commandID, alloc)
}

func (s *Server) Subscribe(kind actornet.EventKind, listener actornet.EventListener) {
	s.events.Subscribe(kind, listener)
}

// BindSession issues a session for ch and fires EventSessionBound. It fails
// with ErrConnectionClosed once ch has started closing, since the read loop
// of a closed channel no longer removes sessions bound to it.
func (s *Server) BindSession(ch actornet.Channel) (int64, error) {
	sessionID, err := s.sessions.Bind(ch)
	if err != nil {
		return 0, err
	}
	// The read loop cancels the channel before it looks the session up, so
	// one of the two sides always sees the other.
	if ch.Context().Err() != nil {
		s.sessions.Remove(sessionID)
		return 0, fmt.Errorf("%w: channel %s", actornet.ErrConnectionClosed, ch.ID())
	}
	s.log.WithFields(logrus.Fields{
		"channel_id": ch.ID(),
		"session_id": sessionID,
	}).Info("session bound")
	s.events.Fire(sessionID, actornet.EventSessionBound)
	return sessionID, nil
}

func (s *Server) Sessions() actornet.SessionRegistry {
	return s.sessions
}

func (s *Server) isStopping() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopping
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.isStopping() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	// No lock is held during the handshake; Stop must not wait on a slow peer.
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied to the client.
		s.log.WithError(err).WithField("remote_addr", r.RemoteAddr).Debug("websocket upgrade failed")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopping {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	ch := NewChannel(conn, r.RemoteAddr, s.rateLimitConfig, s.channelConfig)
	s.channels.Store(ch.ID(), ch)

	s.wg.Add(1)
	go s.serveChannel(ch)
}

// serveChannel is the read loop of ch. It is the only reader of the
// connection and never waits on a dispatch it spawned.
func (s *Server) serveChannel(ch *Channel) {
	defer s.wg.Done()

	log := s.log.WithFields(logrus.Fields{
		"channel_id":  ch.ID(),
		"remote_addr": ch.RemoteAddr(),
	})
	log.Info("channel connected")

	var readErr error
	defer func() {
		voluntary := websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway)

		s.channels.Delete(ch.ID())
		_ = ch.Close(context.Background())

		if sessionID := s.sessions.Lookup(ch); sessionID > 0 && s.sessions.Remove(sessionID) {
			s.events.Fire(sessionID, actornet.EventSessionRemoved)
			log = log.WithField("session_id", sessionID)
		}
		log.WithField("voluntary", voluntary).Info("channel disconnected")

		if s.onDisconnect != nil {
			s.onDisconnect(ch, voluntary)
		}
	}()

	ch.conn.SetReadLimit(s.channelConfig.ReadLimit)

	readTimeout := s.channelConfig.ReadTimeout
	_ = ch.conn.SetReadDeadline(time.Now().Add(readTimeout))
	ch.conn.SetPongHandler(func(string) error {
		return ch.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	if s.onConnect != nil {
		s.onConnect(ch)
	}

	// Dispatches outlive the read loop; they are not cancelled by a disconnect.
	dispatchCtx := context.WithoutCancel(ch.Context())

	for {
		select {
		case <-ch.Context().Done():
			return
		default:
		}

		var data []byte
		_, data, readErr = ch.conn.ReadMessage()
		if readErr != nil {
			if websocket.IsUnexpectedCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(readErr).Warn("unexpected websocket close")
			}
			return
		}

		_ = ch.conn.SetReadDeadline(time.Now().Add(readTimeout))

		if !ch.CheckRateLimit() {
			log.Warn("rate limit exceeded")
			_ = ch.CloseWithCode(context.Background(), websocket.ClosePolicyViolation, actornet.ErrRateLimitReason)
			return
		}

		msg, err := s.decoder.Decode(ch.ID(), data)
		if err != nil {
			log.WithError(err).Warn("dropping undecodable frame")
			continue
		}

		s.wg.Add(1)
		go func(msg *actornet.Message) {
			defer s.wg.Done()
			_ = s.dispatcher.Dispatch(dispatchCtx, ch, msg)
		}(msg)
	}
}

// Channel returns a connected channel by ID.
func (s *Server) Channel(id string) (*Channel, bool) {
	if ch, ok := s.channels.Load(id); ok {
		return ch.(*Channel), true
	}
	return nil, false
}

// SendToSession sends a command to the channel bound to sessionID.
func (s *Server) SendToSession(ctx context.Context, sessionID int64, commandID uint32, payload []byte) error {
	ch, ok := s.sessions.Channel(sessionID)
	if !ok {
		return fmt.Errorf("%w: %d", actornet.ErrSessionNotFound, sessionID)
	}
	return ch.Send(ctx, commandID, payload)
}

// BroadcastCommand sends a command to all connected channels. Channels that
// fail to accept the frame are skipped; their errors are joined.
func (s *Server) BroadcastCommand(ctx context.Context, commandID uint32, payload []byte) error {
	var errs []error
	s.channels.Range(func(_, value interface{}) bool {
		if ch, ok := value.(*Channel); ok {
			if err := ch.Send(ctx, commandID, payload); err != nil {
				errs = append(errs, fmt.Errorf("channel %s: %w", ch.ID(), err))
			}
		}
		return true
	})
	return errors.Join(errs...)
}
