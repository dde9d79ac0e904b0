package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/actornet"
	"github.com/luciancaetano/actornet/internal/protocol"
)

// ChannelConfig tunes the per-connection queues and deadlines.
type ChannelConfig struct {
	// SendBuffer is the capacity of the outgoing frame queue.
	SendBuffer int
	// ReadTimeout is how long the read loop waits for a frame or pong.
	ReadTimeout time.Duration
	// WriteTimeout bounds every frame and ping write.
	WriteTimeout time.Duration
	// PingInterval must be shorter than ReadTimeout.
	PingInterval time.Duration
	// ReadLimit caps the size of one inbound frame. Larger frames close the
	// channel with 1009. Defaults to, and cannot exceed, protocol.MaxFrameSize.
	ReadLimit int64
}

// DefaultChannelConfig returns the queue and deadline settings used when none
// are configured.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		SendBuffer:   256,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		PingInterval: 54 * time.Second,
		ReadLimit:    protocol.MaxFrameSize,
	}
}

func (c ChannelConfig) withDefaults() ChannelConfig {
	def := DefaultChannelConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadLimit <= 0 || c.ReadLimit > def.ReadLimit {
		c.ReadLimit = def.ReadLimit
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.ReadTimeout {
		c.PingInterval = c.ReadTimeout * 9 / 10
	}
	return c
}

// Channel implements actornet.Channel over a gorilla websocket connection.
type Channel struct {
	id          string
	conn        *websocket.Conn
	remoteAddr  string
	ctx         context.Context
	cancel      context.CancelFunc
	sendCh      chan []byte
	mu          sync.RWMutex
	closed      bool
	rateLimiter *rate.Limiter
	cfg         ChannelConfig
}

var _ actornet.Channel = (*Channel)(nil)

// NewChannel wraps conn and starts its write pump. A nil or disabled
// rateLimitConfig leaves the channel unlimited.
func NewChannel(conn *websocket.Conn, remoteAddr string, rateLimitConfig *RateLimitConfig, cfg ChannelConfig) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	cfg = cfg.withDefaults()

	var limiter *rate.Limiter
	if rateLimitConfig != nil && rateLimitConfig.Enabled {
		limiter = rate.NewLimiter(rateLimitConfig.MessagesPerSecond, rateLimitConfig.Burst)
	}

	ch := &Channel{
		id:          uuid.New().String(),
		conn:        conn,
		remoteAddr:  remoteAddr,
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan []byte, cfg.SendBuffer),
		rateLimiter: limiter,
		cfg:         cfg,
	}

	go ch.writePump()

	return ch
}

func (c *Channel) ID() string { return c.id }

func (c *Channel) RemoteAddr() string { return c.remoteAddr }

// Context is cancelled as soon as the channel starts closing.
func (c *Channel) Context() context.Context { return c.ctx }

// Send encodes a frame and queues it for the write pump.
func (c *Channel) Send(ctx context.Context, commandID uint32, payload []byte) error {
	data, err := protocol.Encode(commandID, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", actornet.ErrFailedToEncode, err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return actornet.ErrConnectionClosed
	}

	// The read lock is held while queueing so Close cannot close sendCh
	// underneath us.
	select {
	case c.sendCh <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return actornet.ErrContextCancelled
	}
}

func (c *Channel) Close(ctx context.Context) error {
	return c.CloseWithCode(ctx, websocket.CloseNormalClosure, "")
}

// CloseWithCode sends a close frame and tears the connection down. Closing an
// already closed channel is a no-op.
func (c *Channel) CloseWithCode(ctx context.Context, code int, reason string) error {
	// Cancel first: a Send blocked on a full queue holds the read lock until
	// it observes the cancellation.
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	deadline := time.Now().Add(time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)

	close(c.sendCh)
	return c.conn.Close()
}

func (c *Channel) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// CheckRateLimit reports whether one more inbound frame is allowed.
func (c *Channel) CheckRateLimit() bool {
	if c.rateLimiter == nil {
		return true
	}
	return c.rateLimiter.Allow()
}

// writePump is the only writer of data frames. It exits when the send queue is
// closed or a write fails.
func (c *Channel) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.sendCh:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
