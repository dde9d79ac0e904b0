package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luciancaetano/actornet"
	"github.com/luciancaetano/actornet/internal/protocol"
)

// newTestChannel returns a server-side Channel and the client end of its
// connection.
func newTestChannel(t *testing.T, rl *RateLimitConfig, cfg ChannelConfig) (*Channel, *websocket.Conn) {
	t.Helper()

	accepted := make(chan *Channel, 1)
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade() failed: %v", err)
			return
		}
		accepted <- NewChannel(conn, r.RemoteAddr, rl, cfg)
	}))
	t.Cleanup(ts.Close)

	client := dial(t, wsURL(ts))
	ch := <-accepted
	t.Cleanup(func() { _ = ch.Close(context.Background()) })
	return ch, client
}

func TestChannelConfigDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   ChannelConfig
		want ChannelConfig
	}{
		{
			name: "zero value",
			want: DefaultChannelConfig(),
		},
		{
			name: "custom values kept",
			in:   ChannelConfig{SendBuffer: 8, ReadTimeout: 10 * time.Second, WriteTimeout: time.Second, PingInterval: 5 * time.Second, ReadLimit: 1024},
			want: ChannelConfig{SendBuffer: 8, ReadTimeout: 10 * time.Second, WriteTimeout: time.Second, PingInterval: 5 * time.Second, ReadLimit: 1024},
		},
		{
			name: "ping slower than read timeout",
			in:   ChannelConfig{ReadTimeout: 10 * time.Second, PingInterval: 20 * time.Second},
			want: ChannelConfig{SendBuffer: 256, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, PingInterval: 9 * time.Second, ReadLimit: protocol.MaxFrameSize},
		},
		{
			name: "read limit above frame size",
			in:   ChannelConfig{ReadLimit: protocol.MaxFrameSize * 2},
			want: DefaultChannelConfig(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if diff := cmp.Diff(tt.want, tt.in.withDefaults()); diff != "" {
				t.Errorf("withDefaults() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestChannelIdentity(t *testing.T) {
	t.Parallel()

	ch, _ := newTestChannel(t, nil, ChannelConfig{})

	if _, err := uuid.Parse(ch.ID()); err != nil {
		t.Errorf("ID() %q is not a UUID: %v", ch.ID(), err)
	}
	if ch.RemoteAddr() == "" {
		t.Error("RemoteAddr() is empty")
	}
	if !ch.IsAlive() {
		t.Error("new channel is not alive")
	}
}

func TestChannelSend(t *testing.T) {
	t.Parallel()

	ch, client := newTestChannel(t, nil, ChannelConfig{})

	if err := ch.Send(context.Background(), 0x42, []byte("state")); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	cmd, payload := readFrame(t, client)
	if cmd != 0x42 || string(payload) != "state" {
		t.Errorf("received 0x%X %q, want 0x42 %q", cmd, payload, "state")
	}
}

func TestChannelClose(t *testing.T) {
	t.Parallel()

	ch, client := newTestChannel(t, nil, ChannelConfig{})

	if err := ch.CloseWithCode(context.Background(), websocket.CloseGoingAway, "maintenance"); err != nil {
		t.Fatalf("CloseWithCode() failed: %v", err)
	}
	if err := ch.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}

	if ch.IsAlive() {
		t.Error("closed channel reports alive")
	}
	select {
	case <-ch.Context().Done():
	default:
		t.Error("channel context not cancelled on close")
	}
	if err := ch.Send(context.Background(), 1, nil); !errors.Is(err, actornet.ErrConnectionClosed) {
		t.Errorf("Send() after close error = %v, want ErrConnectionClosed", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("client read error = %v, want going away close", err)
	}
}

func TestChannelSendHonoursContext(t *testing.T) {
	t.Parallel()

	ch, _ := newTestChannel(t, nil, ChannelConfig{SendBuffer: 1})

	// Fill the queue faster than the pump can drain it; eventually Send
	// blocks and must give up with the caller's context.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	payload := make([]byte, 1<<20)
	var err error
	for i := 0; i < 1000 && err == nil; i++ {
		err = ch.Send(ctx, 1, payload)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send() on a full queue error = %v, want DeadlineExceeded", err)
	}
}

func TestChannelRateLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		config      *RateLimitConfig
		wantAllowed int
	}{
		{name: "nil config", config: nil, wantAllowed: 10},
		{name: "disabled", config: NoRateLimit(), wantAllowed: 10},
		{name: "burst of three", config: &RateLimitConfig{MessagesPerSecond: 0.001, Burst: 3, Enabled: true}, wantAllowed: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ch, _ := newTestChannel(t, tt.config, ChannelConfig{})

			allowed := 0
			for i := 0; i < 10; i++ {
				if ch.CheckRateLimit() {
					allowed++
				}
			}
			if allowed != tt.wantAllowed {
				t.Errorf("allowed %d of 10 frames, want %d", allowed, tt.wantAllowed)
			}
		})
	}
}
