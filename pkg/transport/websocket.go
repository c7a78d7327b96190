package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"
)

// ConnState represents the current connection state of a websocket link.
type ConnState int32

// Connection states for websocket lifecycle management.
const (
	// StateDisconnected indicates the link is not connected.
	StateDisconnected ConnState = iota
	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting
	// StateConnected indicates the link is active.
	StateConnected
	// StateReconnecting indicates automatic reconnection is in progress.
	StateReconnecting
	// StateClosed indicates the link has been permanently closed.
	StateClosed
)

// String returns the string representation of the connection state.
func (s ConnState) String() string {
	return [...]string{
		"disconnected",
		"connecting",
		"connected",
		"reconnecting",
		"closed",
	}[s]
}

// WSConfig holds configuration options for a websocket client.
type WSConfig struct {
	// URL is the websocket server endpoint to connect to.
	URL string
	// ReconnectEnabled determines whether automatic reconnection is enabled.
	ReconnectEnabled bool
	// ReconnectMinWait is the initial duration to wait before the first reconnection attempt.
	ReconnectMinWait time.Duration
	// ReconnectMaxWait is the maximum duration to wait between reconnection attempts.
	ReconnectMaxWait time.Duration
	// PingInterval is the duration between ping frames sent to keep the connection alive.
	PingInterval time.Duration
	// PongTimeout is the maximum time to wait for a pong before considering the connection dead.
	PongTimeout time.Duration
}

// FrameHandler receives every text frame read from the connection. The
// slice is owned by the handler and survives the call.
type FrameHandler func(data []byte)

// WSClient manages a websocket connection with keepalive and automatic
// reconnection. Incoming frames are delivered to a single FrameHandler;
// fanning out to per-channel consumers is the caller's concern.
type WSClient struct {
	config  WSConfig
	state   atomic.Int32 // holds a ConnState; zero value is StateDisconnected
	conn    *gws.Conn
	handler *wsEventHandler
	logger  zerolog.Logger

	mu                sync.RWMutex
	frameHandler      FrameHandler
	onReconnect       func()
	connectedChan     chan struct{}
	stopChan          chan struct{}
	wg                sync.WaitGroup
	pingOnce          sync.Once
	reconnectAttempts int
}

type wsEventHandler struct {
	client *WSClient
}

// NewWSClient creates a new websocket client with the given configuration.
// Default values are applied for any zero-valued configuration fields.
func NewWSClient(config WSConfig) *WSClient {
	if config.ReconnectMinWait == 0 {
		config.ReconnectMinWait = 1 * time.Second
	}
	if config.ReconnectMaxWait == 0 {
		config.ReconnectMaxWait = 30 * time.Second
	}
	if config.PingInterval == 0 {
		config.PingInterval = 10 * time.Second
	}
	if config.PongTimeout == 0 {
		config.PongTimeout = 20 * time.Second
	}

	client := &WSClient{
		config:        config,
		connectedChan: make(chan struct{}),
		stopChan:      make(chan struct{}),
		logger:        zerolog.Nop(),
	}
	client.handler = &wsEventHandler{client: client}
	return client
}

// State returns the current connection state of the websocket.
func (c *WSClient) State() ConnState {
	return ConnState(c.state.Load())
}

// IsConnected returns true if the websocket has an active connection.
func (c *WSClient) IsConnected() bool {
	return c.State() == StateConnected
}

func (c *WSClient) setState(s ConnState) {
	c.state.Store(int32(s))
}

// casState moves the state from old to next atomically, reporting whether
// the transition was taken.
func (c *WSClient) casState(old, next ConnState) bool {
	return c.state.CompareAndSwap(int32(old), int32(next))
}

// SetLogger configures the logger for the websocket client.
func (c *WSClient) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// SetFrameHandler registers the handler invoked for every incoming text
// frame. Set it before Connect; frames arriving with no handler are
// dropped.
func (c *WSClient) SetFrameHandler(handler FrameHandler) {
	c.mu.Lock()
	c.frameHandler = handler
	c.mu.Unlock()
}

// OnReconnect registers a callback invoked after every successful
// automatic reconnection, once the new connection is live. Servers drop
// stream subscriptions with the old connection, so this is where the
// caller re-sends them.
func (c *WSClient) OnReconnect(fn func()) {
	c.mu.Lock()
	c.onReconnect = fn
	c.mu.Unlock()
}

func (h *wsEventHandler) OnOpen(socket *gws.Conn) {
	h.client.setState(StateConnected)

	h.client.mu.Lock()
	h.client.reconnectAttempts = 0
	select {
	case <-h.client.connectedChan:
	default:
		close(h.client.connectedChan)
	}
	h.client.mu.Unlock()

	h.client.logger.Info().
		Str("url", h.client.config.URL).
		Msg("websocket connected")

	_ = socket.SetDeadline(time.Now().Add(h.client.config.PingInterval + h.client.config.PongTimeout))
}

func (h *wsEventHandler) OnClose(socket *gws.Conn, err error) {
	h.client.setState(StateDisconnected)

	h.client.mu.Lock()
	h.client.connectedChan = make(chan struct{})
	h.client.mu.Unlock()

	h.client.logger.Warn().
		Err(err).
		Str("url", h.client.config.URL).
		Msg("websocket disconnected")

	if h.client.config.ReconnectEnabled {
		select {
		case <-h.client.stopChan:
			return
		default:
			go h.client.attemptReconnect()
		}
	}
}

func (h *wsEventHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.client.config.PingInterval + h.client.config.PongTimeout))
	_ = socket.WritePong(nil)
}

func (h *wsEventHandler) OnPong(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.client.config.PingInterval + h.client.config.PongTimeout))
}

func (h *wsEventHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	data := message.Bytes()
	if len(data) == 0 {
		return
	}

	// gws recycles the message buffer after Close, so the frame must be
	// copied before it escapes this callback.
	frame := make([]byte, len(data))
	copy(frame, data)

	h.client.deliver(frame)
}

func (c *WSClient) deliver(frame []byte) {
	c.mu.RLock()
	handler := c.frameHandler
	c.mu.RUnlock()
	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Msg("frame handler panicked")
		}
	}()
	handler(frame)
}

// Connect establishes a websocket connection to the configured URL.
// It returns an error if the connection fails or the client is in an invalid state.
func (c *WSClient) Connect(ctx context.Context) error {
	if !c.casState(StateDisconnected, StateConnecting) &&
		!c.casState(StateReconnecting, StateConnecting) {
		current := c.State()
		if current == StateConnected {
			return nil
		}
		return fmt.Errorf("invalid state for connect: %s", current)
	}

	socket, _, err := gws.NewClient(c.handler, &gws.ClientOption{
		Addr: c.config.URL,
	})
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("connect websocket: %w", err)
	}

	c.mu.Lock()
	c.conn = socket
	connected := c.connectedChan
	c.mu.Unlock()

	c.wg.Go(func() {
		socket.ReadLoop()
	})

	select {
	case <-connected:
		c.pingOnce.Do(func() {
			c.wg.Go(c.pingLoop)
		})
		return nil
	case <-ctx.Done():
		_ = socket.NetConn().Close()
		c.setState(StateDisconnected)
		return ctx.Err()
	case <-c.stopChan:
		_ = socket.NetConn().Close()
		c.setState(StateClosed)
		return fmt.Errorf("client stopped")
	}
}

// pingLoop sends a ping every PingInterval while the connection is up.
// Send failures are left to the read deadline to surface.
func (c *WSClient) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.SendPing(); err != nil {
				c.logger.Debug().Err(err).Msg("keepalive ping skipped")
			}
		case <-c.stopChan:
			return
		}
	}
}

// Close gracefully shuts down the websocket client and releases all resources.
func (c *WSClient) Close() error {
	if !c.casState(StateConnected, StateClosed) &&
		!c.casState(StateConnecting, StateClosed) &&
		!c.casState(StateReconnecting, StateClosed) &&
		!c.casState(StateDisconnected, StateClosed) {
		return nil
	}

	close(c.stopChan)

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.NetConn().Close()
	}
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

// WriteMessage sends raw bytes over the websocket connection.
// It returns an error if the connection is not active.
func (c *WSClient) WriteMessage(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil || c.State() != StateConnected {
		return fmt.Errorf("websocket not connected")
	}

	return c.conn.WriteMessage(gws.OpcodeText, data)
}

// SendJSON marshals the given value to JSON and sends it over the websocket.
// It returns an error if marshaling fails or the connection is not active.
func (c *WSClient) SendJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return c.WriteMessage(data)
}

// SendPing sends a ping frame to the server to keep the connection alive.
// It returns an error if the connection is not active.
func (c *WSClient) SendPing() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil || c.State() != StateConnected {
		return fmt.Errorf("websocket not connected")
	}

	return c.conn.WritePing(nil)
}

func (c *WSClient) attemptReconnect() {
	if !c.casState(StateDisconnected, StateReconnecting) {
		return
	}

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		c.mu.Lock()
		attempts := c.reconnectAttempts
		c.reconnectAttempts++
		c.mu.Unlock()

		wait := c.calculateBackoff(attempts)
		c.logger.Info().
			Dur("wait", wait).
			Int("attempt", attempts+1).
			Msg("attempting reconnect")

		select {
		case <-time.After(wait):
		case <-c.stopChan:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.Connect(ctx); err != nil {
			c.logger.Error().Err(err).
				Int("attempt", attempts+1).
				Msg("reconnect failed")
			cancel()
			if !c.casState(StateDisconnected, StateReconnecting) {
				// Closed, or a manual Connect took over.
				return
			}
			continue
		}
		cancel()

		c.mu.RLock()
		onReconnect := c.onReconnect
		c.mu.RUnlock()
		if onReconnect != nil {
			onReconnect()
		}

		c.logger.Info().Msg("reconnected successfully")
		return
	}
}

func (c *WSClient) calculateBackoff(attempts int) time.Duration {
	wait := min(c.config.ReconnectMinWait*time.Duration(1<<uint(attempts)), c.config.ReconnectMaxWait)
	return wait
}
