package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnState is the lifecycle of the persistent channel.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

const (
	defaultMaxRetries = 5
	defaultRetryDelay = 2 * time.Second
)

var errNotConnected = errors.New("client: channel not connected")

// Channel is one live bidirectional connection.
type Channel interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens a channel to the given URL. The default implementation speaks
// websocket; tests substitute in-memory pipes.
type Dialer interface {
	Dial(ctx context.Context, url string) (Channel, error)
}

type websocketChannel struct {
	conn *websocket.Conn
}

func (c *websocketChannel) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *websocketChannel) WriteJSON(v interface{}) error {
	return c.conn.WriteJSON(v)
}

func (c *websocketChannel) Close() error {
	return c.conn.Close()
}

type websocketDialer struct{}

// NewWebsocketDialer returns the production channel dialer.
func NewWebsocketDialer() Dialer {
	return websocketDialer{}
}

func (websocketDialer) Dial(ctx context.Context, url string) (Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &websocketChannel{conn: conn}, nil
}

// ConnectionManagerConfig describes the channel endpoint and retry policy.
type ConnectionManagerConfig struct {
	// URL is the websocket endpoint without credentials, e.g.
	// ws://host/ws.
	URL        string
	Dialer     Dialer
	Sink       EventSink
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// ConnectionManager owns the persistent channel: connect, bounded reconnect
// with a fixed delay, and teardown. Losing the channel never blocks the REST
// paths; it only degrades liveness.
type ConnectionManager struct {
	url        string
	dialer     Dialer
	sink       EventSink
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	mu         sync.Mutex
	state      ConnState
	channel    Channel
	credential string
	generation int64
}

// NewConnectionManager constructs a manager in the disconnected state.
func NewConnectionManager(cfg ConnectionManagerConfig) (*ConnectionManager, error) {
	if cfg.URL == "" {
		return nil, errors.New("client: channel url is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("client: event sink is required")
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = NewWebsocketDialer()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionManager{
		url:        cfg.URL,
		dialer:     dialer,
		sink:       cfg.Sink,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
		state:      StateDisconnected,
	}, nil
}

// State reports the current channel state.
func (m *ConnectionManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect establishes the channel with the given credential. Idempotent: any
// existing channel is torn down first so a session never holds two.
func (m *ConnectionManager) Connect(ctx context.Context, credential string) error {
	m.mu.Lock()
	m.teardownLocked()
	m.credential = credential
	m.state = StateConnecting
	generation := m.generation
	m.mu.Unlock()

	channel, err := m.dial(ctx)
	if err != nil {
		m.mu.Lock()
		if m.generation == generation {
			m.state = StateDisconnected
		}
		m.mu.Unlock()
		return &Failure{Kind: FailureNetwork, Err: err}
	}

	m.adopt(generation, channel)
	return nil
}

// Disconnect tears the channel down. Idempotent from any state; after it
// returns no stale read loop can deliver into the sink.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	m.state = StateDisconnected
}

// Send writes a command envelope to the channel, fire and forget.
func (m *ConnectionManager) Send(command string, data interface{}) error {
	m.mu.Lock()
	channel := m.channel
	m.mu.Unlock()
	if channel == nil {
		return errNotConnected
	}
	frame := map[string]interface{}{"event": command}
	if data != nil {
		frame["data"] = data
	}
	return channel.WriteJSON(frame)
}

// teardownLocked invalidates the running read loop and closes the channel.
func (m *ConnectionManager) teardownLocked() {
	m.generation++
	if m.channel != nil {
		_ = m.channel.Close()
		m.channel = nil
	}
}

func (m *ConnectionManager) dial(ctx context.Context) (Channel, error) {
	m.mu.Lock()
	url := m.url + "?access_token=" + m.credential
	m.mu.Unlock()
	return m.dialer.Dial(ctx, url)
}

// adopt installs the channel and starts its read loop, then issues the
// resync handshake so the sync engine converges on server truth.
func (m *ConnectionManager) adopt(generation int64, channel Channel) {
	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		_ = channel.Close()
		return
	}
	m.channel = channel
	m.state = StateConnected
	m.mu.Unlock()

	go m.readLoop(generation, channel)
	m.resyncHandshake()
}

func (m *ConnectionManager) resyncHandshake() {
	if err := m.Send(commandGetUnreadCount, nil); err != nil {
		m.logger.Warn("resync handshake failed", zap.Error(err))
		return
	}
	if err := m.Send(commandGetUnread, nil); err != nil {
		m.logger.Warn("resync handshake failed", zap.Error(err))
	}
}

func (m *ConnectionManager) readLoop(generation int64, channel Channel) {
	for {
		raw, err := channel.ReadMessage()
		if err != nil {
			m.mu.Lock()
			stale := m.generation != generation
			m.mu.Unlock()
			if !stale {
				m.reconnect(generation)
			}
			return
		}

		m.mu.Lock()
		stale := m.generation != generation
		m.mu.Unlock()
		if stale {
			return
		}

		event, err := decodeEvent(raw)
		if err != nil {
			m.logger.Warn("undecodable channel message", zap.Error(err))
			continue
		}
		m.sink.HandleEvent(event)
	}
}

// reconnect retries with a fixed delay up to the bound. Exhaustion leaves
// the manager disconnected; callers keep working over REST.
func (m *ConnectionManager) reconnect(lostGeneration int64) {
	m.mu.Lock()
	if m.generation != lostGeneration {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.state = StateConnecting
	generation := m.generation
	m.mu.Unlock()

	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		time.Sleep(m.retryDelay)

		m.mu.Lock()
		stale := m.generation != generation
		m.mu.Unlock()
		if stale {
			return
		}

		channel, err := m.dial(context.Background())
		if err == nil {
			m.logger.Info("channel reconnected", zap.Int("attempt", attempt))
			m.adopt(generation, channel)
			return
		}
		m.logger.Warn("channel reconnect failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	m.mu.Lock()
	if m.generation == generation {
		m.state = StateDisconnected
	}
	m.mu.Unlock()
}
