package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"onboardr/internal/metrics"
	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
	"onboardr/pkg/reconnect"
)

const shutdownTimeout = 10 * time.Second

// Manager keeps a duplex connection to the real-time relay. Inbound JSON
// messages are dispatched to handlers by their type field; unexpected
// closes trigger reconnects with exponential backoff.
type Manager struct {
	cfg       Config
	log       *logger.Logger
	reconnect *reconnect.Manager

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closing   bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup // tracks reader, ping and reconnect goroutines

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string][]Handler
}

// NewManager creates a relay manager. Nothing is dialed until Connect.
func NewManager(cfg Config, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Get()
	}
	cfg = cfg.withDefaults()
	log = log.Component("websocket")

	return &Manager{
		cfg: cfg,
		log: log,
		reconnect: reconnect.NewManager(reconnect.Config{
			BaseDelay:   cfg.ReconnectDelay,
			MaxAttempts: cfg.MaxReconnectAttempts,
		}, log),
		handlers: make(map[string][]Handler),
	}
}

// On registers a handler for an inbound message type or lifecycle event
func (m *Manager) On(msgType string, h Handler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers[msgType] = append(m.handlers[msgType], h)
}

// Connect dials the relay and returns once the handshake completes
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	m.closing = false
	if m.ctx == nil || m.ctx.Err() != nil {
		// the connection outlives the caller's request scope
		m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	m.mu.Unlock()

	if err := m.dial(ctx); err != nil {
		return err
	}
	m.reconnect.Reset()
	return nil
}

func (m *Manager) dial(ctx context.Context) error {
	m.log.Infow("Connecting to relay WebSocket", "url", m.cfg.URL)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = m.cfg.HandshakeTimeout

	conn, _, err := dialer.DialContext(ctx, m.cfg.URL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to connect to relay WebSocket")
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		_ = conn.Close()
		return errors.ErrWSNotConnected
	}
	m.conn = conn
	m.connected = true
	runCtx := m.ctx
	m.mu.Unlock()

	readDeadline := 2 * m.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	m.wg.Add(2)
	go m.readMessages(runCtx, conn)
	go m.pingLoop(runCtx, conn)

	metrics.SetWebSocketConnected(true)
	m.log.Info("Relay WebSocket connected")
	m.emit(Message{Type: EventConnected})
	return nil
}

// readMessages runs until the connection fails or is closed
func (m *Manager) readMessages(ctx context.Context, conn *websocket.Conn) {
	defer m.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(ctx, conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * m.cfg.PingInterval))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			m.log.Warnw("Failed to parse WebSocket message", "error", err)
			continue
		}
		metrics.WebSocketMessages.WithLabelValues("received").Inc()

		m.emit(msg)
		m.emit(Message{Type: EventMessage, Payload: json.RawMessage(data)})
	}
}

func (m *Manager) handleClose(ctx context.Context, conn *websocket.Conn, err error) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
		m.connected = false
	}
	closing := m.closing
	m.mu.Unlock()

	_ = conn.Close()
	metrics.SetWebSocketConnected(false)

	if closing || ctx.Err() != nil {
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.log.Infow("Relay WebSocket closed by server", "error", err)
	} else {
		m.log.Warnw("Relay WebSocket connection lost", "error", err)
	}
	m.emit(Message{Type: EventDisconnected})

	m.wg.Add(1)
	go m.reconnectLoop(ctx)
}

// reconnectLoop retries with base*2^(n-1) delays until success or the budget is spent
func (m *Manager) reconnectLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		attempt, err := m.reconnect.Wait(ctx)
		if err != nil {
			if errors.Is(err, errors.ErrWSMaxReconnectAttempts) {
				metrics.WebSocketReconnects.WithLabelValues("exhausted").Inc()
				m.log.Errorw("Max reconnection attempts reached", "attempts", attempt)
			}
			return
		}

		if err := m.dial(ctx); err != nil {
			metrics.WebSocketReconnects.WithLabelValues("failed").Inc()
			m.log.Warnw("Reconnection failed", "attempt", attempt, "error", err)
			continue
		}

		metrics.WebSocketReconnects.WithLabelValues("success").Inc()
		m.reconnect.RecordSuccess()
		return
	}
}

func (m *Manager) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			current := m.conn == conn
			m.mu.RUnlock()
			if !current {
				return
			}

			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.WriteTimeout))
			m.writeMu.Unlock()
			if err != nil {
				m.log.Debugw("Ping failed", "error", err)
			}
		}
	}
}

func (m *Manager) emit(msg Message) {
	m.handlersMu.RLock()
	handlers := append([]Handler(nil), m.handlers[msg.Type]...)
	m.handlersMu.RUnlock()

	for _, h := range handlers {
		m.safeCall(h, msg)
	}
}

func (m *Manager) safeCall(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorw("WebSocket handler panicked", "type", msg.Type, "panic", r)
		}
	}()
	h(msg)
}

// Send writes {type, payload} to the relay. When not connected the message
// is dropped with a warning.
func (m *Manager) Send(msgType string, payload interface{}) {
	m.mu.RLock()
	conn := m.conn
	connected := m.connected
	m.mu.RUnlock()

	if !connected || conn == nil {
		metrics.WebSocketMessages.WithLabelValues("dropped").Inc()
		m.log.Warnw("WebSocket not connected, cannot send message", "type", msgType)
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		m.log.Warnw("Failed to encode WebSocket payload", "type", msgType, "error", err)
		return
	}
	data, err := json.Marshal(Message{Type: msgType, Payload: body})
	if err != nil {
		m.log.Warnw("Failed to encode WebSocket message", "type", msgType, "error", err)
		return
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		metrics.WebSocketMessages.WithLabelValues("dropped").Inc()
		m.log.Warnw("Failed to send WebSocket message", "type", msgType, "error", err)
		return
	}
	metrics.WebSocketMessages.WithLabelValues("sent").Inc()
}

// Broadcast asks the relay to fan a message out to every client
func (m *Manager) Broadcast(msgType string, payload interface{}) {
	m.Send(TypeBroadcast, broadcastPayload{Type: msgType, Payload: payload})
}

// SendToClient asks the relay to deliver a message to one client
func (m *Manager) SendToClient(clientID, msgType string, payload interface{}) {
	m.Send(TypeClientMessage, clientPayload{ClientID: clientID, Type: msgType, Payload: payload})
}

// IsConnected reports whether the relay connection is open
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// ReconnectStats exposes the backoff state
func (m *Manager) ReconnectStats() reconnect.Stats {
	return m.reconnect.Stats()
}

// Disconnect closes the connection, stops reconnecting and waits for
// background goroutines. Safe to call repeatedly.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.closing = true
	if m.cancel != nil {
		m.cancel()
	}
	conn := m.conn
	m.conn = nil
	m.connected = false
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		err := conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		m.writeMu.Unlock()
		if err != nil {
			m.log.Debugw("Error sending close message", "error", err)
		}
		_ = conn.Close()
		metrics.SetWebSocketConnected(false)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		m.log.Warn("WebSocket shutdown timed out")
		return errors.Wrap(errors.ErrTimeout, "websocket shutdown timeout")
	}

	if conn != nil {
		m.log.Info("Relay WebSocket disconnected")
	}
	return nil
}
