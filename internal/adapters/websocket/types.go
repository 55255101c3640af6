package websocket

import (
	"encoding/json"
	"time"
)

// Lifecycle events emitted by the manager itself
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventMessage      = "message" // every inbound message, regardless of type
)

// Outbound envelope types understood by the relay
const (
	TypeBroadcast     = "broadcast"
	TypeClientMessage = "client:message"
)

// Message is the JSON envelope exchanged with the relay: {"type": ..., "payload": ...}
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into dest
func (m Message) Decode(dest interface{}) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, dest)
}

// Handler receives inbound messages of the type it was registered for
type Handler func(Message)

// Config configures the relay connection
type Config struct {
	URL                  string
	ReconnectDelay       time.Duration // base delay, doubled per attempt
	MaxReconnectAttempts int
	PingInterval         time.Duration
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

type broadcastPayload struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type clientPayload struct {
	ClientID string      `json:"clientId"`
	Type     string      `json:"type"`
	Payload  interface{} `json:"payload"`
}
