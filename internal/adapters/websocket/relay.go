package websocket

import (
	"encoding/json"
)

// Inbound relay notifications about UI clients
const (
	TypeClientConnected = "client:connected"
)

// ClientMessage is a message a UI client sent through the relay
type ClientMessage struct {
	ClientID string          `json:"clientId"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// OnClientConnected registers fn for client:connected notifications
func (m *Manager) OnClientConnected(fn func(clientID string)) {
	m.On(TypeClientConnected, func(msg Message) {
		var p struct {
			ClientID string `json:"clientId"`
		}
		if err := msg.Decode(&p); err != nil || p.ClientID == "" {
			m.log.Warnw("Ignoring malformed client:connected", "error", err)
			return
		}
		fn(p.ClientID)
	})
}

// OnClientMessage registers fn for messages relayed from UI clients
func (m *Manager) OnClientMessage(fn func(clientID, msgType string, payload json.RawMessage)) {
	m.On(TypeClientMessage, func(msg Message) {
		var cm ClientMessage
		if err := msg.Decode(&cm); err != nil || cm.ClientID == "" {
			m.log.Warnw("Ignoring malformed client:message", "error", err)
			return
		}
		fn(cm.ClientID, cm.Type, cm.Payload)
	})
}
