package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_ClientNotifications(t *testing.T) {
	rs := newRelayServer(t)
	m := newTestManager(rs.wsURL())

	connected := make(chan string, 1)
	type clientMsg struct {
		clientID string
		msgType  string
		payload  json.RawMessage
	}
	messages := make(chan clientMsg, 1)

	m.OnClientConnected(func(clientID string) { connected <- clientID })
	m.OnClientMessage(func(clientID, msgType string, payload json.RawMessage) {
		messages <- clientMsg{clientID, msgType, payload}
	})

	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()
	require.Eventually(t, func() bool { return rs.latest() != nil }, time.Second, 5*time.Millisecond)

	conn := rs.latest()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"client:connected","payload":{}}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"client:connected","payload":{"clientId":"c7"}}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"client:message","payload":{"clientId":"c7","type":"request:refresh","payload":{"agentId":"analytics"}}}`)))

	select {
	case id := <-connected:
		assert.Equal(t, "c7", id, "notification without a client id is dropped")
	case <-time.After(2 * time.Second):
		t.Fatal("client:connected not dispatched")
	}

	select {
	case msg := <-messages:
		assert.Equal(t, "c7", msg.clientID)
		assert.Equal(t, "request:refresh", msg.msgType)
		assert.JSONEq(t, `{"agentId":"analytics"}`, string(msg.payload))
	case <-time.After(2 * time.Second):
		t.Fatal("client:message not dispatched")
	}
}
