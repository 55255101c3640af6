package orchestration

import (
	"encoding/json"
	"sync"
	"time"

	"onboardr/internal/metrics"
	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

// EventType is the wire name of an orchestration event
type EventType string

const (
	EventSuccess        EventType = "agent:success"
	EventError          EventType = "agent:error"
	EventTradeCompleted EventType = "trade:completed"
	EventTradeFailed    EventType = "trade:failed"
	EventAlertTriggered EventType = "alert:triggered"

	EventStarted EventType = "orchestration:started"
	EventStopped EventType = "orchestration:stopped"
)

// Event is emitted by agents and relayed by the manager
type Event struct {
	Type      EventType
	AgentID   string
	Data      interface{}
	Err       error
	Timestamp time.Time
}

// Payload is what gets broadcast to UI clients for this event
func (e Event) Payload() interface{} {
	switch e.Type {
	case EventSuccess:
		return map[string]interface{}{
			"agentId":   e.AgentID,
			"data":      e.Data,
			"timestamp": e.Timestamp.UnixMilli(),
		}
	case EventError:
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		return map[string]interface{}{
			"agentId":   e.AgentID,
			"error":     msg,
			"timestamp": e.Timestamp.UnixMilli(),
		}
	default:
		return e.Data
	}
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := struct {
		Type      EventType   `json:"type"`
		AgentID   string      `json:"agentId,omitempty"`
		Data      interface{} `json:"data,omitempty"`
		Error     string      `json:"error,omitempty"`
		Timestamp int64       `json:"timestamp"`
	}{
		Type:      e.Type,
		AgentID:   e.AgentID,
		Data:      e.Data,
		Timestamp: e.Timestamp.UnixMilli(),
	}
	if e.Err != nil {
		out.Error = e.Err.Error()
	}
	return json.Marshal(out)
}

// Listener receives events synchronously on the emitting goroutine
type Listener func(Event)

// emitter fans events out to listeners; a panicking listener is logged
// and does not affect the others
type emitter struct {
	log     *logger.Logger
	metrics *metrics.Collector

	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
	order     []int
}

func newEmitter(log *logger.Logger, m *metrics.Collector) *emitter {
	return &emitter{
		log:       log,
		metrics:   m,
		listeners: make(map[int]Listener),
	}
}

func (e *emitter) subscribe(l Listener) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	e.order = append(e.order, id)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.listeners, id)
			for i, v := range e.order {
				if v == id {
					e.order = append(e.order[:i], e.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	listeners := make([]Listener, 0, len(e.order))
	for _, id := range e.order {
		listeners = append(listeners, e.listeners[id])
	}
	e.mu.RUnlock()

	for _, l := range listeners {
		e.call(l, ev)
	}
}

func (e *emitter) call(l Listener, ev Event) {
	defer recoverPanic(e.log, e.metrics, "listener:"+string(ev.Type))
	l(ev)
}

// recoverPanic must be deferred directly
func recoverPanic(log *logger.Logger, m *metrics.Collector, where string) {
	if r := recover(); r != nil {
		err := errors.Newf("panic in %s: %v", where, r)
		m.RecordError("panic", err)
		log.Errorw("Recovered from panic", "where", where, "panic", r)
	}
}
