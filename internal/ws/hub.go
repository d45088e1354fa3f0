// Package ws streams orchestrator state over WebSocket. Clients
// subscribe to channels: "status" delivers periodic full snapshots,
// "events" delivers every state change, and "events:<agentType>"
// narrows the stream to one agent type.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antlion/agentmq/internal/logging"
	"github.com/antlion/agentmq/internal/status"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// snapshotPeriod is how often subscribed clients get a full snapshot.
const snapshotPeriod = 5 * time.Second

// Hub manages all WebSocket clients and broadcasts.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client

	reporter *status.Reporter
	log      *logging.Logger

	stopCh chan struct{}
}

// NewHub creates a new WebSocket hub.
func NewHub(reporter *status.Reporter, log *logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		reporter:   reporter,
		log:        log.Component("ws"),
		stopCh:     make(chan struct{}),
	}
}

// Run starts the hub's main event loop. Call in a goroutine.
func (h *Hub) Run() {
	events := h.reporter.Subscribe()
	defer h.reporter.Unsubscribe(events)

	ticker := time.NewTicker(snapshotPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", "total", total)

		case event, ok := <-events:
			if !ok {
				return
			}
			h.broadcastEvent(event)

		case <-ticker.C:
			h.broadcastStatusSnapshot()
		}
	}
}

// Stop shuts down the hub.
func (h *Hub) Stop() {
	close(h.stopCh)
}

// ServeWS handles the WebSocket upgrade and creates a client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "error", err.Error())
		return
	}

	client := NewClient(h, conn)
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// HandleClientMessage processes a parsed message from a client.
func (h *Hub) HandleClientMessage(client *Client, env Envelope) {
	switch env.Type {
	case TypeSubscribe:
		var payload SubscribePayload
		if err := unmarshalPayload(h.log, env.Payload, &payload); err != nil {
			return
		}
		client.Subscribe(payload.Channel)

		// Status subscribers get an immediate snapshot so they never
		// wait a full period for first state.
		if payload.Channel == ChannelStatus {
			if msg := h.buildStatusSnapshot(); msg != nil {
				client.Send(msg)
			}
		}

	case TypeUnsubscribe:
		var payload UnsubscribePayload
		if err := unmarshalPayload(h.log, env.Payload, &payload); err != nil {
			return
		}
		client.Unsubscribe(payload.Channel)
	}
}

func (h *Hub) broadcastEvent(event status.Event) {
	msg, err := MakeEnvelope(TypeEvent, EventPayload{Event: event})
	if err != nil {
		return
	}

	typed := ""
	if event.AgentType != "" {
		typed = ChannelEvents + ":" + event.AgentType
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.IsSubscribed(ChannelEvents) || (typed != "" && client.IsSubscribed(typed)) {
			client.Send(msg)
		}
	}
}

func (h *Hub) broadcastStatusSnapshot() {
	msg := h.buildStatusSnapshot()
	if msg == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.IsSubscribed(ChannelStatus) {
			client.Send(msg)
		}
	}
}

func (h *Hub) buildStatusSnapshot() []byte {
	msg, err := MakeEnvelope(TypeStatusSnapshot, StatusSnapshotPayload{
		Types: h.reporter.Snapshot(),
	})
	if err != nil {
		return nil
	}
	return msg
}
