package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"lanchat/internal/discovery"
	"lanchat/internal/wire"
)

// apiEvent is the envelope pushed to /api/v1/events subscribers. Kind is one
// of hello, chat, file, peers, online_count, avatar.
type apiEvent struct {
	Kind      string           `json:"kind"`
	Message   *wire.Message    `json:"message,omitempty"`
	SourceIP  string           `json:"source_ip,omitempty"`
	Peers     []discovery.Peer `json:"peers,omitempty"`
	Count     *int             `json:"count,omitempty"`
	SenderID  string           `json:"sender_id,omitempty"`
	AvatarSHA string           `json:"avatar_sha256,omitempty"`
}

// EventHub streams network events to WebSocket clients. It satisfies the
// orchestrator's sink interface so it can sit in the sink chain next to the
// terminal renderer.
type EventHub struct {
	upgrader  websocket.Upgrader
	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}
	closed    bool
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *EventHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}
	h.clientsMu.Lock()
	if h.closed {
		h.clientsMu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[conn] = struct{}{}
	h.clientsMu.Unlock()
	go h.readLoop(conn)
}

// readLoop drains the client so pings and close frames are processed. The
// stream is one-way: inbound payloads are discarded.
func (h *EventHub) readLoop(conn *websocket.Conn) {
	defer h.unregister(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) unregister(conn *websocket.Conn) {
	h.clientsMu.Lock()
	delete(h.clients, conn)
	h.clientsMu.Unlock()
	_ = conn.Close()
}

func (h *EventHub) Close() {
	h.clientsMu.Lock()
	h.closed = true
	for conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()
}

// ClientCount reports the number of connected subscribers.
func (h *EventHub) ClientCount() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

func (h *EventHub) send(evt apiEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("api event encode: %v", err)
		return
	}
	h.clientsMu.Lock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			delete(h.clients, conn)
			_ = conn.Close()
		}
	}
	h.clientsMu.Unlock()
}

func (h *EventHub) OnHello(msg wire.Message, sourceIP string) {
	h.send(apiEvent{Kind: "hello", Message: &msg, SourceIP: sourceIP})
}

func (h *EventHub) OnChat(msg wire.Message, sourceIP string) {
	h.send(apiEvent{Kind: "chat", Message: &msg, SourceIP: sourceIP})
}

func (h *EventHub) OnFile(msg wire.Message, sourceIP string) {
	h.send(apiEvent{Kind: "file", Message: &msg, SourceIP: sourceIP})
}

func (h *EventHub) OnPeersUpdated(peers []discovery.Peer) {
	h.send(apiEvent{Kind: "peers", Peers: peers})
}

func (h *EventHub) OnOnlineCount(n int) {
	h.send(apiEvent{Kind: "online_count", Count: &n})
}

func (h *EventHub) OnAvatarUpdated(senderID, avatarSHA string) {
	h.send(apiEvent{Kind: "avatar", SenderID: senderID, AvatarSHA: avatarSHA})
}
