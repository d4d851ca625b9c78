package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"lanchat/internal/authutil"
	"lanchat/internal/discovery"
	"lanchat/internal/storage"
	"lanchat/internal/wire"
)

// Network is the slice of the orchestrator the control API drives. The
// business logic stays in the orchestrator; this service is routing, auth
// and response shaping.
type Network interface {
	SendChat(text string) (wire.Message, error)
	SendChatWithMeta(text string, meta wire.ChatMeta) (wire.Message, error)
	SendFileFromPath(path string) (wire.Message, error)
	SendEdit(targetID, text string) (wire.Message, error)
	SendUndo(targetID string) wire.Message
	SendPin(targetID, preview string) wire.Message
	SendUnpin(targetID string) wire.Message
	PeersSnapshot() []discovery.Peer
	QueueSize() int
	Pinned() (wire.Message, bool)
	History() *storage.HistoryStore
	Identity() wire.Identity
	SelfIP() string
	APIPort() int
}

// Service implements the localhost control-plane API mounted under /api/v1
// on the embedded file server.
type Service struct {
	net     Network
	hub     *EventHub
	enabled atomic.Bool
}

// NewService builds a detached service; Attach must run before the handler
// is mounted. The split exists because the event hub has to join the sink
// chain before the network it reports on is constructed.
func NewService(network Network) *Service {
	s := &Service{
		net: network,
		hub: NewEventHub(),
	}
	s.enabled.Store(true)
	return s
}

// Attach binds the service to the network it controls.
func (s *Service) Attach(network Network) { s.net = network }

// Events returns the hub fanning network events out to API clients; wire it
// into the orchestrator's sink chain.
func (s *Service) Events() *EventHub { return s.hub }

func (s *Service) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

func (s *Service) Close() { s.hub.Close() }

// Handler builds the chi router. Description endpoints are open; everything
// else is localhost-only and token-authenticated.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost", "http://127.0.0.1"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Token"},
		MaxAge:         300,
	}))
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDescribe)
		r.Get("/help", s.handleHelp)

		r.Group(func(r chi.Router) {
			r.Use(s.restricted)
			r.Get("/status", s.handleStatus)
			r.Get("/peers", s.handlePeers)
			r.Get("/messages", s.handleMessages)
			r.Get("/pin", s.handlePinGet)
			r.Get("/events", s.hub.handleWS)
			r.Post("/send", s.handleSend)
			r.Post("/send/file", s.handleSendFile)
			r.Post("/edit", s.handleEdit)
			r.Post("/undo", s.handleUndo)
			r.Post("/pin", s.handlePin)
			r.Post("/unpin", s.handleUnpin)
		})
	})
	return r
}

// restricted gates the non-description endpoints: API enabled, loopback
// client, valid token.
func (s *Service) restricted(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.enabled.Load() {
			writeJSON(w, http.StatusNotFound, errorBody("API disabled"))
			return
		}
		if !isLocalhost(r.RemoteAddr) {
			writeJSON(w, http.StatusForbidden, errorBody("Localhost only"))
			return
		}
		token := r.Header.Get("X-API-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if _, err := authutil.ValidateToken(token); err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody("Unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLocalhost(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Service) handleDescribe(w http.ResponseWriter, r *http.Request) {
	base := fmt.Sprintf("http://127.0.0.1:%d/api/v1", s.net.APIPort())
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     "LAN Chat API",
		"version":  "v1",
		"base_url": base,
		"auth": map[string]any{
			"required": true,
			"header":   "X-API-Token",
			"query":    "token",
		},
		"notes": []string{
			"Localhost only (127.0.0.1).",
			"All non-description endpoints require a valid API token.",
			"Text size limit: 8 KB UTF-8.",
			"File send expects a local file path on this machine.",
		},
		"endpoints": []map[string]string{
			{"method": "GET", "path": "/api/v1/", "description": "Self description."},
			{"method": "GET", "path": "/api/v1/help", "description": "Plain text help."},
			{"method": "GET", "path": "/api/v1/status", "description": "API and network status."},
			{"method": "GET", "path": "/api/v1/peers", "description": "List online peers."},
			{"method": "GET", "path": "/api/v1/messages?limit=50", "description": "Recent messages."},
			{"method": "GET", "path": "/api/v1/pin", "description": "Get pinned message."},
			{"method": "GET", "path": "/api/v1/events", "description": "WebSocket event stream."},
			{"method": "POST", "path": "/api/v1/send", "description": "Send chat message."},
			{"method": "POST", "path": "/api/v1/send/file", "description": "Send local file by path."},
			{"method": "POST", "path": "/api/v1/edit", "description": "Edit a message."},
			{"method": "POST", "path": "/api/v1/undo", "description": "Retract a message."},
			{"method": "POST", "path": "/api/v1/pin", "description": "Pin a message."},
			{"method": "POST", "path": "/api/v1/unpin", "description": "Unpin a message."},
		},
	})
}

func (s *Service) handleHelp(w http.ResponseWriter, r *http.Request) {
	base := fmt.Sprintf("http://127.0.0.1:%d/api/v1", s.net.APIPort())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "LAN Chat API\nBase: %s\nAuth: X-API-Token header or ?token=...\n", base)
	fmt.Fprint(w, ""+
		"GET  /api/v1/          self description\n"+
		"GET  /api/v1/status    status + queue\n"+
		"GET  /api/v1/peers     online peers\n"+
		"GET  /api/v1/messages  recent messages\n"+
		"GET  /api/v1/events    websocket event stream\n"+
		"POST /api/v1/send      send chat\n"+
		"POST /api/v1/send/file send file by path\n"+
		"POST /api/v1/edit      edit message\n"+
		"POST /api/v1/undo      undo message\n"+
		"POST /api/v1/pin       pin message\n"+
		"POST /api/v1/unpin     unpin message\n")
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := s.net.Identity()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"api_enabled":  s.enabled.Load(),
		"api_base_url": fmt.Sprintf("http://127.0.0.1:%d/api/v1", s.net.APIPort()),
		"queue_size":   s.net.QueueSize(),
		"self": map[string]any{
			"sender_id":     id.SenderID,
			"name":          id.Name,
			"avatar_sha256": id.AvatarSHA,
			"ip":            s.net.SelfIP(),
			"http_port":     s.net.APIPort(),
		},
	})
}

func (s *Service) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "peers": s.net.PeersSnapshot()})
}

func (s *Service) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"))
	messages, err := s.net.History().Recent(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("History unavailable"))
		return
	}
	if messages == nil {
		messages = []wire.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "messages": messages})
}

func (s *Service) handlePinGet(w http.ResponseWriter, r *http.Request) {
	if pinned, ok := s.net.Pinned(); ok {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "pinned": pinned})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "pinned": nil})
}

type sendRequest struct {
	Text         string `json:"text"`
	MessageID    string `json:"message_id"`
	ReplyTo      string `json:"reply_to"`
	ReplyName    string `json:"reply_name"`
	ReplyPreview string `json:"reply_preview"`
	ReplyType    string `json:"reply_type"`
}

func (s *Service) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Missing text"))
		return
	}
	var (
		msg wire.Message
		err error
	)
	if req.ReplyTo != "" {
		msg, err = s.net.SendChatWithMeta(text, wire.ChatMeta{
			ReplyTo:      req.ReplyTo,
			ReplyName:    req.ReplyName,
			ReplyPreview: req.ReplyPreview,
			ReplyType:    req.ReplyType,
		})
	} else {
		msg, err = s.net.SendChat(text)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Text too long (max 8 KB)"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message_id": msg.MessageID})
}

func (s *Service) handleSendFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	path := strings.TrimSpace(req.Path)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Missing path"))
		return
	}
	msg, err := s.net.SendFileFromPath(path)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message_id": msg.MessageID, "file_id": msg.FileID})
}

func (s *Service) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID string `json:"message_id"`
		Text      string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Text)
	if req.MessageID == "" || text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Missing message_id or text"))
		return
	}
	if _, err := s.net.SendEdit(req.MessageID, text); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Text too long (max 8 KB)"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Service) handleUndo(w http.ResponseWriter, r *http.Request) {
	id, ok := requireMessageID(w, r)
	if !ok {
		return
	}
	s.net.SendUndo(id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Service) handlePin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID string `json:"message_id"`
		Preview   string `json:"preview"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MessageID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Missing message_id"))
		return
	}
	preview := strings.TrimSpace(req.Preview)
	if preview == "" {
		preview = s.previewFromHistory(req.MessageID)
	}
	s.net.SendPin(req.MessageID, preview)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Service) handleUnpin(w http.ResponseWriter, r *http.Request) {
	id, ok := requireMessageID(w, r)
	if !ok {
		return
	}
	s.net.SendUnpin(id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Service) previewFromHistory(messageID string) string {
	msg, ok := s.net.History().Find(messageID)
	if !ok {
		return ""
	}
	text := msg.Text
	if text == "" {
		text = msg.Filename
	}
	return trimPreview(text)
}

const previewMaxLen = 120

func trimPreview(text string) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	if len(cleaned) <= previewMaxLen {
		return cleaned
	}
	return cleaned[:previewMaxLen-1] + "."
}

func requireMessageID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		MessageID string `json:"message_id"`
	}
	if !decodeBody(w, r, &req) {
		return "", false
	}
	if req.MessageID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Missing message_id"))
		return "", false
	}
	return req.MessageID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid JSON payload"))
		return false
	}
	return true
}

func parseLimit(raw string) int {
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 50
	}
	if value < 1 {
		return 1
	}
	if value > 200 {
		return 200
	}
	return value
}

func errorBody(msg string) map[string]any {
	return map[string]any{"ok": false, "error": msg}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("json write: %v", err)
	}
}
