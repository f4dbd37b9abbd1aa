package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"present-this/internal/web"

	"github.com/gorilla/websocket"
)

// sessionHub fans state out to every open browser tab. All tabs see the same
// session, so there is a single connection group. writeMu serializes frame
// writes; broadcasts come from both request handlers and transport callbacks.
type sessionHub struct {
	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	writeMu sync.Mutex
}

func newSessionHub() *sessionHub {
	return &sessionHub{
		conns: make(map[*websocket.Conn]struct{}),
	}
}

func (h *sessionHub) Add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *sessionHub) Remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
	_ = conn.Close()
}

func (h *sessionHub) Send(conn *websocket.Conn, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func (h *sessionHub) Broadcast(payload any) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	var dead []*websocket.Conn
	h.writeMu.Lock()
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			dead = append(dead, conn)
		}
	}
	h.writeMu.Unlock()
	for _, conn := range dead {
		h.Remove(conn)
	}
}

func (s *Server) handleSessionWebsocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	log.Printf("ws connected remote=%s", r.RemoteAddr)
	s.ws.Add(conn)

	_, connected := s.store.Active()
	s.ws.Send(conn, map[string]any{"type": "view", "connected": connected})
	s.ws.Send(conn, map[string]any{"type": "upload", "upload": s.uploadSnapshot()})
	if connected {
		s.ws.Send(conn, map[string]any{"type": "display", "display": s.displayState()})
	}
	go s.readSessionWS(conn)
}

// readSessionWS drains the connection. Text frames are ignored; binary frames
// carry captured microphone PCM and feed the active session's microphone.
func (s *Server) readSessionWS(conn *websocket.Conn) {
	defer s.ws.Remove(conn)
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			log.Printf("ws disconnected error=%v", err)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if active, ok := s.store.Active(); ok {
			active.Room.Microphone().WritePCM(payload)
		}
	}
}

func (s *Server) broadcastDisplay() {
	s.ws.Broadcast(map[string]any{"type": "display", "display": s.displayState()})
}

func (s *Server) broadcastView(connected bool) {
	s.ws.Broadcast(map[string]any{"type": "view", "connected": connected})
}

func (s *Server) broadcastUpload(state web.UploadState) {
	s.ws.Broadcast(map[string]any{"type": "upload", "upload": state})
}
