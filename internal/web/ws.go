package web

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/camera-control/ccs/internal/auth"
	"github.com/camera-control/ccs/internal/dispatch"
)

// wsWriteWait bounds writing one reply frame.
const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsClient is one WebSocket connection. Each text frame is a command line
// and is answered by one text frame holding the line-protocol reply.
type wsClient struct {
	id        string
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { c.conn.Close() })
}

// handleWebSocket handles GET /ws
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	// Sessions are long lived; drop any deadline left by the HTTP server
	conn.SetReadDeadline(time.Time{})

	client := &wsClient{id: uuid.NewString(), conn: conn}
	if !s.trackWebSocket(client) {
		client.close()
		return
	}
	defer func() {
		s.untrackWebSocket(client)
		client.close()
	}()

	log := s.logger.With(zap.String("session", client.id), zap.String("remote", r.RemoteAddr))
	log.Info("WebSocket session opened")
	defer log.Info("WebSocket session closed")

	lines := dispatch.NewLineSession(s.dispatcher, dispatch.Request{
		Source:  dispatch.SourceWebSocket,
		Session: client.id,
		User:    auth.Subject(r),
		Record:  s.opts.LogCommands,
	})

	// Commands run to completion even if the client goes away
	ctx := context.WithoutCancel(r.Context())
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		line := strings.TrimSpace(string(message))
		if line == "" {
			continue
		}
		reply, quit := lines.Handle(ctx, line)

		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			log.Debug("Failed to write reply", zap.Error(err))
			return
		}
		if quit {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		}
	}
}

func (s *Server) trackWebSocket(c *wsClient) bool {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if s.wsClients == nil {
		return false
	}
	s.wsClients[c] = struct{}{}
	return true
}

func (s *Server) untrackWebSocket(c *wsClient) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	delete(s.wsClients, c)
}

// closeWebSockets closes every WebSocket session and refuses new ones.
// Hijacked connections are not closed by http.Server.Shutdown.
func (s *Server) closeWebSockets() {
	s.wsMu.Lock()
	clients := s.wsClients
	s.wsClients = nil
	s.wsMu.Unlock()

	for c := range clients {
		c.close()
	}
}

// WebSocketCount returns the number of open WebSocket sessions.
func (s *Server) WebSocketCount() int {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return len(s.wsClients)
}
