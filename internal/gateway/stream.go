package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/apeks827/JiraTasksUpdate/internal/logging"
)

const (
	// wsPingInterval is the interval between ping frames sent to the client.
	wsPingInterval = 30 * time.Second
	// wsPongTimeout is how long to wait for a pong response before closing.
	wsPongTimeout = 10 * time.Second
	// wsWriteTimeout is the deadline for writing a message to the client.
	wsWriteTimeout = 5 * time.Second
)

// handleWebSocket upgrades the connection, sends the recent cycle history,
// then streams every published cycle until the client goes away. Client
// messages are routed through the Router.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := logging.WithComponent("gateway")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("WebSocket upgrade error", slog.Any("error", err))
		return
	}

	session := s.sessions.Create(conn)
	defer s.sessions.Remove(session.ID)
	log.Info("WebSocket connected", slog.String("session_id", session.ID), slog.String("remote", r.RemoteAddr))

	history, err := newMessage(MessageTypeHistory, s.History())
	if err == nil {
		err = session.Send(history)
	}
	if err != nil {
		log.Warn("WebSocket initial send failed", slog.Any("error", err))
		return
	}

	conn.SetPongHandler(func(string) error {
		session.UpdatePing()
		return conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := session.Ping(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("WebSocket read error", slog.Any("error", err))
			}
			return
		}
		s.router.HandleMessage(session, message)
	}
}
