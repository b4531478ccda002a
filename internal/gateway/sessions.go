package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/apeks827/JiraTasksUpdate/internal/logging"
)

// Session is one connected WebSocket client.
type Session struct {
	ID        string
	Conn      *websocket.Conn
	CreatedAt time.Time
	LastPing  time.Time
	mu        sync.Mutex
}

// SessionManager tracks active sessions.
type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionManager creates a new session manager
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
	}
}

// Create registers a session for a WebSocket connection.
func (m *SessionManager) Create(conn *websocket.Conn) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	session := &Session{
		ID:        uuid.New().String(),
		Conn:      conn,
		CreatedAt: now,
		LastPing:  now,
	}
	m.sessions[session.ID] = session
	return session
}

// Remove closes and forgets a session.
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[id]; ok {
		_ = session.Conn.Close()
		delete(m.sessions, id)
	}
}

// CloseAll closes every session, used on shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, session := range m.sessions {
		session.mu.Lock()
		_ = session.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(wsWriteTimeout))
		session.mu.Unlock()
		_ = session.Conn.Close()
		delete(m.sessions, id)
	}
}

// Count returns the number of active sessions
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Broadcast sends a message to all sessions. A failed write drops only that
// client; its read loop notices and removes it.
func (m *SessionManager) Broadcast(message []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, session := range m.sessions {
		if err := session.Send(message); err != nil {
			logging.WithComponent("gateway").Debug("WebSocket broadcast failed",
				slog.String("session_id", session.ID), slog.Any("error", err))
		}
	}
}

// Send writes a text message to this session.
func (s *Session) Send(message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.Conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.Conn.WriteMessage(websocket.TextMessage, message)
}

// Ping writes a ping frame.
func (s *Session) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// UpdatePing updates the last ping time
func (s *Session) UpdatePing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastPing = time.Now()
}
