package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/apeks827/JiraTasksUpdate/internal/logging"
)

// MessageType defines the type of a WebSocket message
type MessageType string

const (
	MessageTypeCycle   MessageType = "cycle"
	MessageTypeHistory MessageType = "history"
	MessageTypeStatus  MessageType = "status"
	MessageTypePause   MessageType = "pause"
	MessageTypeResume  MessageType = "resume"
	MessageTypePing    MessageType = "ping"
	MessageTypePong    MessageType = "pong"
	MessageTypeError   MessageType = "error"
)

// Message is the envelope for every WebSocket frame in both directions.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newMessage(t MessageType, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(Message{Type: t, Payload: raw})
}

// Router dispatches client messages to handlers by type.
type Router struct {
	messageHandlers map[MessageType][]func(*Session, json.RawMessage)
	mu              sync.RWMutex
	logger          *slog.Logger
}

// NewRouter creates a router with the ping handler registered.
func NewRouter() *Router {
	r := &Router{
		messageHandlers: make(map[MessageType][]func(*Session, json.RawMessage)),
		logger:          logging.WithComponent("gateway"),
	}
	r.RegisterMessageHandler(MessageTypePing, r.handlePing)
	return r
}

// RegisterMessageHandler registers a handler for a message type
func (r *Router) RegisterMessageHandler(msgType MessageType, handler func(*Session, json.RawMessage)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageHandlers[msgType] = append(r.messageHandlers[msgType], handler)
}

// HandleMessage routes a message to registered handlers. Unparseable and
// unknown messages get an error reply.
func (r *Router) HandleMessage(session *Session, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		r.logger.Debug("Failed to parse message", slog.Any("error", err))
		r.replyError(session, "invalid message")
		return
	}

	r.mu.RLock()
	handlers, ok := r.messageHandlers[msg.Type]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug("No handler for message type", slog.String("type", string(msg.Type)))
		r.replyError(session, "unknown message type: "+string(msg.Type))
		return
	}

	for _, handler := range handlers {
		handler(session, msg.Payload)
	}
}

func (r *Router) replyError(session *Session, text string) {
	if data, err := newMessage(MessageTypeError, text); err == nil {
		_ = session.Send(data)
	}
}

func (r *Router) handlePing(session *Session, payload json.RawMessage) {
	session.UpdatePing()
	response, _ := json.Marshal(Message{
		Type:    MessageTypePong,
		Payload: payload,
	})
	_ = session.Send(response)
}

type watchRequest struct {
	Watch string `json:"watch"`
}

func (s *Server) handleStatusMessage(session *Session, _ json.RawMessage) {
	if data, err := newMessage(MessageTypeStatus, s.status()); err == nil {
		_ = session.Send(data)
	}
}

func (s *Server) handlePauseMessage(pause bool) func(*Session, json.RawMessage) {
	return func(session *Session, payload json.RawMessage) {
		var req watchRequest
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				s.router.replyError(session, "invalid payload")
				return
			}
		}
		if !s.setPaused(req.Watch, pause) {
			s.router.replyError(session, "unknown watch: "+req.Watch)
			return
		}
		s.handleStatusMessage(session, nil)
	}
}
