package api

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/netscope/scancollab/internal/slogging"
	"github.com/netscope/scancollab/internal/unicodecheck"
)

// MessageHandler defines the interface for handling WebSocket messages
type MessageHandler interface {
	HandleMessage(client *CollabClient, message []byte) error
	MessageType() string
}

// MessageRouter handles routing of WebSocket messages to appropriate handlers
type MessageRouter struct {
	handlers map[string]MessageHandler
}

// NewMessageRouter creates a new message router with default handlers
func NewMessageRouter() *MessageRouter {
	router := &MessageRouter{
		handlers: make(map[string]MessageHandler),
	}

	router.RegisterHandler(roomMessageHandler[LockRequestMessage]{messageType: MessageTypeLockRequest})
	router.RegisterHandler(roomMessageHandler[LockReleaseMessage]{messageType: MessageTypeLockRelease})
	router.RegisterHandler(roomMessageHandler[DeviceUpdateMessage]{messageType: MessageTypeDeviceUpdate})
	router.RegisterHandler(roomMessageHandler[ScanUpdateMessage]{messageType: MessageTypeScanUpdate})
	router.RegisterHandler(roomMessageHandler[TypingMessage]{messageType: MessageTypeTyping, ephemeral: true})
	router.RegisterHandler(roomMessageHandler[CursorPositionMessage]{messageType: MessageTypeCursorPosition, ephemeral: true})
	router.RegisterHandler(&PingHandler{})

	return router
}

// RegisterHandler registers a message handler for a specific message type
func (r *MessageRouter) RegisterHandler(handler MessageHandler) {
	r.handlers[handler.MessageType()] = handler
}

// RouteMessage routes a message to the appropriate handler. Unknown and
// server-only types are logged and dropped; the connection stays open.
func (r *MessageRouter) RouteMessage(client *CollabClient, message []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slogging.Get().Error("PANIC in RouteMessage - Session: %s, User: %s, Error: %v, Stack: %s",
				client.session.ID, client.session.UserID, rec, debug.Stack())
			err = fmt.Errorf("%w: handler panic", ErrProtocol)
		}
	}()

	var base struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		slogging.Get().Warn("Failed to parse WebSocket message - Session: %s, User: %s, Error: %v",
			client.session.ID, client.session.UserID, err)
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	if serverOnlyMessageTypes[base.Type] {
		slogging.Get().Warn("Client %s sent server-only message type '%s' - protocol violation", client.session.UserID, base.Type)
		return nil
	}

	handler, exists := r.handlers[string(base.Type)]
	if !exists {
		slogging.Get().Warn("Unsupported message type '%s' from user %s in session %s",
			unicodecheck.SanitizeForLogging(string(base.Type), 64), client.session.UserID, client.session.ID)
		return nil
	}

	client.hub.metrics.MessageReceived(context.Background(), string(base.Type))
	return handler.HandleMessage(client, message)
}

func decodeMessage[T AsyncMessage](message []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(message, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if err := msg.Validate(); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return msg, nil
}

// roomMessageHandler validates a message and hands it to the client's room.
// Ephemeral messages are subject to the per-session rate limit and dropped silently when over it.
type roomMessageHandler[T AsyncMessage] struct {
	messageType MessageType
	ephemeral   bool
}

func (h roomMessageHandler[T]) MessageType() string {
	return string(h.messageType)
}

func (h roomMessageHandler[T]) HandleMessage(client *CollabClient, message []byte) error {
	msg, err := decodeMessage[T](message)
	if err != nil {
		return err
	}
	if h.ephemeral && !rateExempt(msg) && !client.allowEphemeral() {
		return nil
	}
	if !client.submit(msg) {
		return fmt.Errorf("room for scan %s is no longer accepting messages", client.session.ScanID)
	}
	return nil
}

func rateExempt(msg AsyncMessage) bool {
	m, ok := msg.(interface{ exemptFromRateLimit() bool })
	return ok && m.exemptFromRateLimit()
}

// PingHandler answers application pings without involving the room
type PingHandler struct{}

func (h *PingHandler) MessageType() string {
	return string(MessageTypePing)
}

func (h *PingHandler) HandleMessage(client *CollabClient, message []byte) error {
	msg, err := decodeMessage[PingMessage](message)
	if err != nil {
		return err
	}
	client.sendJSON(PongMessage{
		Type:       MessageTypePong,
		Timestamp:  msg.Timestamp,
		ServerTime: client.hub.clock.Now().UnixMilli(),
	})
	return nil
}
