package slogging

import (
	"context"
	"encoding/json"
	"log/slog"
)

// WebSocketLoggingConfig controls per-message WebSocket tracing
type WebSocketLoggingConfig struct {
	Enabled        bool
	RedactTokens   bool
	MaxMessageSize int64
}

// WSMessageDirection indicates the direction of the WebSocket message
type WSMessageDirection string

const (
	WSMessageInbound  WSMessageDirection = "INBOUND"
	WSMessageOutbound WSMessageDirection = "OUTBOUND"
)

// LogWebSocketMessage writes a debug record for one frame when tracing is enabled
func LogWebSocketMessage(direction WSMessageDirection, sessionID, scanID, messageType string, data []byte, config WebSocketLoggingConfig) {
	logger := Get()
	if !config.Enabled || !logger.IsDebugEnabled() {
		return
	}

	attrs := []slog.Attr{
		slog.String("direction", string(direction)),
		slog.String("session_id", sessionID),
		slog.String("scan_id", scanID),
		slog.String("message_type", messageType),
		slog.Int("size_bytes", len(data)),
	}

	if config.MaxMessageSize > 0 && int64(len(data)) > config.MaxMessageSize {
		logger.DebugCtx(context.Background(), "WebSocket message", append(attrs, slog.Bool("truncated", true))...)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.DebugCtx(context.Background(), "WebSocket message", append(attrs, slog.String("message_content", string(data)))...)
		return
	}
	if config.RedactTokens {
		payload = redactJSONFields(payload)
	}
	logger.DebugCtx(context.Background(), "WebSocket message", append(attrs, slog.Any("message_data", payload))...)
}

func redactJSONFields(data map[string]any) map[string]any {
	config := DefaultRedactionConfig()
	if err := config.CompileRules(); err != nil {
		return data
	}
	h := &redactionHandler{config: config}

	out := make(map[string]any, len(data))
	for key, value := range data {
		if nested, ok := value.(map[string]any); ok {
			out[key] = redactJSONFields(nested)
			continue
		}
		str, isString := value.(string)
		if !isString {
			out[key] = value
			continue
		}
		if redacted, keep := h.redact(slog.String(key, str), slog.LevelDebug); keep {
			out[key] = redacted.Value.String()
		}
	}
	return out
}

// LogWebSocketConnection records a connection lifecycle event
func LogWebSocketConnection(event, sessionID, userID, scanID string) {
	Get().InfoCtx(context.Background(), "WebSocket connection event",
		slog.String("event", event),
		slog.String("session_id", sessionID),
		slog.String("user_id", userID),
		slog.String("scan_id", scanID),
	)
}

// LogWebSocketError records a connection-scoped failure
func LogWebSocketError(errorType, errorMessage, sessionID, userID string) {
	Get().ErrorCtx(context.Background(), "WebSocket error",
		slog.String("error_type", errorType),
		slog.String("error_message", errorMessage),
		slog.String("session_id", sessionID),
		slog.String("user_id", userID),
	)
}
