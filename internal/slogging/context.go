package slogging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// GinContextLike is the subset of *gin.Context the request logger needs
type GinContextLike interface {
	Get(key any) (any, bool)
	GetHeader(key string) string
	ClientIP() string
}

// GetContextLogger returns the request logger stored by LoggerMiddleware, or the global logger
func GetContextLogger(c GinContextLike) SimpleLogger {
	if value, exists := c.Get("logger"); exists {
		if logger, ok := value.(SimpleLogger); ok {
			return logger
		}
	}
	return Get()
}

// WithContext returns a logger carrying request_id, client_ip and user_id
func (l *Logger) WithContext(c GinContextLike) *ContextLogger {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
		if setter, ok := c.(interface{ Header(string, string) }); ok {
			setter.Header("X-Request-ID", requestID)
		}
	}

	userID := ""
	if value, ok := c.Get("userID"); ok && value != nil {
		userID = fmt.Sprintf("%v", value)
	}

	return &ContextLogger{
		logger: l,
		slogger: l.slogger.With(
			slog.String("request_id", requestID),
			slog.String("client_ip", c.ClientIP()),
			slog.String("user_id", userID),
		),
		ctx:       context.Background(),
		requestID: requestID,
	}
}

// WithSession returns a logger bound to one collaboration session
func (l *Logger) WithSession(sessionID, userID, scanID string) *ContextLogger {
	return &ContextLogger{
		logger: l,
		slogger: l.slogger.With(
			slog.String("session_id", sessionID),
			slog.String("user_id", userID),
			slog.String("scan_id", scanID),
		),
		ctx: context.Background(),
	}
}

// ContextLogger adds request or session attributes to every record
type ContextLogger struct {
	logger    *Logger
	slogger   *slog.Logger
	ctx       context.Context
	requestID string
}

func (cl *ContextLogger) logf(level LogLevel, format string, args ...any) {
	if cl.logger.level > level {
		return
	}
	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}
	cl.slogger.Log(cl.ctx, level.toSlogLevel(), SanitizeLogMessage(message))
}

func (cl *ContextLogger) Debug(format string, args ...any) { cl.logf(LogLevelDebug, format, args...) }
func (cl *ContextLogger) Info(format string, args ...any)  { cl.logf(LogLevelInfo, format, args...) }
func (cl *ContextLogger) Warn(format string, args ...any)  { cl.logf(LogLevelWarn, format, args...) }
func (cl *ContextLogger) Error(format string, args ...any) { cl.logf(LogLevelError, format, args...) }

// DebugCtx logs a debug message with additional structured attributes
func (cl *ContextLogger) DebugCtx(msg string, attrs ...slog.Attr) {
	cl.slogger.LogAttrs(cl.ctx, slog.LevelDebug, SanitizeLogMessage(msg), attrs...)
}

// InfoCtx logs an info message with additional structured attributes
func (cl *ContextLogger) InfoCtx(msg string, attrs ...slog.Attr) {
	cl.slogger.LogAttrs(cl.ctx, slog.LevelInfo, SanitizeLogMessage(msg), attrs...)
}

// WarnCtx logs a warning message with additional structured attributes
func (cl *ContextLogger) WarnCtx(msg string, attrs ...slog.Attr) {
	cl.slogger.LogAttrs(cl.ctx, slog.LevelWarn, SanitizeLogMessage(msg), attrs...)
}

// ErrorCtx logs an error message with additional structured attributes
func (cl *ContextLogger) ErrorCtx(msg string, attrs ...slog.Attr) {
	cl.slogger.LogAttrs(cl.ctx, slog.LevelError, SanitizeLogMessage(msg), attrs...)
}

// WithAttrs returns a copy carrying extra attributes
func (cl *ContextLogger) WithAttrs(attrs ...slog.Attr) *ContextLogger {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return &ContextLogger{
		logger:    cl.logger,
		slogger:   cl.slogger.With(args...),
		ctx:       cl.ctx,
		requestID: cl.requestID,
	}
}

// RequestID returns the correlation id, empty for session loggers
func (cl *ContextLogger) RequestID() string {
	return cl.requestID
}
