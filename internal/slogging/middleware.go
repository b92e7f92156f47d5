package slogging

import (
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware logs each HTTP request and stores a request logger under "logger"
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := Get().WithContext(c)
		c.Set("logger", logger)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status_code", status),
			slog.Duration("duration", time.Since(start)),
		}

		switch {
		case status >= 500:
			logger.ErrorCtx("Request completed with server error", attrs...)
		case status >= 400:
			logger.WarnCtx("Request completed with client error", attrs...)
		case status == http.StatusSwitchingProtocols:
			logger.DebugCtx("Request upgraded to WebSocket", attrs...)
		default:
			logger.InfoCtx("Request completed", attrs...)
		}
	}
}

// Recoverer turns handler panics into 500 responses with a logged stack
func Recoverer() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger, ok := c.Value("logger").(*ContextLogger)
				if !ok {
					logger = Get().WithContext(c)
				}

				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)

				logger.ErrorCtx("Panic recovered",
					slog.Any("panic_value", err),
					slog.String("stack_trace", string(buf[:n])),
					slog.String("method", c.Request.Method),
					slog.String("path", c.Request.URL.Path),
				)

				if !c.Writer.Written() {
					c.AbortWithStatus(http.StatusInternalServerError)
					return
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
