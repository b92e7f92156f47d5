package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServerOptions wires the collaboration server
type ServerOptions struct {
	Hub            *Hub
	Verifier       TokenVerifier
	AllowedOrigins []string
	Health         *HealthChecker

	// HandshakeLimiter throttles upgrades per client IP when non-nil
	HandshakeLimiter HandshakeLimiter

	// MetricsHandler is mounted at /metrics when non-nil
	MetricsHandler http.Handler
}

// Server is the main API server instance
type Server struct {
	hub     *Hub
	gateway *Gateway
	health  *HealthChecker
	metrics http.Handler
}

// NewServer creates a new API server instance
func NewServer(opts ServerOptions) *Server {
	health := opts.Health
	if health == nil {
		health = NewHealthChecker(0, opts.Hub.Store(), nil)
	}
	gateway := NewGateway(opts.Hub, opts.Verifier, opts.AllowedOrigins)
	gateway.limiter = opts.HandshakeLimiter
	return &Server{
		hub:     opts.Hub,
		gateway: gateway,
		health:  health,
		metrics: opts.MetricsHandler,
	}
}

// RegisterHandlers registers the collaboration routes with the router
func (s *Server) RegisterHandlers(r *gin.Engine) {
	r.GET("/collaboration-ws", s.gateway.HandleWebSocket)
	r.GET("/health", s.HandleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}
}

// HandleHealth reports service status. It answers 200 whenever the process is
// serving; dependency trouble shows up as "degraded".
func (s *Server) HandleHealth(c *gin.Context) {
	result := s.health.CheckHealth(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status":   result.Overall,
		"rooms":    s.hub.RoomCount(),
		"sessions": s.hub.SessionCount(),
		"version":  GetVersion().Semver(),
		"components": gin.H{
			"store": result.Store,
			"redis": result.Redis,
		},
	})
}

// Hub returns the collaboration hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Shutdown closes all collaboration sessions
func (s *Server) Shutdown(ctx context.Context) error {
	return s.hub.Shutdown(ctx)
}
