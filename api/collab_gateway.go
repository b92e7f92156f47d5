package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/netscope/scancollab/auth"
	"github.com/netscope/scancollab/internal/slogging"
	"github.com/netscope/scancollab/internal/unicodecheck"
)

// TokenVerifier validates a bearer credential
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Identity, error)
}

// Gateway accepts collaboration upgrades, authenticates them and hands the
// resulting sessions to the hub.
type Gateway struct {
	hub      *Hub
	verifier TokenVerifier
	limiter  HandshakeLimiter
	upgrader websocket.Upgrader
}

// NewGateway creates a gateway. An empty allowedOrigins accepts any origin.
func NewGateway(hub *Hub, verifier TokenVerifier, allowedOrigins []string) *Gateway {
	return &Gateway{
		hub:      hub,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: hub.cfg.HandshakeTimeout,
			CheckOrigin:      originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// non-browser clients send no Origin
		return origin == "" || set["*"] || set[origin]
	}
}

// HandleWebSocket serves GET /collaboration-ws?scanId=<id>&token=<jwt>
func (g *Gateway) HandleWebSocket(c *gin.Context) {
	logger := slogging.GetContextLogger(c)

	if !g.admit(c) {
		return
	}

	scanID := strings.TrimSpace(c.Query("scanId"))
	token, tokenErr := auth.ExtractToken(c.Request)

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Failed to upgrade collaboration connection: %v", err)
		return
	}

	if scanID == "" {
		logger.Warn("Collaboration upgrade without scanId")
		g.reject(conn, ClosePolicyViolation, "scanId is required")
		return
	}
	if err := unicodecheck.CheckIdentifier(scanID); err != nil {
		logger.Warn("Collaboration upgrade with invalid scanId %q: %v", unicodecheck.SanitizeForLogging(scanID, 128), err)
		g.reject(conn, ClosePolicyViolation, "scanId "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), g.hub.cfg.HandshakeTimeout)
	defer cancel()

	identity, err := g.authenticate(ctx, token, tokenErr)
	if err != nil {
		logger.Warn("Collaboration authentication failed for scan %s: %v", unicodecheck.SanitizeForLogging(scanID, 128), err)
		g.reject(conn, CloseAuthFailed, "authentication failed")
		return
	}

	session := NewSession(identity, scanID, g.hub.clock.Now())
	client := g.hub.newClient(conn, session)
	if err := g.hub.registerSession(client); err != nil {
		g.reject(conn, CloseGoingAway, "server shutting down")
		return
	}
	c.Set("userID", identity.UserID)
	slogging.LogWebSocketConnection("connected", session.ID, session.UserID, scanID)

	go client.writePump()

	if err := g.hub.Join(ctx, client); err != nil {
		code := closeCodeForError(err)
		logger.Warn("Session %s could not join scan %s (close %d): %v", session.ID, scanID, int(code), err)
		g.hub.metrics.HandshakeRejected(context.Background(), int(code))
		client.shutdown(code, code.String())
		g.hub.unregisterSession(client)
		return
	}

	go client.readPump()
}

// admit applies the per-IP handshake limit. Throttled clients get a plain 429
// so they never hold a socket; a Redis failure lets the handshake through.
func (g *Gateway) admit(c *gin.Context) bool {
	if g.limiter == nil {
		return true
	}
	allowed, retryAfter, err := g.limiter.Allow(c.Request.Context(), c.ClientIP())
	if err != nil {
		slogging.GetContextLogger(c).Warn("Handshake rate limiter unavailable, admitting %s: %v", c.ClientIP(), err)
		return true
	}
	if allowed {
		return true
	}
	g.hub.metrics.HandshakeRejected(c.Request.Context(), http.StatusTooManyRequests)
	c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":             "rate_limited",
		"error_description": "too many collaboration handshakes from this address",
	})
	return false
}

func (g *Gateway) authenticate(ctx context.Context, token string, tokenErr error) (auth.Identity, error) {
	if tokenErr != nil {
		return auth.Identity{}, tokenErr
	}
	return g.verifier.Verify(ctx, token)
}

// reject closes a freshly upgraded connection before any session state exists
func (g *Gateway) reject(conn *websocket.Conn, code CloseCode, text string) {
	g.hub.metrics.HandshakeRejected(context.Background(), int(code))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(int(code), text),
		time.Now().Add(g.hub.cfg.WriteTimeout))
	_ = conn.Close()
}
