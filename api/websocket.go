package api

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/netscope/scancollab/auth"
	"github.com/netscope/scancollab/internal/config"
	"github.com/netscope/scancollab/internal/slogging"
	"github.com/netscope/scancollab/internal/telemetry"
	"github.com/netscope/scancollab/internal/uuidgen"
)

// Session is one authenticated collaboration connection
type Session struct {
	ID          string
	UserID      string
	Username    string
	Email       string
	ScanID      string
	ConnectedAt time.Time

	lastActivity atomic.Int64
}

// NewSession creates a session for identity viewing scanID
func NewSession(identity auth.Identity, scanID string, now time.Time) *Session {
	s := &Session{
		ID:          uuidgen.MustString(uuidgen.KindSession),
		UserID:      identity.UserID,
		Username:    identity.Username,
		Email:       identity.Email,
		ScanID:      scanID,
		ConnectedAt: now.UTC(),
	}
	s.Touch(now)
	return s
}

// Touch records activity on the session
func (s *Session) Touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

// LastActivityAt returns the time of the last inbound frame
func (s *Session) LastActivityAt() time.Time {
	return time.Unix(0, s.lastActivity.Load()).UTC()
}

func (s *Session) owner() LockOwner {
	return LockOwner{SessionID: s.ID, UserID: s.UserID, Username: s.Username}
}

// HubOptions configures a Hub
type HubOptions struct {
	Store            ScanStore
	Config           config.CollaborationConfig
	Clock            clockwork.Clock
	Metrics          *telemetry.CollabMetrics
	WebSocketLogging slogging.WebSocketLoggingConfig
}

// Hub owns the session registry and the room registry of the process
type Hub struct {
	cfg     config.CollaborationConfig
	clock   clockwork.Clock
	bridge  *DocumentBridge
	router  *MessageRouter
	metrics *telemetry.CollabMetrics
	wsLog   slogging.WebSocketLoggingConfig

	mu       sync.Mutex
	rooms    map[string]*Room
	sessions map[string]*CollabClient
	closed   bool
	roomsWG  sync.WaitGroup
}

// NewHub creates an empty hub
func NewHub(opts HubOptions) *Hub {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Hub{
		cfg:      opts.Config,
		clock:    clock,
		bridge:   NewDocumentBridge(opts.Store),
		router:   NewMessageRouter(),
		metrics:  opts.Metrics,
		wsLog:    opts.WebSocketLogging,
		rooms:    make(map[string]*Room),
		sessions: make(map[string]*CollabClient),
	}
}

// Join adds the client to the room of its scan, creating and loading the
// room on first use. On success the client has been sent a room snapshot.
func (h *Hub) Join(ctx context.Context, c *CollabClient) error {
	for {
		room, err := h.roomFor(c.session.ScanID)
		if err != nil {
			return err
		}

		req := joinRequest{client: c, reply: make(chan error, 1)}
		select {
		case room.joins <- req:
			if err := <-req.reply; err != nil {
				return err
			}
			c.room = room
			return nil
		case <-room.done:
			if room.loadErr != nil {
				return room.loadErr
			}
			// the room emptied and closed before accepting us; start a fresh one
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrRoomNotReady, ctx.Err())
		}
	}
}

func (h *Hub) roomFor(scanID string) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if room, ok := h.rooms[scanID]; ok {
		return room, nil
	}

	room := newRoom(h, scanID)
	h.rooms[scanID] = room
	h.roomsWG.Add(1)
	go func() {
		defer h.roomsWG.Done()
		room.Run()
	}()
	h.metrics.RoomOpened(context.Background())
	slogging.Get().Debug("Created room for scan %s", scanID)
	return room, nil
}

// detachRoom removes room from the registry if it is still the registered instance
func (h *Hub) detachRoom(room *Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room.scanID] == room {
		delete(h.rooms, room.scanID)
	}
}

func (h *Hub) registerSession(c *CollabClient) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.sessions[c.session.ID] = c
	h.metrics.ConnectionOpened(context.Background())
	return nil
}

func (h *Hub) unregisterSession(c *CollabClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[c.session.ID]; ok {
		delete(h.sessions, c.session.ID)
		h.metrics.ConnectionClosed(context.Background())
	}
}

// RoomCount returns the number of live rooms
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// SessionCount returns the number of open sessions
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// HasRoom reports whether a room for scanID is live
func (h *Hub) HasRoom(scanID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.rooms[scanID]
	return ok
}

// Store returns the document store behind the hub
func (h *Hub) Store() ScanStore {
	return h.bridge.Store()
}

// Shutdown closes every connection with CloseGoingAway and waits for rooms
// to finish their accepted store writes.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	rooms := make([]*Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	clients := make([]*CollabClient, 0, len(h.sessions))
	for _, c := range h.sessions {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	slogging.Get().Info("Shutting down collaboration hub (rooms=%d sessions=%d)", len(rooms), len(clients))

	for _, room := range rooms {
		room.requestStop()
	}
	for _, c := range clients {
		c.shutdown(CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.roomsWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("collaboration hub shutdown: %w", ctx.Err())
	}
}
