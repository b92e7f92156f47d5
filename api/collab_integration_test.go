package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/netscope/scancollab/auth"
	"github.com/netscope/scancollab/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testJWTSecret = []byte("collab-integration-secret")

type collabHarness struct {
	t      *testing.T
	clock  *clockwork.FakeClock
	store  ScanStore
	memory *MemoryScanStore
	hub    *Hub
	server *httptest.Server
}

type harnessOptions struct {
	cfg     func(*config.CollaborationConfig)
	store   func(*MemoryScanStore) ScanStore
	limiter HandshakeLimiter
}

func newCollabHarness(t *testing.T, opts harnessOptions) *collabHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := clockwork.NewFakeClock()
	memory := NewMemoryScanStore(clock)
	memory.Put(newTestScan("S1"))
	memory.Put(newTestScan("S2"))

	var store ScanStore = memory
	if opts.store != nil {
		store = opts.store(memory)
	}

	cfg := config.Default().Collaboration
	if opts.cfg != nil {
		opts.cfg(&cfg)
	}

	hub := NewHub(HubOptions{Store: store, Config: cfg, Clock: clock})
	verifier, err := auth.NewJWTVerifier(auth.VerifierConfig{Secret: testJWTSecret}, nil, clock)
	require.NoError(t, err)

	server := NewServer(ServerOptions{Hub: hub, Verifier: verifier, HandshakeLimiter: opts.limiter})
	r := gin.New()
	server.RegisterHandlers(r)
	ts := httptest.NewServer(r)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		ts.Close()
	})

	return &collabHarness{t: t, clock: clock, store: store, memory: memory, hub: hub, server: ts}
}

func (h *collabHarness) token(userID string, ttl time.Duration) string {
	h.t.Helper()
	now := h.clock.Now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":                userID,
		"preferred_username": strings.ToUpper(userID[:1]) + userID[1:],
		"iat":                now.Unix(),
		"exp":                now.Add(ttl).Unix(),
	}).SignedString(testJWTSecret)
	require.NoError(h.t, err)
	return signed
}

func (h *collabHarness) wsURL(scanID, token string) string {
	q := url.Values{}
	if scanID != "" {
		q.Set("scanId", scanID)
	}
	if token != "" {
		q.Set("token", token)
	}
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/collaboration-ws?" + q.Encode()
}

// dialRaw opens a socket without consuming any frames
func (h *collabHarness) dialRaw(scanID, token string) *websocket.Conn {
	h.t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL(scanID, token), nil)
	require.NoError(h.t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	h.t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// join connects userID to scanID and returns the socket with its room snapshot
func (h *collabHarness) join(userID, scanID string) (*websocket.Conn, map[string]any) {
	h.t.Helper()
	conn := h.dialRaw(scanID, h.token(userID, time.Hour))
	snapshot := readMessage(h.t, conn)
	require.Equal(h.t, string(MessageTypeRoomSnapshot), snapshot["type"], "first frame must be the room snapshot")
	return conn, snapshot
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// readUntil skips frames until one of type typ arrives
func readUntil(t *testing.T, conn *websocket.Conn, typ MessageType) map[string]any {
	t.Helper()
	for i := 0; i < 50; i++ {
		msg := readMessage(t, conn)
		if msg["type"] == string(typ) {
			return msg
		}
	}
	t.Fatalf("no %s message received", typ)
	return nil
}

// expectClose reads until the server closes the socket and returns the close code
func expectClose(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
		return closeErr.Code
	}
}

// assertNextIsPong proves nothing else was queued for conn before the ping
func assertNextIsPong(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, map[string]any{"type": "ping", "timestamp": 7})
	msg := readMessage(t, conn)
	assert.Equal(t, string(MessageTypePong), msg["type"], "unexpected frame %v", msg)
}

func send(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func lockRequest(deviceID string) map[string]any {
	return map[string]any{"type": "lock_request", "deviceId": deviceID}
}

func deviceUpdate(deviceID, vendor, patch string) map[string]any {
	return map[string]any{
		"type":        "device_update",
		"deviceId":    deviceID,
		"vendorGroup": vendor,
		"patch":       json.RawMessage(patch),
	}
}

func TestCollaboration_Handshake(t *testing.T) {
	t.Run("SnapshotIsFirstFrame", func(t *testing.T) {
		h := newCollabHarness(t, harnessOptions{})
		conn, snapshot := h.join("alice", "S1")

		assert.Equal(t, "S1", snapshot["scanId"])
		assert.NotEmpty(t, snapshot["sessionId"])
		assert.Empty(t, snapshot["locks"])
		users := snapshot["users"].([]any)
		require.Len(t, users, 1)
		assert.Equal(t, "alice", users[0].(map[string]any)["userId"])

		presence := readMessage(t, conn)
		assert.Equal(t, string(MessageTypePresenceUpdate), presence["type"])
		assert.Equal(t, 1, h.hub.RoomCount())
		assert.Equal(t, 1, h.hub.SessionCount())
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		h := newCollabHarness(t, harnessOptions{})
		conn := h.dialRaw("S1", h.token("alice", -time.Minute))

		assert.Equal(t, int(CloseAuthFailed), expectClose(t, conn))
		assert.Equal(t, 0, h.hub.RoomCount(), "no room is created for a rejected handshake")
		assert.Equal(t, 0, h.hub.SessionCount())
	})

	t.Run("MissingToken", func(t *testing.T) {
		h := newCollabHarness(t, harnessOptions{})
		conn := h.dialRaw("S1", "")
		assert.Equal(t, int(CloseAuthFailed), expectClose(t, conn))
	})

	t.Run("BearerHeader", func(t *testing.T) {
		h := newCollabHarness(t, harnessOptions{})
		header := http.Header{}
		header.Set("Authorization", "Bearer "+h.token("alice", time.Hour))

		conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL("S1", ""), header)
		require.NoError(t, err)
		defer func() { _ = conn.Close() }()
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		assert.Equal(t, string(MessageTypeRoomSnapshot), readMessage(t, conn)["type"])
	})

	t.Run("MissingScanID", func(t *testing.T) {
		h := newCollabHarness(t, harnessOptions{})
		conn := h.dialRaw("", h.token("alice", time.Hour))
		assert.Equal(t, int(ClosePolicyViolation), expectClose(t, conn))
	})

	t.Run("InvalidScanID", func(t *testing.T) {
		h := newCollabHarness(t, harnessOptions{})
		conn := h.dialRaw("S1\u202E", h.token("alice", time.Hour))
		assert.Equal(t, int(ClosePolicyViolation), expectClose(t, conn))
	})

	t.Run("RateLimited", func(t *testing.T) {
		limiter, _, _ := newTestHandshakeLimiter(t, 1, time.Minute)
		h := newCollabHarness(t, harnessOptions{limiter: limiter})
		h.join("alice", "S1")

		_, resp, err := websocket.DefaultDialer.Dial(h.wsURL("S1", h.token("alice", time.Hour)), nil)
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "60", resp.Header.Get("Retry-After"))
		assert.Equal(t, 1, h.hub.SessionCount())
	})

	t.Run("UnknownScan", func(t *testing.T) {
		h := newCollabHarness(t, harnessOptions{})
		conn := h.dialRaw("S404", h.token("alice", time.Hour))

		assert.Equal(t, int(CloseScanNotFound), expectClose(t, conn))
		assert.Eventually(t, func() bool { return h.hub.RoomCount() == 0 }, 2*time.Second, 10*time.Millisecond)
		assert.Eventually(t, func() bool { return h.hub.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("StoreUnavailable", func(t *testing.T) {
		h := newCollabHarness(t, harnessOptions{store: func(m *MemoryScanStore) ScanStore {
			return &flakyScanStore{ScanStore: m, readErr: fmt.Errorf("%w: connection refused", ErrStoreUnavailable)}
		}})
		conn := h.dialRaw("S1", h.token("alice", time.Hour))

		assert.Equal(t, int(CloseRoomNotReady), expectClose(t, conn))
		assert.Eventually(t, func() bool { return h.hub.RoomCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	})
}

func TestCollaboration_LockConflictAndEdit(t *testing.T) {
	h := newCollabHarness(t, harnessOptions{})
	alice, _ := h.join("alice", "S1")
	bob, bobSnapshot := h.join("bob", "S1")
	assert.Len(t, bobSnapshot["users"], 2)

	send(t, alice, lockRequest("D1"))
	for _, conn := range []*websocket.Conn{alice, bob} {
		msg := readUntil(t, conn, MessageTypeLockAcquired)
		assert.Equal(t, "D1", msg["deviceId"])
		assert.Equal(t, "alice", msg["ownerUserId"])
	}

	t.Run("SecondLockerIsRejected", func(t *testing.T) {
		send(t, bob, lockRequest("D1"))
		msg := readUntil(t, bob, MessageTypeError)
		assert.Equal(t, ErrorCodeAlreadyLocked, msg["code"])
		assert.Equal(t, "D1", msg["deviceId"])
		assert.Equal(t, "lock_request", msg["requestType"])
		assertNextIsPong(t, alice)
	})

	t.Run("EditWithoutLockIsRejected", func(t *testing.T) {
		send(t, bob, deviceUpdate("D1", "Cisco", `{"name":"bob-was-here"}`))
		msg := readUntil(t, bob, MessageTypeError)
		assert.Equal(t, ErrorCodeNotOwner, msg["code"])
		assertNextIsPong(t, alice)
	})

	t.Run("OwnerEditIsEchoedToEveryone", func(t *testing.T) {
		send(t, alice, deviceUpdate("D1", "Cisco", `{"name":"router-core"}`))
		for _, conn := range []*websocket.Conn{alice, bob} {
			msg := readUntil(t, conn, MessageTypeDeviceUpdate)
			assert.Equal(t, "D1", msg["deviceId"])
			assert.Equal(t, "Cisco", msg["vendorGroup"])
			assert.Equal(t, float64(2), msg["index"])
			assert.Equal(t, "Alice", msg["issuedBy"])
			assert.Equal(t, float64(1), msg["sequence"])
			assert.Equal(t, "router-core", msg["device"].(map[string]any)["name"])
		}

		doc, err := h.store.Read(context.Background(), "S1")
		require.NoError(t, err)
		assert.Equal(t, "router-core", doc.Devices["Cisco"][2]["name"])
		assert.NotContains(t, doc.Devices, "D1")
	})

	t.Run("ReleaseThenOtherAcquires", func(t *testing.T) {
		send(t, alice, map[string]any{"type": "lock_release", "deviceId": "D1"})
		for _, conn := range []*websocket.Conn{alice, bob} {
			msg := readUntil(t, conn, MessageTypeLockReleased)
			assert.Equal(t, ReleaseReasonReleased, msg["reason"])
		}

		send(t, bob, lockRequest("D1"))
		msg := readUntil(t, alice, MessageTypeLockAcquired)
		assert.Equal(t, "bob", msg["ownerUserId"])
	})

	t.Run("UnknownDeviceErrorOnlyToRequester", func(t *testing.T) {
		send(t, bob, lockRequest("ghost"))
		readUntil(t, bob, MessageTypeLockAcquired)
		readUntil(t, alice, MessageTypeLockAcquired)

		send(t, bob, deviceUpdate("ghost", "Cisco", `{"name":"x"}`))
		msg := readUntil(t, bob, MessageTypeError)
		assert.Equal(t, ErrorCodeDeviceNotFound, msg["code"])
		assertNextIsPong(t, alice)
	})
}

func TestCollaboration_ScanUpdate(t *testing.T) {
	h := newCollabHarness(t, harnessOptions{})
	alice, _ := h.join("alice", "S1")
	bob, _ := h.join("bob", "S1")

	send(t, alice, map[string]any{"type": "scan_update", "patch": map[string]any{"notes": "rack 4 rescanned"}})
	for _, conn := range []*websocket.Conn{alice, bob} {
		msg := readUntil(t, conn, MessageTypeScanUpdate)
		metadata := msg["metadata"].(map[string]any)
		assert.Equal(t, "rack 4 rescanned", metadata["notes"])
		assert.Equal(t, "HQ sweep", metadata["name"])
	}
}

func TestCollaboration_StoreWriteFailureGoesToRequesterOnly(t *testing.T) {
	h := newCollabHarness(t, harnessOptions{store: func(m *MemoryScanStore) ScanStore {
		return &flakyScanStore{ScanStore: m, writeErr: fmt.Errorf("%w: write timeout", ErrStoreUnavailable)}
	}})
	alice, _ := h.join("alice", "S1")
	bob, _ := h.join("bob", "S1")

	send(t, alice, lockRequest("D1"))
	readUntil(t, alice, MessageTypeLockAcquired)
	readUntil(t, bob, MessageTypeLockAcquired)

	send(t, alice, deviceUpdate("D1", "Cisco", `{"name":"router-core"}`))
	msg := readUntil(t, alice, MessageTypeError)
	assert.Equal(t, ErrorCodeStoreUnavailable, msg["code"])
	assert.Equal(t, "device_update", msg["requestType"])
	assertNextIsPong(t, bob)
}

func TestCollaboration_DisconnectReleasesLocks(t *testing.T) {
	h := newCollabHarness(t, harnessOptions{})
	alice, _ := h.join("alice", "S1")
	bob, _ := h.join("bob", "S1")

	send(t, alice, lockRequest("D1"))
	readUntil(t, bob, MessageTypeLockAcquired)

	// drop the TCP connection without a close frame
	require.NoError(t, alice.UnderlyingConn().Close())

	released := readUntil(t, bob, MessageTypeLockReleased)
	assert.Equal(t, "D1", released["deviceId"])
	assert.Equal(t, ReleaseReasonDisconnected, released["reason"])

	presence := readUntil(t, bob, MessageTypePresenceUpdate)
	assert.Len(t, presence["users"], 1)

	send(t, bob, lockRequest("D1"))
	acquired := readUntil(t, bob, MessageTypeLockAcquired)
	assert.Equal(t, "bob", acquired["ownerUserId"])
}

func TestCollaboration_AcceptedWriteOutlivesAuthor(t *testing.T) {
	setup := func(t *testing.T) (*collabHarness, *gatedScanStore, *websocket.Conn) {
		t.Helper()
		gate := &gatedScanStore{entered: make(chan struct{}, 1), release: make(chan struct{})}
		h := newCollabHarness(t, harnessOptions{store: func(m *MemoryScanStore) ScanStore {
			gate.ScanStore = m
			return gate
		}})
		alice, _ := h.join("alice", "S1")
		send(t, alice, lockRequest("D1"))
		readUntil(t, alice, MessageTypeLockAcquired)
		return h, gate, alice
	}

	t.Run("RemainingMemberGetsBroadcast", func(t *testing.T) {
		h, gate, alice := setup(t)
		bob, _ := h.join("bob", "S1")

		send(t, alice, deviceUpdate("D1", "Cisco", `{"name":"router-core"}`))
		gate.waitEntered(t)
		require.NoError(t, alice.UnderlyingConn().Close())

		released := readUntil(t, bob, MessageTypeLockReleased)
		assert.Equal(t, ReleaseReasonDisconnected, released["reason"])

		close(gate.release)
		msg := readUntil(t, bob, MessageTypeDeviceUpdate)
		assert.Equal(t, "D1", msg["deviceId"])
		assert.Equal(t, "Alice", msg["issuedBy"])
		assert.Equal(t, "router-core", msg["device"].(map[string]any)["name"])

		doc, err := h.memory.Read(context.Background(), "S1")
		require.NoError(t, err)
		assert.Equal(t, "router-core", doc.Devices["Cisco"][2]["name"])
	})

	t.Run("EmptyRoomWaitsForWrite", func(t *testing.T) {
		h, gate, alice := setup(t)

		send(t, alice, deviceUpdate("D1", "Cisco", `{"name":"router-core"}`))
		gate.waitEntered(t)
		require.NoError(t, alice.UnderlyingConn().Close())

		assert.Eventually(t, func() bool { return h.hub.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
		assert.Never(t, func() bool { return !h.hub.HasRoom("S1") }, 200*time.Millisecond, 10*time.Millisecond,
			"room must stay open while a write is in flight")

		close(gate.release)
		assert.Eventually(t, func() bool { return !h.hub.HasRoom("S1") }, 2*time.Second, 10*time.Millisecond)

		doc, err := h.memory.Read(context.Background(), "S1")
		require.NoError(t, err)
		assert.Equal(t, "router-core", doc.Devices["Cisco"][2]["name"])
	})
}

func TestCollaboration_LeaseExpiry(t *testing.T) {
	h := newCollabHarness(t, harnessOptions{})
	alice, _ := h.join("alice", "S1")
	bob, _ := h.join("bob", "S1")

	send(t, alice, lockRequest("D1"))
	readUntil(t, bob, MessageTypeLockAcquired)

	h.clock.Advance(4 * time.Minute)
	send(t, alice, lockRequest("D2"))
	readUntil(t, bob, MessageTypeLockAcquired)

	h.clock.Advance(time.Minute + time.Second)

	t.Run("LateJoinerSeesOnlyLiveLocks", func(t *testing.T) {
		_, snapshot := h.join("carol", "S1")
		locks := snapshot["locks"].([]any)
		require.Len(t, locks, 1)
		assert.Equal(t, "D2", locks[0].(map[string]any)["deviceId"])
	})

	t.Run("ExpiredLockIsAnnouncedAndFree", func(t *testing.T) {
		released := readUntil(t, bob, MessageTypeLockReleased)
		assert.Equal(t, "D1", released["deviceId"])
		assert.Equal(t, ReleaseReasonExpired, released["reason"])

		send(t, bob, lockRequest("D1"))
		acquired := readUntil(t, bob, MessageTypeLockAcquired)
		assert.Equal(t, "D1", acquired["deviceId"])
		assert.Equal(t, "bob", acquired["ownerUserId"])
	})
}

func TestCollaboration_PresenceAndEphemeral(t *testing.T) {
	h := newCollabHarness(t, harnessOptions{})
	alice1, _ := h.join("alice", "S1")
	_, _ = h.join("alice", "S1")
	bob, _ := h.join("bob", "S1")

	t.Run("DedupedByUser", func(t *testing.T) {
		presence := readUntil(t, bob, MessageTypePresenceUpdate)
		users := presence["users"].([]any)
		require.Len(t, users, 2)
		alice := users[0].(map[string]any)
		assert.Equal(t, "alice", alice["userId"])
		assert.Equal(t, float64(2), alice["sessions"])
	})

	t.Run("Typing", func(t *testing.T) {
		send(t, alice1, map[string]any{"type": "typing", "isTyping": true, "deviceId": "D1"})
		presence := readUntil(t, bob, MessageTypePresenceUpdate)
		alice := presence["users"].([]any)[0].(map[string]any)
		assert.Equal(t, string(PresenceTyping), alice["status"])
		assert.Equal(t, "D1", alice["typingDeviceId"])
	})

	t.Run("CursorRelayExcludesSender", func(t *testing.T) {
		send(t, bob, map[string]any{"type": "cursor_position", "x": 10, "y": 20})
		msg := readUntil(t, alice1, MessageTypeCursorPosition)
		assert.Equal(t, "bob", msg["userId"])
		assert.Equal(t, float64(10), msg["x"])
		assertNextIsPong(t, bob)
	})

	t.Run("UnknownTypeKeepsConnection", func(t *testing.T) {
		send(t, bob, map[string]any{"type": "teleport"})
		send(t, bob, map[string]any{"type": "presence_update"})
		require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte("not json")))
		assertNextIsPong(t, bob)
	})
}

func TestCollaboration_TypingStopIsNeverThrottled(t *testing.T) {
	h := newCollabHarness(t, harnessOptions{cfg: func(cfg *config.CollaborationConfig) {
		cfg.EphemeralRate = 0.01
	}})
	alice, _ := h.join("alice", "S1")
	bob, _ := h.join("bob", "S1")

	// the single token of burst goes to the start; the next start is dropped
	send(t, alice, map[string]any{"type": "typing", "isTyping": true})
	entry := readPresenceOf(t, bob, "alice", PresenceTyping)
	assert.Empty(t, entry["typingDeviceId"])
	send(t, alice, map[string]any{"type": "typing", "isTyping": true, "deviceId": "D1"})

	send(t, alice, map[string]any{"type": "typing", "isTyping": false})
	entry = readPresenceOf(t, bob, "alice", PresenceOnline)
	assert.Empty(t, entry["typingDeviceId"])
}

// readPresenceOf skips presence updates until userID is reported with status
func readPresenceOf(t *testing.T, conn *websocket.Conn, userID string, status PresenceStatus) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		msg := readUntil(t, conn, MessageTypePresenceUpdate)
		for _, u := range msg["users"].([]any) {
			entry := u.(map[string]any)
			if entry["userId"] == userID && entry["status"] == string(status) {
				return entry
			}
		}
	}
	t.Fatalf("%s never reported as %s", userID, status)
	return nil
}

func TestCollaboration_Heartbeat(t *testing.T) {
	fast := func(cfg *config.CollaborationConfig) {
		cfg.PingInterval = 100 * time.Millisecond
		cfg.MaxMissedPings = 2
	}

	t.Run("SilentClientIsDropped", func(t *testing.T) {
		h := newCollabHarness(t, harnessOptions{cfg: fast})
		// never reading means pings are never answered
		_ = h.dialRaw("S1", h.token("alice", time.Hour))

		assert.Eventually(t, func() bool { return h.hub.SessionCount() == 1 }, time.Second, 2*time.Millisecond)
		assert.Eventually(t, func() bool { return h.hub.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
		assert.Eventually(t, func() bool { return h.hub.RoomCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("ResponsiveClientStays", func(t *testing.T) {
		h := newCollabHarness(t, harnessOptions{cfg: fast})
		conn, _ := h.join("alice", "S1")

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				// reading runs the default ping handler, which answers with a pong
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		time.Sleep(600 * time.Millisecond)
		assert.Equal(t, 1, h.hub.SessionCount())
		_ = conn.Close()
		<-done
	})
}

func TestCollaboration_Shutdown(t *testing.T) {
	h := newCollabHarness(t, harnessOptions{})
	alice, _ := h.join("alice", "S1")
	bob, _ := h.join("bob", "S2")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.hub.Shutdown(ctx))

	assert.Equal(t, int(CloseGoingAway), expectClose(t, alice))
	assert.Equal(t, int(CloseGoingAway), expectClose(t, bob))
	assert.Equal(t, 0, h.hub.RoomCount())

	late := h.dialRaw("S1", h.token("carol", time.Hour))
	assert.Equal(t, int(CloseGoingAway), expectClose(t, late))
}

func TestCollaboration_HealthEndpoint(t *testing.T) {
	h := newCollabHarness(t, harnessOptions{})
	_, _ = h.join("alice", "S1")

	resp, err := http.Get(h.server.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status     string                           `json:"status"`
		Rooms      int                              `json:"rooms"`
		Sessions   int                              `json:"sessions"`
		Components map[string]ComponentHealthResult `json:"components"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, HealthStatusOK, body.Status)
	assert.Equal(t, 1, body.Rooms)
	assert.Equal(t, 1, body.Sessions)
	assert.Equal(t, ComponentHealthStatusHealthy, body.Components["store"].Status)
	assert.Equal(t, ComponentHealthStatusUnknown, body.Components["redis"].Status)
}

func TestRoom_EvictsSlowConsumer(t *testing.T) {
	cfg := config.Default().Collaboration
	cfg.SendBufferSize = 1
	cfg.MaxSendFailures = 2
	hub := NewHub(HubOptions{Store: NewMemoryScanStore(nil), Config: cfg, Clock: clockwork.NewFakeClock()})

	room := newRoom(hub, "S1")
	slow := hub.newClient(nil, testSession("slow", "sam"))
	room.members[slow.session.ID] = slow
	room.order = append(room.order, slow.session.ID)
	room.presence.Add(slow.session)
	_, _, err := room.locks.Acquire("D1", slow.session.owner())
	require.NoError(t, err)

	room.broadcast(PongMessage{Type: MessageTypePong}, "")
	room.broadcast(PongMessage{Type: MessageTypePong}, "")
	assert.Equal(t, 1, slow.sendFailures)
	assert.Empty(t, room.evictions)

	room.broadcast(PongMessage{Type: MessageTypePong}, "")
	require.Len(t, room.evictions, 1)

	room.flushEvictions()
	assert.False(t, room.isMember("slow"))
	assert.Equal(t, 0, room.locks.Len(), "evicted member's locks are released")
	assert.Equal(t, ClosePolicyViolation, slow.closeCode)
	select {
	case <-slow.done:
	default:
		t.Fatal("evicted client was not shut down")
	}
}

// flakyScanStore injects failures into a working store
type flakyScanStore struct {
	ScanStore
	readErr  error
	writeErr error
}

func (s *flakyScanStore) Read(ctx context.Context, scanID string) (*ScanDocument, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.ScanStore.Read(ctx, scanID)
}

func (s *flakyScanStore) ReplaceVendorDevices(ctx context.Context, scanID, vendor string, devices []Device) (int64, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.ScanStore.ReplaceVendorDevices(ctx, scanID, vendor, devices)
}

// gatedScanStore holds device writes until release is closed
type gatedScanStore struct {
	ScanStore
	entered chan struct{}
	release chan struct{}
}

func (s *gatedScanStore) ReplaceVendorDevices(ctx context.Context, scanID, vendor string, devices []Device) (int64, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return s.ScanStore.ReplaceVendorDevices(ctx, scanID, vendor, devices)
}

func (s *gatedScanStore) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("store write never started")
	}
}
