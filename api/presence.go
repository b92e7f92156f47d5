package api

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// PresenceStatus is the visible activity state of a user
type PresenceStatus string

const (
	PresenceOnline PresenceStatus = "online"
	PresenceTyping PresenceStatus = "typing"
)

// PresenceEntry is one user in a presence list
type PresenceEntry struct {
	UserID         string         `json:"userId"`
	Username       string         `json:"username"`
	SessionID      string         `json:"sessionId"`
	Status         PresenceStatus `json:"status"`
	Cursor         *Cursor        `json:"cursor,omitempty"`
	TypingDeviceID string         `json:"typingDeviceId,omitempty"`
	Sessions       int            `json:"sessions"`
}

type presenceState struct {
	userID       string
	username     string
	sessionID    string
	typing       bool
	typingDevice string
	typingAt     time.Time
	cursor       *Cursor
	cursorAt     time.Time
}

// PresenceTracker derives the member list of one room. Owned by the room goroutine.
type PresenceTracker struct {
	clock         clockwork.Clock
	typingTimeout time.Duration
	sessions      map[string]*presenceState
	order         []string
}

// NewPresenceTracker creates an empty tracker
func NewPresenceTracker(clock clockwork.Clock, typingTimeout time.Duration) *PresenceTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PresenceTracker{
		clock:         clock,
		typingTimeout: typingTimeout,
		sessions:      make(map[string]*presenceState),
	}
}

// Add registers a session
func (p *PresenceTracker) Add(s *Session) {
	if _, ok := p.sessions[s.ID]; ok {
		return
	}
	p.sessions[s.ID] = &presenceState{
		userID:    s.UserID,
		username:  s.Username,
		sessionID: s.ID,
	}
	p.order = append(p.order, s.ID)
}

// Remove drops a session and reports whether it was present
func (p *PresenceTracker) Remove(sessionID string) bool {
	if _, ok := p.sessions[sessionID]; !ok {
		return false
	}
	delete(p.sessions, sessionID)
	for i, id := range p.order {
		if id == sessionID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

// SetTyping updates the typing flag and reports whether the visible list changed
func (p *PresenceTracker) SetTyping(sessionID string, typing bool, deviceID string) bool {
	st, ok := p.sessions[sessionID]
	if !ok {
		return false
	}
	if typing {
		st.typingAt = p.clock.Now()
	}
	if st.typing == typing && st.typingDevice == deviceID {
		return false
	}
	st.typing = typing
	st.typingDevice = deviceID
	if !typing {
		st.typingDevice = ""
	}
	return true
}

// SetCursor records the latest cursor of a session
func (p *PresenceTracker) SetCursor(sessionID string, cursor Cursor) {
	st, ok := p.sessions[sessionID]
	if !ok {
		return
	}
	c := cursor
	st.cursor = &c
	st.cursorAt = p.clock.Now()
}

// ExpireTyping clears typing flags older than the typing timeout
func (p *PresenceTracker) ExpireTyping() bool {
	if p.typingTimeout <= 0 {
		return false
	}
	now := p.clock.Now()
	changed := false
	for _, st := range p.sessions {
		if st.typing && now.Sub(st.typingAt) >= p.typingTimeout {
			st.typing = false
			st.typingDevice = ""
			changed = true
		}
	}
	return changed
}

// List returns one entry per user in first-join order. A user is typing if
// any of their sessions is, and shows the most recently moved cursor.
func (p *PresenceTracker) List() []PresenceEntry {
	entries := make([]PresenceEntry, 0, len(p.order))
	index := make(map[string]int, len(p.order))
	cursorAt := make(map[string]time.Time, len(p.order))

	for _, id := range p.order {
		st := p.sessions[id]
		i, seen := index[st.userID]
		if !seen {
			index[st.userID] = len(entries)
			entries = append(entries, PresenceEntry{
				UserID:    st.userID,
				Username:  st.username,
				SessionID: st.sessionID,
				Status:    PresenceOnline,
			})
			i = len(entries) - 1
		}
		e := &entries[i]
		e.Sessions++
		if st.typing {
			e.Status = PresenceTyping
			if e.TypingDeviceID == "" {
				e.TypingDeviceID = st.typingDevice
			}
		}
		if st.cursor != nil && (e.Cursor == nil || st.cursorAt.After(cursorAt[st.userID])) {
			c := *st.cursor
			e.Cursor = &c
			cursorAt[st.userID] = st.cursorAt
		}
	}
	return entries
}

// Len returns the number of tracked sessions
func (p *PresenceTracker) Len() int {
	return len(p.sessions)
}
