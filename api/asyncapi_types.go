package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/netscope/scancollab/internal/unicodecheck"
)

// Collaboration WebSocket message types. Every frame is a JSON object whose
// "type" field selects one of these.

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Client to server
	MessageTypeLockRequest    MessageType = "lock_request"
	MessageTypeLockRelease    MessageType = "lock_release"
	MessageTypeDeviceUpdate   MessageType = "device_update"
	MessageTypeScanUpdate     MessageType = "scan_update"
	MessageTypeCursorPosition MessageType = "cursor_position"
	MessageTypeTyping         MessageType = "typing"
	MessageTypePing           MessageType = "ping"

	// Server to client
	MessageTypePresenceUpdate MessageType = "presence_update"
	MessageTypeLockAcquired   MessageType = "lock_acquired"
	MessageTypeLockReleased   MessageType = "lock_released"
	MessageTypeError          MessageType = "error"
	MessageTypePong           MessageType = "pong"
	MessageTypeRoomSnapshot   MessageType = "room_snapshot"
)

// serverOnlyMessageTypes may never be sent by clients
var serverOnlyMessageTypes = map[MessageType]bool{
	MessageTypePresenceUpdate: true,
	MessageTypeLockAcquired:   true,
	MessageTypeLockReleased:   true,
	MessageTypeError:          true,
	MessageTypePong:           true,
	MessageTypeRoomSnapshot:   true,
}

// AsyncMessage is the base interface for inbound WebSocket messages
type AsyncMessage interface {
	GetMessageType() MessageType
	Validate() error
}

func expectType(got, want MessageType) error {
	if got != want {
		return fmt.Errorf("invalid type: expected %s, got %s", want, got)
	}
	return nil
}

func validateDeviceID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("deviceId is required")
	}
	if len(id) > 256 {
		return fmt.Errorf("deviceId exceeds 256 characters")
	}
	if err := unicodecheck.CheckIdentifier(id); err != nil {
		return fmt.Errorf("deviceId %w", err)
	}
	return nil
}

// validateVendorGroup rejects names that would address something other than
// devices[vendor] in a document store path.
func validateVendorGroup(vendor string) error {
	if strings.TrimSpace(vendor) == "" {
		return fmt.Errorf("vendorGroup is required")
	}
	if strings.ContainsAny(vendor, ".\x00") || strings.HasPrefix(vendor, "$") {
		return fmt.Errorf("vendorGroup %q contains reserved characters", vendor)
	}
	if err := unicodecheck.CheckIdentifier(vendor); err != nil {
		return fmt.Errorf("vendorGroup %w", err)
	}
	return nil
}

func validatePatchObject(patch json.RawMessage) error {
	trimmed := bytes.TrimSpace(patch)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("patch must be a JSON object")
	}
	if !json.Valid(trimmed) {
		return fmt.Errorf("patch is not valid JSON")
	}
	return nil
}

// LockRequestMessage asks for the exclusive edit lock on a device
type LockRequestMessage struct {
	Type     MessageType `json:"type"`
	DeviceID string      `json:"deviceId"`
}

func (m LockRequestMessage) GetMessageType() MessageType { return m.Type }

func (m LockRequestMessage) Validate() error {
	if err := expectType(m.Type, MessageTypeLockRequest); err != nil {
		return err
	}
	return validateDeviceID(m.DeviceID)
}

// LockReleaseMessage gives up a device lock
type LockReleaseMessage struct {
	Type     MessageType `json:"type"`
	DeviceID string      `json:"deviceId"`
}

func (m LockReleaseMessage) GetMessageType() MessageType { return m.Type }

func (m LockReleaseMessage) Validate() error {
	if err := expectType(m.Type, MessageTypeLockRelease); err != nil {
		return err
	}
	return validateDeviceID(m.DeviceID)
}

// DeviceUpdateMessage is a field-level edit of one device. The sender must hold the device lock.
type DeviceUpdateMessage struct {
	Type        MessageType     `json:"type"`
	ScanID      string          `json:"scanId,omitempty"`
	DeviceID    string          `json:"deviceId"`
	VendorGroup string          `json:"vendorGroup"`
	Patch       json.RawMessage `json:"patch"`
}

func (m DeviceUpdateMessage) GetMessageType() MessageType { return m.Type }

func (m DeviceUpdateMessage) Validate() error {
	if err := expectType(m.Type, MessageTypeDeviceUpdate); err != nil {
		return err
	}
	if err := validateDeviceID(m.DeviceID); err != nil {
		return err
	}
	if err := validateVendorGroup(m.VendorGroup); err != nil {
		return err
	}
	return validatePatchObject(m.Patch)
}

// ScanUpdateMessage edits scan-level metadata such as name, notes or tags
type ScanUpdateMessage struct {
	Type   MessageType     `json:"type"`
	ScanID string          `json:"scanId,omitempty"`
	Patch  json.RawMessage `json:"patch"`
}

func (m ScanUpdateMessage) GetMessageType() MessageType { return m.Type }

func (m ScanUpdateMessage) Validate() error {
	if err := expectType(m.Type, MessageTypeScanUpdate); err != nil {
		return err
	}
	return validatePatchObject(m.Patch)
}

// Cursor is a pointer position relative to a UI target
type Cursor struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Target string  `json:"target,omitempty"`
}

// CursorPositionMessage reports the sender's pointer
type CursorPositionMessage struct {
	Type MessageType `json:"type"`
	Cursor
}

func (m CursorPositionMessage) GetMessageType() MessageType { return m.Type }

func (m CursorPositionMessage) Validate() error {
	if err := expectType(m.Type, MessageTypeCursorPosition); err != nil {
		return err
	}
	if len(m.Target) > 256 {
		return fmt.Errorf("target exceeds 256 characters")
	}
	return nil
}

// TypingMessage flips the sender's typing indicator
type TypingMessage struct {
	Type     MessageType `json:"type"`
	IsTyping bool        `json:"isTyping"`
	DeviceID string      `json:"deviceId,omitempty"`
}

func (m TypingMessage) GetMessageType() MessageType { return m.Type }

func (m TypingMessage) Validate() error {
	return expectType(m.Type, MessageTypeTyping)
}

// exemptFromRateLimit lets a stop always through so a throttled client is
// never left showing as typing
func (m TypingMessage) exemptFromRateLimit() bool { return !m.IsTyping }

// PingMessage is an application-level keepalive
type PingMessage struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

func (m PingMessage) GetMessageType() MessageType { return m.Type }

func (m PingMessage) Validate() error {
	return expectType(m.Type, MessageTypePing)
}

// Outbound messages

// PresenceUpdateMessage carries the deduplicated member list
type PresenceUpdateMessage struct {
	Type   MessageType     `json:"type"`
	ScanID string          `json:"scanId"`
	Users  []PresenceEntry `json:"users"`
}

// LockInfo describes a live device lock
type LockInfo struct {
	DeviceID       string    `json:"deviceId"`
	OwnerSessionID string    `json:"ownerSessionId"`
	OwnerUserID    string    `json:"ownerUserId"`
	OwnerUsername  string    `json:"ownerUsername"`
	AcquiredAt     time.Time `json:"acquiredAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// LockAcquiredMessage announces a new lock, or confirms a renewal to its owner
type LockAcquiredMessage struct {
	Type   MessageType `json:"type"`
	ScanID string      `json:"scanId"`
	LockInfo
}

// Lock release reasons
const (
	ReleaseReasonReleased     = "released"
	ReleaseReasonExpired      = "expired"
	ReleaseReasonDisconnected = "disconnected"
	ReleaseReasonNotHeld      = "not_held"
)

// LockReleasedMessage announces that a device is editable again
type LockReleasedMessage struct {
	Type           MessageType `json:"type"`
	ScanID         string      `json:"scanId"`
	DeviceID       string      `json:"deviceId"`
	OwnerSessionID string      `json:"ownerSessionId,omitempty"`
	OwnerUsername  string      `json:"ownerUsername,omitempty"`
	Reason         string      `json:"reason"`
}

// DeviceUpdateEvent echoes a committed device edit to every member, originator included
type DeviceUpdateEvent struct {
	Type              MessageType     `json:"type"`
	ScanID            string          `json:"scanId"`
	DeviceID          string          `json:"deviceId"`
	VendorGroup       string          `json:"vendorGroup"`
	Index             int             `json:"index"`
	Patch             json.RawMessage `json:"patch"`
	Device            Device          `json:"device"`
	IssuedBySessionID string          `json:"issuedBySessionId"`
	IssuedBy          string          `json:"issuedBy"`
	Sequence          uint64          `json:"sequence"`
	Version           int64           `json:"version"`
}

// ScanUpdateEvent echoes a committed metadata edit to every member
type ScanUpdateEvent struct {
	Type              MessageType     `json:"type"`
	ScanID            string          `json:"scanId"`
	Patch             json.RawMessage `json:"patch"`
	Metadata          map[string]any  `json:"metadata"`
	IssuedBySessionID string          `json:"issuedBySessionId"`
	IssuedBy          string          `json:"issuedBy"`
	Sequence          uint64          `json:"sequence"`
	Version           int64           `json:"version"`
}

// CursorRelayMessage forwards one member's cursor to the others
type CursorRelayMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	UserID    string      `json:"userId"`
	Username  string      `json:"username"`
	Cursor
}

// ErrorMessage reports a rejected request to the requesting session only
type ErrorMessage struct {
	Type        MessageType `json:"type"`
	Code        string      `json:"code"`
	Message     string      `json:"message"`
	DeviceID    string      `json:"deviceId,omitempty"`
	RequestType MessageType `json:"requestType,omitempty"`
}

// PongMessage answers an application ping
type PongMessage struct {
	Type       MessageType `json:"type"`
	Timestamp  int64       `json:"timestamp,omitempty"`
	ServerTime int64       `json:"serverTime"`
}

// RoomSnapshotMessage is the first frame a joiner receives
type RoomSnapshotMessage struct {
	Type      MessageType     `json:"type"`
	ScanID    string          `json:"scanId"`
	SessionID string          `json:"sessionId"`
	Users     []PresenceEntry `json:"users"`
	Locks     []LockInfo      `json:"locks"`
	Version   int64           `json:"version"`
	Sequence  uint64          `json:"sequence"`
}
