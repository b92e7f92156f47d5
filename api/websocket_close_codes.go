package api

import (
	"errors"

	"github.com/gorilla/websocket"
	"github.com/netscope/scancollab/auth"
)

// CloseCode is a close status sent on the collaboration socket
type CloseCode int

const (
	// CloseNormal ends a session cleanly
	CloseNormal CloseCode = websocket.CloseNormalClosure
	// CloseGoingAway is sent to every client when the server shuts down
	CloseGoingAway CloseCode = websocket.CloseGoingAway
	// ClosePolicyViolation covers malformed upgrade requests and evicted slow consumers
	ClosePolicyViolation CloseCode = websocket.ClosePolicyViolation
	// CloseAuthFailed means the credential was missing or rejected. Clients must not retry with it.
	CloseAuthFailed CloseCode = 4400
	// CloseScanNotFound means the scan document does not exist
	CloseScanNotFound CloseCode = 4404
	// CloseRoomNotReady means the room could not be prepared. Clients may retry later.
	CloseRoomNotReady CloseCode = 4503
)

func (c CloseCode) String() string {
	switch c {
	case CloseNormal:
		return "normal"
	case CloseGoingAway:
		return "going_away"
	case ClosePolicyViolation:
		return "policy_violation"
	case CloseAuthFailed:
		return "auth_failed"
	case CloseScanNotFound:
		return "scan_not_found"
	case CloseRoomNotReady:
		return "room_not_ready"
	default:
		return "unknown"
	}
}

// Retryable reports whether a client should reconnect after this close
func (c CloseCode) Retryable() bool {
	return c == CloseGoingAway || c == CloseRoomNotReady
}

// closeCodeForError maps a handshake or join failure to its close code
func closeCodeForError(err error) CloseCode {
	switch {
	case err == nil:
		return CloseNormal
	case errors.Is(err, auth.ErrAuthFailed):
		return CloseAuthFailed
	case errors.Is(err, ErrScanNotFound):
		return CloseScanNotFound
	case errors.Is(err, ErrProtocol):
		return ClosePolicyViolation
	case errors.Is(err, ErrHubClosed):
		return CloseGoingAway
	default:
		return CloseRoomNotReady
	}
}
