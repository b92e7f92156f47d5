package api

import "errors"

var (
	// ErrRoomNotReady means a room dependency was unavailable at join time
	ErrRoomNotReady = errors.New("room not ready")
	// ErrScanNotFound means the scan document does not exist
	ErrScanNotFound = errors.New("scan not found")
	// ErrAlreadyLocked means another session holds a live lock on the device
	ErrAlreadyLocked = errors.New("device already locked")
	// ErrNotOwner means the lock exists and belongs to another session
	ErrNotOwner = errors.New("lock held by another session")
	// ErrLockRequired means a device edit was sent without holding the device lock
	ErrLockRequired = errors.New("device lock required")
	// ErrDeviceNotFound means no device with the id exists under the vendor group
	ErrDeviceNotFound = errors.New("device not found")
	// ErrStoreUnavailable wraps document store I/O failures
	ErrStoreUnavailable = errors.New("document store unavailable")
	// ErrProtocol marks malformed or invalid client messages
	ErrProtocol = errors.New("protocol error")
	// ErrHubClosed is returned by joins that race with shutdown
	ErrHubClosed = errors.New("collaboration hub closed")
)

// Error codes carried in outbound error messages
const (
	ErrorCodeAlreadyLocked    = "already_locked"
	ErrorCodeNotOwner         = "not_owner"
	ErrorCodeLockRequired     = "lock_required"
	ErrorCodeDeviceNotFound   = "device_not_found"
	ErrorCodeScanNotFound     = "scan_not_found"
	ErrorCodeStoreUnavailable = "store_unavailable"
	ErrorCodeInvalidMessage   = "invalid_message"
	ErrorCodeInternal         = "internal_error"
)

// errorCode maps a room-level failure to the code reported to the requester
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyLocked):
		return ErrorCodeAlreadyLocked
	case errors.Is(err, ErrNotOwner):
		return ErrorCodeNotOwner
	case errors.Is(err, ErrLockRequired):
		return ErrorCodeLockRequired
	case errors.Is(err, ErrDeviceNotFound):
		return ErrorCodeDeviceNotFound
	case errors.Is(err, ErrScanNotFound):
		return ErrorCodeScanNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return ErrorCodeStoreUnavailable
	case errors.Is(err, ErrProtocol):
		return ErrorCodeInvalidMessage
	default:
		return ErrorCodeInternal
	}
}
