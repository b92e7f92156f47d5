package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/netscope/scancollab/internal/slogging"
)

type joinRequest struct {
	client *CollabClient
	reply  chan error
}

type roomCommand struct {
	client *CollabClient
	msg    AsyncMessage
}

// storeWrite is an accepted edit waiting for the document store
type storeWrite struct {
	owner LockOwner
	msg   AsyncMessage
}

type writeResult struct {
	write    storeWrite
	device   *DeviceUpdateResult
	metadata map[string]any
	version  int64
	err      error
}

// Room serializes every change to one scan's members, locks and presence on
// its own goroutine. Store writes run one at a time off that goroutine and
// report back through results.
type Room struct {
	scanID string
	hub    *Hub

	joins    chan joinRequest
	leaves   chan *CollabClient
	commands chan roomCommand
	results  chan writeResult
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	loadErr  error

	// owned by Run
	doc       *ScanDocument
	members   map[string]*CollabClient
	order     []string
	locks     *LockTable
	presence  *PresenceTracker
	queue     []storeWrite
	writing   bool
	sequence  uint64
	evictions []*CollabClient
	stopping  bool
}

func newRoom(h *Hub, scanID string) *Room {
	return &Room{
		scanID:   scanID,
		hub:      h,
		joins:    make(chan joinRequest),
		leaves:   make(chan *CollabClient),
		commands: make(chan roomCommand),
		results:  make(chan writeResult, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		members:  make(map[string]*CollabClient),
		locks:    NewLockTable(h.clock, h.cfg.LockLease),
		presence: NewPresenceTracker(h.clock, h.cfg.TypingTimeout),
	}
}

// Run loads the scan and processes room events until the room is empty and idle
func (r *Room) Run() {
	defer close(r.done)
	defer r.hub.metrics.RoomClosed(context.Background())
	logger := slogging.Get()

	if err := r.load(); err != nil {
		logger.Warn("Failed to prepare room for scan %s: %v", r.scanID, err)
		r.loadErr = err
		r.hub.detachRoom(r)
		return
	}

	ticker := r.hub.clock.NewTicker(r.hub.cfg.ReapInterval)
	defer ticker.Stop()
	stop := r.stop

	for {
		select {
		case req := <-r.joins:
			r.handleJoin(req)
		case c := <-r.leaves:
			r.removeMember(c)
		case cmd := <-r.commands:
			r.handleCommand(cmd)
		case res := <-r.results:
			r.handleWriteResult(res)
		case <-ticker.Chan():
			r.sweep()
		case <-stop:
			stop = nil
			r.beginStop()
		}

		r.flushEvictions()
		if r.idle() {
			r.hub.detachRoom(r)
			logger.Debug("Room for scan %s closed", r.scanID)
			return
		}
	}
}

func (r *Room) load() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.hub.cfg.StoreTimeout)
	defer cancel()

	doc, err := r.hub.bridge.Store().Read(ctx, r.scanID)
	if err != nil {
		if errors.Is(err, ErrScanNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrRoomNotReady, err)
	}
	r.doc = doc
	return nil
}

func (r *Room) idle() bool {
	if r.writing || len(r.queue) > 0 {
		return false
	}
	return len(r.members) == 0 || r.stopping
}

func (r *Room) requestStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Room) beginStop() {
	r.stopping = true
	for _, id := range r.order {
		r.members[id].shutdown(CloseGoingAway, "server shutting down")
	}
}

// leave hands a disconnected client to the room. Safe after the room stopped.
func (r *Room) leave(c *CollabClient) {
	select {
	case r.leaves <- c:
	case <-r.done:
	}
}

// submit hands an inbound message to the room
func (r *Room) submit(c *CollabClient, msg AsyncMessage) bool {
	select {
	case r.commands <- roomCommand{client: c, msg: msg}:
		return true
	case <-r.done:
		return false
	case <-c.done:
		return false
	}
}

func (r *Room) isMember(sessionID string) bool {
	_, ok := r.members[sessionID]
	return ok
}

func (r *Room) handleJoin(req joinRequest) {
	c := req.client
	if r.stopping {
		req.reply <- ErrHubClosed
		return
	}

	// stale locks must never reach a joiner's snapshot
	r.reapLocks()

	r.members[c.session.ID] = c
	r.order = append(r.order, c.session.ID)
	r.presence.Add(c.session)
	req.reply <- nil

	locks := r.locks.Snapshot()
	infos := make([]LockInfo, len(locks))
	for i, l := range locks {
		infos[i] = l.Info()
	}
	r.sendTo(c, RoomSnapshotMessage{
		Type:      MessageTypeRoomSnapshot,
		ScanID:    r.scanID,
		SessionID: c.session.ID,
		Users:     r.presence.List(),
		Locks:     infos,
		Version:   r.doc.Version,
		Sequence:  r.sequence,
	})
	r.broadcastPresence()

	slogging.Get().Info("Session %s (user %s) joined scan %s; %d member(s)",
		c.session.ID, c.session.UserID, r.scanID, len(r.members))
}

func (r *Room) removeMember(c *CollabClient) {
	id := c.session.ID
	if _, ok := r.members[id]; !ok {
		return
	}
	delete(r.members, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.presence.Remove(id)

	for _, l := range r.locks.ReleaseAll(id) {
		r.hub.metrics.LockEvent(context.Background(), "released_on_disconnect")
		r.broadcast(LockReleasedMessage{
			Type:           MessageTypeLockReleased,
			ScanID:         r.scanID,
			DeviceID:       l.DeviceID,
			OwnerSessionID: l.Owner.SessionID,
			OwnerUsername:  l.Owner.Username,
			Reason:         ReleaseReasonDisconnected,
		}, "")
	}
	r.broadcastPresence()

	slogging.Get().Info("Session %s (user %s) left scan %s; %d member(s)",
		id, c.session.UserID, r.scanID, len(r.members))
}

func (r *Room) handleCommand(cmd roomCommand) {
	c := cmd.client
	if !r.isMember(c.session.ID) {
		return
	}

	switch m := cmd.msg.(type) {
	case LockRequestMessage:
		r.handleLockRequest(c, m)
	case LockReleaseMessage:
		r.handleLockRelease(c, m)
	case DeviceUpdateMessage:
		if m.ScanID != "" && m.ScanID != r.scanID {
			r.sendError(c, m.Type, m.DeviceID, fmt.Errorf("%w: scanId %s does not match this room", ErrProtocol, m.ScanID))
			return
		}
		r.reapLocks()
		if err := r.locks.CheckOwner(m.DeviceID, c.session.ID); err != nil {
			r.sendError(c, m.Type, m.DeviceID, err)
			return
		}
		r.enqueueWrite(storeWrite{owner: c.session.owner(), msg: m})
	case ScanUpdateMessage:
		if m.ScanID != "" && m.ScanID != r.scanID {
			r.sendError(c, m.Type, "", fmt.Errorf("%w: scanId %s does not match this room", ErrProtocol, m.ScanID))
			return
		}
		r.enqueueWrite(storeWrite{owner: c.session.owner(), msg: m})
	case TypingMessage:
		if r.presence.SetTyping(c.session.ID, m.IsTyping, m.DeviceID) {
			r.broadcastPresence()
		}
	case CursorPositionMessage:
		r.presence.SetCursor(c.session.ID, m.Cursor)
		r.broadcast(CursorRelayMessage{
			Type:      MessageTypeCursorPosition,
			SessionID: c.session.ID,
			UserID:    c.session.UserID,
			Username:  c.session.Username,
			Cursor:    m.Cursor,
		}, c.session.ID)
	default:
		slogging.Get().Warn("Room %s ignoring unexpected command %T", r.scanID, cmd.msg)
	}
}

func (r *Room) handleLockRequest(c *CollabClient, m LockRequestMessage) {
	r.reapLocks()
	lock, created, err := r.locks.Acquire(m.DeviceID, c.session.owner())
	if err != nil {
		r.hub.metrics.LockEvent(context.Background(), "conflict")
		r.sendError(c, m.Type, m.DeviceID, err)
		return
	}

	msg := LockAcquiredMessage{Type: MessageTypeLockAcquired, ScanID: r.scanID, LockInfo: lock.Info()}
	if !created {
		r.hub.metrics.LockEvent(context.Background(), "renewed")
		r.sendTo(c, msg)
		return
	}
	r.hub.metrics.LockEvent(context.Background(), "acquired")
	r.broadcast(msg, "")
}

func (r *Room) handleLockRelease(c *CollabClient, m LockReleaseMessage) {
	r.reapLocks()
	lock, removed, err := r.locks.Release(m.DeviceID, c.session.ID)
	if err != nil {
		r.hub.metrics.LockEvent(context.Background(), "not_owner")
		r.sendError(c, m.Type, m.DeviceID, err)
		return
	}
	if !removed {
		r.sendTo(c, LockReleasedMessage{
			Type:     MessageTypeLockReleased,
			ScanID:   r.scanID,
			DeviceID: m.DeviceID,
			Reason:   ReleaseReasonNotHeld,
		})
		return
	}

	r.hub.metrics.LockEvent(context.Background(), "released")
	r.broadcast(LockReleasedMessage{
		Type:           MessageTypeLockReleased,
		ScanID:         r.scanID,
		DeviceID:       lock.DeviceID,
		OwnerSessionID: lock.Owner.SessionID,
		OwnerUsername:  lock.Owner.Username,
		Reason:         ReleaseReasonReleased,
	}, "")
}

// reapLocks drops expired locks and locks of departed sessions, announcing each
func (r *Room) reapLocks() {
	for _, l := range r.locks.Reap(r.isMember) {
		reason := ReleaseReasonExpired
		if !r.isMember(l.Owner.SessionID) {
			reason = ReleaseReasonDisconnected
		}
		r.hub.metrics.LockEvent(context.Background(), reason)
		slogging.Get().Debug("Reaped lock on %s in scan %s (owner %s, reason %s)",
			l.DeviceID, r.scanID, l.Owner.SessionID, reason)
		r.broadcast(LockReleasedMessage{
			Type:           MessageTypeLockReleased,
			ScanID:         r.scanID,
			DeviceID:       l.DeviceID,
			OwnerSessionID: l.Owner.SessionID,
			OwnerUsername:  l.Owner.Username,
			Reason:         reason,
		}, "")
	}
}

func (r *Room) sweep() {
	r.reapLocks()
	if r.presence.ExpireTyping() {
		r.broadcastPresence()
	}
}

func (r *Room) enqueueWrite(w storeWrite) {
	r.queue = append(r.queue, w)
	r.startNextWrite()
}

func (r *Room) startNextWrite() {
	if r.writing || len(r.queue) == 0 {
		return
	}
	w := r.queue[0]
	r.queue = r.queue[1:]
	r.writing = true
	go r.executeWrite(w)
}

// executeWrite runs detached from the originating session so an accepted
// edit completes even if its author disconnects.
func (r *Room) executeWrite(w storeWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), r.hub.cfg.StoreTimeout)
	defer cancel()

	res := writeResult{write: w}
	switch m := w.msg.(type) {
	case DeviceUpdateMessage:
		ctx, end := r.hub.metrics.TraceStoreWrite(ctx, "device_update", r.scanID)
		res.device, res.err = r.hub.bridge.ApplyDeviceUpdate(ctx, r.scanID, m.VendorGroup, m.DeviceID, m.Patch)
		if res.device != nil {
			res.version = res.device.Version
		}
		end(res.err)
	case ScanUpdateMessage:
		ctx, end := r.hub.metrics.TraceStoreWrite(ctx, "scan_update", r.scanID)
		res.metadata, res.version, res.err = r.hub.bridge.ApplyScanUpdate(ctx, r.scanID, m.Patch)
		end(res.err)
	default:
		res.err = fmt.Errorf("%w: unsupported write %T", ErrProtocol, w.msg)
	}
	r.results <- res
}

func (r *Room) handleWriteResult(res writeResult) {
	r.writing = false
	defer r.startNextWrite()

	owner, ownerPresent := r.members[res.write.owner.SessionID]
	if res.err != nil {
		slogging.Get().Warn("Store write for scan %s by session %s failed: %v",
			r.scanID, res.write.owner.SessionID, res.err)
		if ownerPresent {
			deviceID := ""
			if m, ok := res.write.msg.(DeviceUpdateMessage); ok {
				deviceID = m.DeviceID
			}
			r.sendError(owner, res.write.msg.GetMessageType(), deviceID, res.err)
		}
		return
	}

	r.sequence++
	r.doc.Version = res.version

	switch m := res.write.msg.(type) {
	case DeviceUpdateMessage:
		r.doc.Devices[m.VendorGroup] = cloneDevices(res.device.Devices)
		r.broadcast(DeviceUpdateEvent{
			Type:              MessageTypeDeviceUpdate,
			ScanID:            r.scanID,
			DeviceID:          m.DeviceID,
			VendorGroup:       m.VendorGroup,
			Index:             res.device.Index,
			Patch:             m.Patch,
			Device:            res.device.Device,
			IssuedBySessionID: res.write.owner.SessionID,
			IssuedBy:          res.write.owner.Username,
			Sequence:          r.sequence,
			Version:           res.version,
		}, "")
	case ScanUpdateMessage:
		r.doc.Metadata = res.metadata
		r.broadcast(ScanUpdateEvent{
			Type:              MessageTypeScanUpdate,
			ScanID:            r.scanID,
			Patch:             m.Patch,
			Metadata:          res.metadata,
			IssuedBySessionID: res.write.owner.SessionID,
			IssuedBy:          res.write.owner.Username,
			Sequence:          r.sequence,
			Version:           res.version,
		}, "")
	}
}

func (r *Room) broadcastPresence() {
	r.broadcast(PresenceUpdateMessage{
		Type:   MessageTypePresenceUpdate,
		ScanID: r.scanID,
		Users:  r.presence.List(),
	}, "")
}

// broadcast delivers msg to every member except exclude, in join order
func (r *Room) broadcast(msg any, exclude string) {
	data, err := json.Marshal(msg)
	if err != nil {
		slogging.Get().Error("Failed to marshal broadcast for scan %s: %v", r.scanID, err)
		return
	}
	for _, id := range r.order {
		if id == exclude {
			continue
		}
		r.deliver(r.members[id], data)
	}
}

func (r *Room) sendTo(c *CollabClient, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slogging.Get().Error("Failed to marshal message for session %s: %v", c.session.ID, err)
		return
	}
	r.deliver(c, data)
}

func (r *Room) sendError(c *CollabClient, requestType MessageType, deviceID string, err error) {
	r.sendTo(c, ErrorMessage{
		Type:        MessageTypeError,
		Code:        errorCode(err),
		Message:     err.Error(),
		DeviceID:    deviceID,
		RequestType: requestType,
	})
}

// deliver never blocks. A member that keeps overflowing its buffer is queued for eviction.
func (r *Room) deliver(c *CollabClient, data []byte) {
	if c.enqueue(data) {
		c.sendFailures = 0
		return
	}
	c.sendFailures++
	r.hub.metrics.SendDropped(context.Background())
	if c.sendFailures >= r.hub.cfg.MaxSendFailures && !c.evicting {
		c.evicting = true
		r.evictions = append(r.evictions, c)
	}
}

func (r *Room) flushEvictions() {
	for len(r.evictions) > 0 {
		c := r.evictions[0]
		r.evictions = r.evictions[1:]
		if !r.isMember(c.session.ID) {
			continue
		}
		slogging.Get().Warn("Evicting slow session %s (user %s) from scan %s",
			c.session.ID, c.session.UserID, r.scanID)
		r.hub.metrics.MemberEvicted(context.Background())
		r.removeMember(c)
		c.shutdown(ClosePolicyViolation, "send buffer overflow")
	}
}
