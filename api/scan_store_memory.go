package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
)

// MemoryScanStore keeps scan documents in process memory
type MemoryScanStore struct {
	mu    sync.RWMutex
	docs  map[string]*ScanDocument
	clock clockwork.Clock
}

// NewMemoryScanStore creates an empty in-memory store
func NewMemoryScanStore(clock clockwork.Clock) *MemoryScanStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryScanStore{
		docs:  make(map[string]*ScanDocument),
		clock: clock,
	}
}

// Put inserts or replaces a whole document
func (s *MemoryScanStore) Put(doc *ScanDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := doc.Clone()
	if cp.Devices == nil {
		cp.Devices = make(map[string][]Device)
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.clock.Now().UTC()
	}
	s.docs[doc.ScanID] = cp
}

func (s *MemoryScanStore) Read(_ context.Context, scanID string) (*ScanDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[scanID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}
	return doc.Clone(), nil
}

func (s *MemoryScanStore) ReplaceVendorDevices(_ context.Context, scanID, vendor string, devices []Device) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[scanID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}
	doc.Devices[vendor] = cloneDevices(devices)
	doc.Version++
	doc.UpdatedAt = s.clock.Now().UTC()
	return doc.Version, nil
}

func (s *MemoryScanStore) ReplaceMetadata(_ context.Context, scanID string, metadata map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[scanID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}
	doc.Metadata, _ = cloneValue(metadata).(map[string]any)
	doc.Version++
	doc.UpdatedAt = s.clock.Now().UTC()
	return doc.Version, nil
}

func (s *MemoryScanStore) Ping(context.Context) error { return nil }

func (s *MemoryScanStore) Close() error { return nil }
