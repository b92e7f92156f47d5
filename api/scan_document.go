package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Device is one scanned host as stored under devices[vendor]. Fields are
// free-form; "id" identifies the device within its scan.
type Device map[string]any

// ID returns the device identifier as a string
func (d Device) ID() string {
	switch v := d["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// ScanDocument is a persisted network scan
type ScanDocument struct {
	ScanID    string              `json:"scanId"`
	Devices   map[string][]Device `json:"devices"`
	Metadata  map[string]any      `json:"metadata,omitempty"`
	Version   int64               `json:"version"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// FindDevice locates deviceID within the vendor group
func (d *ScanDocument) FindDevice(vendor, deviceID string) (int, Device, bool) {
	for i, device := range d.Devices[vendor] {
		if device.ID() == deviceID {
			return i, device, true
		}
	}
	return -1, nil, false
}

// Clone returns a deep copy of the document
func (d *ScanDocument) Clone() *ScanDocument {
	if d == nil {
		return nil
	}
	out := &ScanDocument{
		ScanID:    d.ScanID,
		Devices:   make(map[string][]Device, len(d.Devices)),
		Version:   d.Version,
		UpdatedAt: d.UpdatedAt,
	}
	for vendor, devices := range d.Devices {
		out.Devices[vendor] = cloneDevices(devices)
	}
	if d.Metadata != nil {
		out.Metadata = cloneValue(d.Metadata).(map[string]any)
	}
	return out
}

func cloneDevices(devices []Device) []Device {
	if devices == nil {
		return nil
	}
	out := make([]Device, len(devices))
	for i, device := range devices {
		out[i] = Device(cloneValue(map[string]any(device)).(map[string]any))
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case Device:
		return cloneValue(map[string]any(t))
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}

// ScanStore persists scan documents. Devices are always written as a whole
// vendor slice addressed by devices[vendor]; implementations never flatten
// individual devices into top-level keys.
type ScanStore interface {
	// Read returns the document or an error wrapping ErrScanNotFound or ErrStoreUnavailable
	Read(ctx context.Context, scanID string) (*ScanDocument, error)
	// ReplaceVendorDevices overwrites devices[vendor] and returns the new document version
	ReplaceVendorDevices(ctx context.Context, scanID, vendor string, devices []Device) (int64, error)
	// ReplaceMetadata overwrites the metadata object and returns the new document version
	ReplaceMetadata(ctx context.Context, scanID string, metadata map[string]any) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// normalizeJSON converts driver-specific values to their encoding/json equivalents
func normalizeJSON(v any, out any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}
