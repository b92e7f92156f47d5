package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/microcosm-cc/bluemonday"
)

// DeviceUpdateResult is the outcome of a committed device edit
type DeviceUpdateResult struct {
	Device  Device
	Devices []Device
	Index   int
	Version int64
}

// DocumentBridge applies client patches to scan documents in the store
type DocumentBridge struct {
	store  ScanStore
	policy *bluemonday.Policy
}

// NewDocumentBridge creates a bridge over store
func NewDocumentBridge(store ScanStore) *DocumentBridge {
	return &DocumentBridge{
		store:  store,
		policy: bluemonday.StrictPolicy(),
	}
}

// Store returns the underlying document store
func (b *DocumentBridge) Store() ScanStore {
	return b.store
}

// ApplyDeviceUpdate merges patch into devices[vendor][i] where the device id
// matches, then writes the whole vendor slice back.
func (b *DocumentBridge) ApplyDeviceUpdate(ctx context.Context, scanID, vendor, deviceID string, patch json.RawMessage) (*DeviceUpdateResult, error) {
	doc, err := b.store.Read(ctx, scanID)
	if err != nil {
		return nil, err
	}

	index, device, ok := doc.FindDevice(vendor, deviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrDeviceNotFound, vendor, deviceID)
	}

	merged, err := b.mergeObject(device, patch)
	if err != nil {
		return nil, err
	}
	mergedDevice := Device(merged)
	if mergedDevice.ID() != deviceID {
		return nil, fmt.Errorf("%w: patch may not change the device id", ErrProtocol)
	}

	devices := doc.Devices[vendor]
	devices[index] = mergedDevice

	version, err := b.store.ReplaceVendorDevices(ctx, scanID, vendor, devices)
	if err != nil {
		return nil, err
	}

	return &DeviceUpdateResult{
		Device:  mergedDevice,
		Devices: devices,
		Index:   index,
		Version: version,
	}, nil
}

// ApplyScanUpdate merges patch into the scan metadata object
func (b *DocumentBridge) ApplyScanUpdate(ctx context.Context, scanID string, patch json.RawMessage) (map[string]any, int64, error) {
	doc, err := b.store.Read(ctx, scanID)
	if err != nil {
		return nil, 0, err
	}

	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	merged, err := b.mergeObject(metadata, patch)
	if err != nil {
		return nil, 0, err
	}

	version, err := b.store.ReplaceMetadata(ctx, scanID, merged)
	if err != nil {
		return nil, 0, err
	}
	return merged, version, nil
}

// mergeObject applies an RFC 7386 merge patch after stripping markup from its string values
func (b *DocumentBridge) mergeObject(original map[string]any, patch json.RawMessage) (map[string]any, error) {
	var patchValue map[string]any
	if err := json.Unmarshal(patch, &patchValue); err != nil {
		return nil, fmt.Errorf("%w: patch must be a JSON object: %v", ErrProtocol, err)
	}
	cleanPatch, err := json.Marshal(b.sanitize(patchValue))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	originalJSON, err := json.Marshal(original)
	if err != nil {
		return nil, fmt.Errorf("failed to encode original object: %w", err)
	}

	mergedJSON, err := jsonpatch.MergePatch(originalJSON, cleanPatch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	var merged map[string]any
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("failed to decode merged object: %w", err)
	}
	return merged, nil
}

func (b *DocumentBridge) sanitize(v any) any {
	switch t := v.(type) {
	case string:
		if strings.ContainsAny(t, "<>") {
			return b.policy.Sanitize(t)
		}
		return t
	case map[string]any:
		for k, val := range t {
			t[k] = b.sanitize(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = b.sanitize(val)
		}
		return t
	default:
		return v
	}
}
