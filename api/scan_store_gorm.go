package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/netscope/scancollab/internal/slogging"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScanRecord is the SQL row behind a scan document. Devices and metadata are
// JSON text so every supported dialect stores them the same way.
type ScanRecord struct {
	ID        string    `gorm:"primaryKey;size:255"`
	Devices   string    `gorm:"type:text;not null"`
	Metadata  string    `gorm:"type:text"`
	Version   int64     `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (ScanRecord) TableName() string { return "collab_scans" }

// GormScanStore implements ScanStore over any GORM dialect
type GormScanStore struct {
	db *gorm.DB
}

// NewGormScanStore wraps an open GORM connection
func NewGormScanStore(db *gorm.DB) *GormScanStore {
	return &GormScanStore{db: db}
}

// Migrate creates or updates the scan table
func (s *GormScanStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&ScanRecord{}); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}

// Put inserts or replaces a whole document
func (s *GormScanStore) Put(ctx context.Context, doc *ScanDocument) error {
	rec, err := recordFromDocument(doc)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *GormScanStore) Read(ctx context.Context, scanID string) (*ScanDocument, error) {
	var rec ScanRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", scanID).Error; err != nil {
		return nil, s.wrapError(scanID, err)
	}
	return documentFromRecord(&rec)
}

func (s *GormScanStore) ReplaceVendorDevices(ctx context.Context, scanID, vendor string, devices []Device) (int64, error) {
	var version int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := s.lockRecord(tx, scanID)
		if err != nil {
			return err
		}

		all := make(map[string][]Device)
		if rec.Devices != "" {
			if err := json.Unmarshal([]byte(rec.Devices), &all); err != nil {
				return fmt.Errorf("failed to decode devices of scan %s: %w", scanID, err)
			}
		}
		all[vendor] = devices

		encoded, err := json.Marshal(all)
		if err != nil {
			return fmt.Errorf("failed to encode devices: %w", err)
		}

		version = rec.Version + 1
		return tx.Model(&ScanRecord{}).Where("id = ?", scanID).Updates(map[string]any{
			"devices":    string(encoded),
			"version":    version,
			"updated_at": time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return 0, s.wrapError(scanID, err)
	}
	return version, nil
}

func (s *GormScanStore) ReplaceMetadata(ctx context.Context, scanID string, metadata map[string]any) (int64, error) {
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to encode metadata: %w", err)
	}

	var version int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := s.lockRecord(tx, scanID)
		if err != nil {
			return err
		}
		version = rec.Version + 1
		return tx.Model(&ScanRecord{}).Where("id = ?", scanID).Updates(map[string]any{
			"metadata":   string(encoded),
			"version":    version,
			"updated_at": time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return 0, s.wrapError(scanID, err)
	}
	return version, nil
}

func (s *GormScanStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormScanStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// lockRecord reads the row inside tx, taking a row lock where the dialect supports one
func (s *GormScanStore) lockRecord(tx *gorm.DB, scanID string) (*ScanRecord, error) {
	q := tx
	switch tx.Dialector.Name() {
	case "postgres", "mysql":
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rec ScanRecord
	if err := q.First(&rec, "id = ?", scanID).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormScanStore) wrapError(scanID string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	case errors.Is(err, ErrScanNotFound), errors.Is(err, ErrStoreUnavailable):
		return err
	default:
		slogging.Get().Warn("Scan store operation failed for scan %s: %v", scanID, err)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func recordFromDocument(doc *ScanDocument) (*ScanRecord, error) {
	devices := doc.Devices
	if devices == nil {
		devices = map[string][]Device{}
	}
	encodedDevices, err := json.Marshal(devices)
	if err != nil {
		return nil, fmt.Errorf("failed to encode devices: %w", err)
	}
	rec := &ScanRecord{
		ID:        doc.ScanID,
		Devices:   string(encodedDevices),
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if doc.Metadata != nil {
		encodedMetadata, err := json.Marshal(doc.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		rec.Metadata = string(encodedMetadata)
	}
	return rec, nil
}

func documentFromRecord(rec *ScanRecord) (*ScanDocument, error) {
	doc := &ScanDocument{
		ScanID:    rec.ID,
		Devices:   make(map[string][]Device),
		Version:   rec.Version,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.Devices != "" {
		if err := json.Unmarshal([]byte(rec.Devices), &doc.Devices); err != nil {
			return nil, fmt.Errorf("failed to decode devices of scan %s: %w", rec.ID, err)
		}
	}
	if rec.Metadata != "" {
		if err := json.Unmarshal([]byte(rec.Metadata), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of scan %s: %w", rec.ID, err)
		}
	}
	return doc, nil
}
