package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// mongoScanDocument mirrors the scans collection schema
type mongoScanDocument struct {
	ID        string              `bson:"_id"`
	Devices   map[string][]bson.M `bson:"devices"`
	Metadata  bson.M              `bson:"metadata,omitempty"`
	Version   int64               `bson:"version"`
	UpdatedAt time.Time           `bson:"updatedAt"`
}

// MongoScanStore implements ScanStore over a MongoDB collection
type MongoScanStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoScanStore wraps a connected collection. client may be nil when the caller owns it.
func NewMongoScanStore(client *mongo.Client, coll *mongo.Collection) *MongoScanStore {
	return &MongoScanStore{client: client, coll: coll}
}

func (s *MongoScanStore) Read(ctx context.Context, scanID string) (*ScanDocument, error) {
	var raw mongoScanDocument
	if err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: scanID}}).Decode(&raw); err != nil {
		return nil, s.wrapError(scanID, err)
	}

	doc := &ScanDocument{
		ScanID:    raw.ID,
		Devices:   make(map[string][]Device),
		Version:   raw.Version,
		UpdatedAt: raw.UpdatedAt,
	}
	if raw.Devices != nil {
		if err := normalizeJSON(raw.Devices, &doc.Devices); err != nil {
			return nil, err
		}
	}
	if raw.Metadata != nil {
		if err := normalizeJSON(raw.Metadata, &doc.Metadata); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (s *MongoScanStore) ReplaceVendorDevices(ctx context.Context, scanID, vendor string, devices []Device) (int64, error) {
	return s.update(ctx, scanID, vendorDevicesUpdate(vendor, devices, time.Now().UTC()))
}

func (s *MongoScanStore) ReplaceMetadata(ctx context.Context, scanID string, metadata map[string]any) (int64, error) {
	return s.update(ctx, scanID, metadataUpdate(metadata, time.Now().UTC()))
}

func (s *MongoScanStore) update(ctx context.Context, scanID string, update bson.D) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.D{{Key: "version", Value: 1}})

	var result struct {
		Version int64 `bson:"version"`
	}
	err := s.coll.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: scanID}}, update, opts).Decode(&result)
	if err != nil {
		return 0, s.wrapError(scanID, err)
	}
	return result.Version, nil
}

func (s *MongoScanStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoScanStore) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoScanStore) wrapError(scanID string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// vendorDevicesUpdate replaces the nested devices.<vendor> array and bumps the version
func vendorDevicesUpdate(vendor string, devices []Device, now time.Time) bson.D {
	arr := make(bson.A, len(devices))
	for i, device := range devices {
		arr[i] = map[string]any(device)
	}
	return bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "devices." + vendor, Value: arr},
			{Key: "updatedAt", Value: now},
		}},
		{Key: "$inc", Value: bson.D{{Key: "version", Value: int64(1)}}},
	}
}

func metadataUpdate(metadata map[string]any, now time.Time) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "metadata", Value: metadata},
			{Key: "updatedAt", Value: now},
		}},
		{Key: "$inc", Value: bson.D{{Key: "version", Value: int64(1)}}},
	}
}
