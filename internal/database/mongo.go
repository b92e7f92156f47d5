package database

import (
	"context"
	"fmt"
	"time"

	"github.com/netscope/scancollab/internal/slogging"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// MongoConfig holds the configuration for a MongoDB connection
type MongoConfig struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

// ConnectMongo connects to MongoDB and returns the configured collection
func ConnectMongo(ctx context.Context, cfg MongoConfig) (*mongo.Client, *mongo.Collection, error) {
	log := slogging.Get()
	if cfg.URI == "" {
		return nil, nil, fmt.Errorf("mongodb uri is required")
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	// Nested documents decode as maps so device fields round-trip as plain JSON objects
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create mongodb client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	log.Debug("MongoDB connection established (database=%s collection=%s)", cfg.Database, cfg.Collection)
	return client, client.Database(cfg.Database).Collection(cfg.Collection), nil
}
