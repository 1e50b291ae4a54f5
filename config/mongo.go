package config

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var MongoClient *mongo.Client

// InitMongo connects to MongoDB (Atlas or self-hosted) for usage tracking.
// It returns ErrNotConfigured when MONGO_URI is unset.
func InitMongo() error {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		return fmt.Errorf("mongo: MONGO_URI: %w", ErrNotConfigured)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// usage writes are small and asynchronous; a short pool is enough
	opts := options.Client().ApplyURI(uri).
		SetAppName("yoodocs").
		SetServerSelectionTimeout(10 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetMaxPoolSize(20).
		SetMinPoolSize(1).
		SetRetryWrites(true)

	// Atlas handshakes sometimes fail under Go's default TLS settings
	if os.Getenv("MONGO_FORCE_TLS_CONFIG") == "true" {
		opts = opts.SetTLSConfig(&tls.Config{
			InsecureSkipVerify: os.Getenv("MONGO_INSECURE_TLS") == "true",
			MinVersion:         tls.VersionTLS12,
			MaxVersion:         tls.VersionTLS12,
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("mongo ping: %w", err)
	}

	MongoClient = client
	return nil
}
