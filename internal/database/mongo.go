package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	accountsCollection   = "accounts"
	challengesCollection = "challenges"
	usedCodesCollection  = "used_codes"

	queryTimeout = 5 * time.Second
)

var (
	// ErrNotFound is returned when no document matches a lookup.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write loses to an existing document or state.
	ErrConflict = errors.New("conflict")
)

// ConnectMongoDB establishes a connection to MongoDB and pings it.
func ConnectMongoDB(ctx context.Context, uri string, log *zap.Logger) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if err := client.Ping(ctxPing, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	log.Info("connected to MongoDB")
	return client, nil
}

// EnsureIndexes creates the unique identifier index and the TTL indexes that
// let MongoDB drop expired challenges and replay records.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := db.Collection(accountsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("failed to create accounts index: %w", err)
	}
	for _, name := range []string{challengesCollection, usedCodesCollection} {
		if _, err := db.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		}); err != nil {
			return fmt.Errorf("failed to create %s TTL index: %w", name, err)
		}
	}
	return nil
}
