package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Test connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	if err := createIndexes(client, cfg.DBName); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %v", err)
	}

	return client, nil
}

func createIndexes(client *mongo.Client, dbName string) error {
	db := client.Database(dbName)

	// Collection registry indexes
	registryCollection := db.Collection("kb_collections")
	registryIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "book_id", Value: 1}},
		},
	}
	if _, err := registryCollection.Indexes().CreateMany(context.Background(), registryIndexes); err != nil {
		return err
	}

	return nil
}

// EnsureChunkIndexes creates the per-book chunk collection indexes. Called
// lazily by the registry when a collection is created, so the filter fields
// used by existence checks and retrieval stay indexed.
func EnsureChunkIndexes(ctx context.Context, col *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "book_id", Value: 1}, {Key: "file_name", Value: 1}}},
		{Keys: bson.D{{Key: "book_id", Value: 1}, {Key: "file_name", Value: 1}, {Key: "chunk_index", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}}},
	}
	_, err := col.Indexes().CreateMany(ctx, indexes)
	return err
}
