package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"book-knowledge-platform/internal/ai"
	"book-knowledge-platform/internal/config"
	"book-knowledge-platform/internal/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	collectionPrefix  = "book_"
	maxCollectionName = 100
	cosineMetric      = "cosine"
)

var unsafeNameChars = regexp.MustCompile("[^a-zA-Z0-9]")

// CollectionHandle describes a resolved per-book collection. It is
// immutable and threaded through each request explicitly; the registry
// keeps no "current collection" state, so concurrent requests for
// different books never interfere.
type CollectionHandle struct {
	BookID    string
	Name      string
	Dimension int
}

// collectionMeta is the registry record for one per-book collection. Mongo
// collections carry no intrinsic vector dimension, so the registry persists
// it and treats it as authoritative for the collection's lifetime.
type collectionMeta struct {
	Name      string    `bson:"name"`
	BookID    string    `bson:"book_id"`
	Dimension int       `bson:"dimension"`
	Metric    string    `bson:"metric"`
	CreatedAt time.Time `bson:"created_at"`
}

// CollectionResolver resolves a book to its collection handle.
type CollectionResolver interface {
	Resolve(ctx context.Context, bookID string) (CollectionHandle, error)
}

// CollectionRegistry resolves and lazily creates per-book vector
// collections in MongoDB, negotiating the vector dimension between the
// configured embedding model and any already-existing collection.
type CollectionRegistry struct {
	db             *mongo.Database
	embeddingModel string
}

func NewCollectionRegistry(db *mongo.Database, embeddingModel string) *CollectionRegistry {
	return &CollectionRegistry{db: db, embeddingModel: embeddingModel}
}

// Resolve returns the handle for bookID's collection, creating the
// collection record on first access. An existing collection's dimension is
// authoritative: if the configured model disagrees, the existing dimension
// is adopted and the mismatch logged, never surfaced as an error.
func (r *CollectionRegistry) Resolve(ctx context.Context, bookID string) (CollectionHandle, error) {
	name, err := SanitizeCollectionName(bookID)
	if err != nil {
		return CollectionHandle{}, err
	}

	registry := r.db.Collection("kb_collections")

	var meta collectionMeta
	err = registry.FindOne(ctx, bson.M{"name": name}).Decode(&meta)
	if err == nil {
		return r.adopt(bookID, meta), nil
	}
	if err != mongo.ErrNoDocuments {
		return CollectionHandle{}, fmt.Errorf("%w: collection lookup: %v", ErrStore, err)
	}

	meta = collectionMeta{
		Name:      name,
		BookID:    bookID,
		Dimension: ai.ModelDimension(r.embeddingModel),
		Metric:    cosineMetric,
		CreatedAt: time.Now(),
	}

	if _, err := registry.InsertOne(ctx, meta); err != nil {
		// A concurrent Resolve may have created the record first; the
		// unique index on name turns that into a duplicate key error and
		// we adopt whatever won.
		if mongo.IsDuplicateKeyError(err) {
			if lookupErr := registry.FindOne(ctx, bson.M{"name": name}).Decode(&meta); lookupErr == nil {
				return r.adopt(bookID, meta), nil
			}
		}
		return CollectionHandle{}, fmt.Errorf("%w: collection create: %v", ErrStore, err)
	}

	if err := config.EnsureChunkIndexes(ctx, r.db.Collection(name)); err != nil {
		logger.Warn("Failed to create chunk indexes", "collection", name, "error", err)
	}

	logger.Info("Created knowledge collection",
		"collection", name, "book_id", bookID, "dimension", meta.Dimension, "metric", meta.Metric)

	return CollectionHandle{BookID: bookID, Name: name, Dimension: meta.Dimension}, nil
}

func (r *CollectionRegistry) adopt(bookID string, meta collectionMeta) CollectionHandle {
	configured := ai.ModelDimension(r.embeddingModel)
	if meta.Dimension != configured {
		logger.Warn("Adopting existing collection dimension over configured model dimension",
			"collection", meta.Name, "existing", meta.Dimension, "configured", configured, "model", r.embeddingModel)
	}
	return CollectionHandle{BookID: bookID, Name: meta.Name, Dimension: meta.Dimension}
}

// ListCollections returns the names of all registered book collections.
func (r *CollectionRegistry) ListCollections(ctx context.Context) ([]string, error) {
	cursor, err := r.db.Collection("kb_collections").Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("%w: listing collections: %v", ErrStore, err)
	}
	defer cursor.Close(ctx)

	var names []string
	for cursor.Next(ctx) {
		var meta collectionMeta
		if err := cursor.Decode(&meta); err != nil {
			continue
		}
		names = append(names, meta.Name)
	}
	return names, nil
}

// SanitizeCollectionName maps a bookID to a safe Mongo collection name:
// non-alphanumeric characters are replaced and the result is bounded and
// prefixed so book collections never collide with platform collections.
func SanitizeCollectionName(bookID string) (string, error) {
	trimmed := strings.TrimSpace(bookID)
	if trimmed == "" {
		return "", fmt.Errorf("%w: bookID must be non-empty", ErrStore)
	}

	safe := unsafeNameChars.ReplaceAllString(trimmed, "_")
	name := collectionPrefix + safe
	if len(name) > maxCollectionName {
		name = name[:maxCollectionName]
	}
	return name, nil
}
