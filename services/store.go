package services

import (
	"context"
	"fmt"

	"book-knowledge-platform/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RetrievalFilter scopes a candidate fetch. RequesterID is empty for
// unauthenticated callers; non-owners only see public chunks.
type RetrievalFilter struct {
	BookID      string
	FileName    string
	RequesterID string
}

// ChunkStore is CRUD over a collection's chunk documents. Idempotency is
// owned by the orchestrator: InsertChunks does not deduplicate.
type ChunkStore interface {
	Exists(ctx context.Context, handle CollectionHandle, fileName, ownerID string) (models.ExistsResult, error)
	InsertChunks(ctx context.Context, handle CollectionHandle, chunks []models.KnowledgeChunk) (int, error)
	DeleteChunks(ctx context.Context, handle CollectionHandle, fileName, ownerID string) (int64, error)
	FetchCandidates(ctx context.Context, handle CollectionHandle, filter RetrievalFilter, limit int) ([]models.KnowledgeChunk, error)
}

// KnowledgeStore implements ChunkStore on MongoDB, one collection per book.
type KnowledgeStore struct {
	db *mongo.Database
}

func NewKnowledgeStore(db *mongo.Database) *KnowledgeStore {
	return &KnowledgeStore{db: db}
}

// Exists reports whether chunks are already stored for the handle's book,
// optionally narrowed by fileName and ownerID. Pure query, no side effects.
func (s *KnowledgeStore) Exists(ctx context.Context, handle CollectionHandle, fileName, ownerID string) (models.ExistsResult, error) {
	col := s.db.Collection(handle.Name)

	filter := bson.M{"book_id": handle.BookID}
	if fileName != "" {
		filter["file_name"] = fileName
	}
	if ownerID != "" {
		filter["owner_id"] = ownerID
	}

	count, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return models.ExistsResult{}, fmt.Errorf("%w: existence check: %v", ErrStore, err)
	}

	result := models.ExistsResult{Exists: count > 0, Count: int(count)}
	if count == 0 {
		return result, nil
	}

	rawNames, err := col.Distinct(ctx, "file_name", filter)
	if err != nil {
		return models.ExistsResult{}, fmt.Errorf("%w: listing file names: %v", ErrStore, err)
	}
	for _, raw := range rawNames {
		if name, ok := raw.(string); ok {
			result.FileNames = append(result.FileNames, name)
		}
	}

	return result, nil
}

// InsertChunks bulk-inserts chunk documents in chunkIndex order and returns
// the number inserted.
func (s *KnowledgeStore) InsertChunks(ctx context.Context, handle CollectionHandle, chunks []models.KnowledgeChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	docs := make([]interface{}, len(chunks))
	for i, chunk := range chunks {
		docs[i] = chunk
	}

	res, err := s.db.Collection(handle.Name).InsertMany(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("%w: bulk insert: %v", ErrStore, err)
	}
	return len(res.InsertedIDs), nil
}

// DeleteChunks removes all chunks for (book, fileName[, ownerID]) and
// returns the deleted count.
func (s *KnowledgeStore) DeleteChunks(ctx context.Context, handle CollectionHandle, fileName, ownerID string) (int64, error) {
	filter := bson.M{"book_id": handle.BookID, "file_name": fileName}
	if ownerID != "" {
		filter["owner_id"] = ownerID
	}

	res, err := s.db.Collection(handle.Name).DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("%w: delete: %v", ErrStore, err)
	}
	return res.DeletedCount, nil
}

// FetchCandidates returns up to limit chunks matching the filter, in
// stored order. Non-owner and unauthenticated requests only see public
// chunks; owners also see their own private ones.
func (s *KnowledgeStore) FetchCandidates(ctx context.Context, handle CollectionHandle, filter RetrievalFilter, limit int) ([]models.KnowledgeChunk, error) {
	query := bson.M{"book_id": handle.BookID}
	if filter.FileName != "" {
		query["file_name"] = filter.FileName
	}

	access := []bson.M{
		{"access_level": models.AccessPublic},
		{"is_public": true},
	}
	if filter.RequesterID != "" {
		access = append(access, bson.M{"owner_id": filter.RequesterID})
	}
	query["$or"] = access

	cursor, err := s.db.Collection(handle.Name).Find(ctx, query,
		options.Find().SetLimit(int64(limit)).SetSort(bson.D{{Key: "chunk_index", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("%w: candidate fetch: %v", ErrStore, err)
	}
	defer cursor.Close(ctx)

	candidates := make([]models.KnowledgeChunk, 0, limit)
	if err := cursor.All(ctx, &candidates); err != nil {
		return nil, fmt.Errorf("%w: decoding candidates: %v", ErrStore, err)
	}

	return candidates, nil
}
