package models

import "time"

// Access levels for stored chunks. Retrieval filters on these for
// non-owner callers.
const (
	AccessPublic  = "public"
	AccessPrivate = "private"
)

// AnonymousOwner is the sentinel owner for uploads without an
// authenticated user.
const AnonymousOwner = "anonymous"

// KnowledgeChunk is one stored vector document in a per-book collection.
// Chunks are created during ingestion and read-only afterward.
type KnowledgeChunk struct {
	ID          string    `json:"id" bson:"_id"`
	BookID      string    `json:"book_id" bson:"book_id"`
	FileName    string    `json:"file_name" bson:"file_name"`
	OwnerID     string    `json:"owner_id" bson:"owner_id"`
	TextContent string    `json:"text_content" bson:"text_content"`
	Vector      []float32 `json:"vector" bson:"vector"`
	ChunkIndex  int       `json:"chunk_index" bson:"chunk_index"`
	WordCount   int       `json:"word_count" bson:"word_count"`
	CharCount   int       `json:"char_count" bson:"char_count"`
	ProcessedAt time.Time `json:"processed_at" bson:"processed_at"`
	IsPublic    bool      `json:"is_public" bson:"is_public"`
	AccessLevel string    `json:"access_level" bson:"access_level"`
}

// ScoredChunk pairs a retrieved chunk with its cosine similarity against
// the question vector.
type ScoredChunk struct {
	Chunk      KnowledgeChunk `json:"chunk"`
	Similarity float64        `json:"similarity"`
}

// ExistsResult is the outcome of a knowledge store existence check.
type ExistsResult struct {
	Exists    bool     `json:"exists"`
	Count     int      `json:"count"`
	FileNames []string `json:"file_names"`
}

// StageTiming records per-stage durations in milliseconds.
type StageTiming map[string]int64

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	BookID         string      `json:"book_id"`
	FileName       string      `json:"file_name"`
	CollectionName string      `json:"collection_name"`
	ChunksInserted int         `json:"chunks_inserted"`
	TotalWords     int         `json:"total_words"`
	Pages          int         `json:"pages"`
	ModelUsed      string      `json:"model_used"`
	TokensUsed     int         `json:"tokens_used"`
	AlreadyExists  bool        `json:"already_exists"`
	Timing         StageTiming `json:"timing"`
}

// AskResult is the answer to a question against a book's knowledge base.
type AskResult struct {
	Answer     string      `json:"answer"`
	Confidence int         `json:"confidence"` // 0-100, heuristic
	Sources    int         `json:"sources"`
	ModelUsed  string      `json:"model_used"`
	TokensUsed int         `json:"tokens_used"`
	Method     string      `json:"method"`
	Timing     StageTiming `json:"timing"`
}

// EmbeddingReport is what the pipeline reports back to the parent document
// record after a successful ingestion. The record itself is owned elsewhere.
type EmbeddingReport struct {
	IsEmbedded     bool      `json:"is_embedded"`
	EmbeddingCount int       `json:"embedding_count"`
	EmbeddedAt     time.Time `json:"embedded_at"`
}
