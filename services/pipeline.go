package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"book-knowledge-platform/internal/ai"
	"book-knowledge-platform/internal/config"
	"book-knowledge-platform/internal/logger"
	"book-knowledge-platform/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// Confidence below this is floored. A UX heuristic so answers with
	// usable sources never read as "no confidence at all" -- not a
	// calibrated probability.
	confidenceFloor = 75

	// NoDocumentsAnswer is the terminal-success answer for a book with no
	// relevant embedded content.
	NoDocumentsAnswer = "No relevant documents were found for this book. Upload a document before asking questions."
)

// EmbeddingReporter receives the post-ingestion report for the parent
// document record. The record's storage and lifecycle are owned elsewhere.
type EmbeddingReporter interface {
	ReportEmbedded(ctx context.Context, bookID, fileName string, report models.EmbeddingReport) error
}

// IngestRequest describes one document to ingest. Exactly one of SourceURL
// and Data must be set.
type IngestRequest struct {
	BookID    string
	FileName  string
	OwnerID   string
	SourceURL string
	Data      []byte
	IsPublic  bool
	Force     bool
}

// AskRequest is one question against a book's knowledge base. RequesterID
// is empty for unauthenticated callers; FileName optionally narrows
// retrieval to one source document.
type AskRequest struct {
	BookID      string
	Question    string
	FileName    string
	RequesterID string
}

// Processor composes the pipeline components into the two flows: ingest a
// document into a book's collection, and answer a question against it.
type Processor struct {
	cfg       *config.Config
	registry  CollectionResolver
	store     ChunkStore
	extractor Extractor
	chunker   *TextChunker
	embedder  ai.EmbeddingProvider
	retriever *Retriever
	synth     *AnswerSynthesizer
	reporter  EmbeddingReporter
	cache     *AnswerCache

	// Serializes ingestions per (bookID, fileName) so the existence check
	// and the insert cannot interleave across two concurrent uploads of the
	// same file.
	ingestLocks keyedMutex
}

// NewProcessor wires the pipeline. reporter and cache may be nil.
func NewProcessor(
	cfg *config.Config,
	registry CollectionResolver,
	store ChunkStore,
	embedder ai.EmbeddingProvider,
	chat ai.ChatProvider,
	reporter EmbeddingReporter,
	cache *AnswerCache,
) *Processor {
	return &Processor{
		cfg:       cfg,
		registry:  registry,
		store:     store,
		extractor: NewDocumentExtractor(cfg),
		chunker:   NewTextChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder:  embedder,
		retriever: NewRetriever(store, embedder, cfg.MaxCandidates),
		synth:     NewAnswerSynthesizer(chat, cfg.MaxContextChunks),
		reporter:  reporter,
		cache:     cache,
	}
}

// Ingest runs download/extract -> idempotency check -> chunk -> embed ->
// store. A repeat ingestion of the same (book, file) without Force
// short-circuits to the existing summary; failures before storage leave no
// partial state.
func (p *Processor) Ingest(ctx context.Context, req IngestRequest) (*models.IngestResult, error) {
	tracer := otel.Tracer("knowledge-pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("kb.book_id", req.BookID),
		attribute.String("kb.file_name", req.FileName),
		attribute.Bool("kb.force", req.Force),
	)

	if req.FileName == "" {
		return nil, fmt.Errorf("%w: fileName is required", ErrExtraction)
	}
	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = models.AnonymousOwner
	}

	clock := newStageClock()

	data := req.Data
	if len(data) == 0 {
		if req.SourceURL == "" {
			return nil, fmt.Errorf("%w: no document bytes or source url", ErrExtraction)
		}
		downloaded, err := p.extractor.Download(ctx, req.SourceURL)
		if err != nil {
			return nil, err
		}
		data = downloaded
	}

	text, pages, err := p.extractor.ExtractText(ctx, data)
	if err != nil {
		return nil, err
	}
	clock.mark("extracting")

	handle, err := p.registry.Resolve(ctx, req.BookID)
	if err != nil {
		return nil, err
	}

	unlock := p.ingestLocks.lock(req.BookID + "\x00" + req.FileName)
	defer unlock()

	existing, err := p.store.Exists(ctx, handle, req.FileName, ownerID)
	if err != nil {
		return nil, err
	}
	clock.mark("idempotency-check")

	if existing.Exists && !req.Force {
		logger.Info("Document already embedded, skipping re-ingestion",
			"book_id", req.BookID, "file_name", req.FileName, "chunks", existing.Count)
		return &models.IngestResult{
			BookID:         req.BookID,
			FileName:       req.FileName,
			CollectionName: handle.Name,
			ChunksInserted: existing.Count,
			Pages:          pages,
			ModelUsed:      p.embedder.Model(),
			AlreadyExists:  true,
			Timing:         clock.timing,
		}, nil
	}

	texts := p.chunker.Chunk(text)
	clock.mark("chunking")

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	clock.mark("embedding")

	accessLevel := models.AccessPrivate
	if req.IsPublic {
		accessLevel = models.AccessPublic
	}

	now := time.Now()
	totalWords := 0
	totalChars := 0
	chunks := make([]models.KnowledgeChunk, len(texts))
	for i, chunkText := range texts {
		words := len(strings.Fields(chunkText))
		totalWords += words
		totalChars += len(chunkText)
		chunks[i] = models.KnowledgeChunk{
			ID:          uuid.NewString(),
			BookID:      req.BookID,
			FileName:    req.FileName,
			OwnerID:     ownerID,
			TextContent: chunkText,
			Vector:      ai.FitVector(vectors[i], handle.Dimension),
			ChunkIndex:  i,
			WordCount:   words,
			CharCount:   len(chunkText),
			ProcessedAt: now,
			IsPublic:    req.IsPublic,
			AccessLevel: accessLevel,
		}
	}

	// Replacement chunks are fully embedded before the old ones go away, so
	// a failed force re-ingestion keeps the previous good state.
	if existing.Exists && req.Force {
		deleted, err := p.store.DeleteChunks(ctx, handle, req.FileName, ownerID)
		if err != nil {
			return nil, err
		}
		logger.Info("Force re-ingestion, removed previous chunks",
			"book_id", req.BookID, "file_name", req.FileName, "deleted", deleted)
	}

	inserted, err := p.store.InsertChunks(ctx, handle, chunks)
	if err != nil {
		return nil, err
	}
	clock.mark("storing")

	p.cache.Invalidate(ctx, req.BookID)

	if p.reporter != nil {
		report := models.EmbeddingReport{IsEmbedded: true, EmbeddingCount: inserted, EmbeddedAt: now}
		if err := p.reporter.ReportEmbedded(ctx, req.BookID, req.FileName, report); err != nil {
			logger.Warn("Failed to report embedding to parent record",
				"book_id", req.BookID, "file_name", req.FileName, "error", err)
		}
	}

	logger.Info("Document ingested",
		"book_id", req.BookID, "file_name", req.FileName, "collection", handle.Name,
		"chunks", inserted, "words", totalWords, "pages", pages)

	return &models.IngestResult{
		BookID:         req.BookID,
		FileName:       req.FileName,
		CollectionName: handle.Name,
		ChunksInserted: inserted,
		TotalWords:     totalWords,
		Pages:          pages,
		ModelUsed:      p.embedder.Model(),
		TokensUsed:     totalChars / 4,
		Timing:         clock.timing,
	}, nil
}

// Ask answers a question against a book's knowledge base. A book with no
// relevant embedded content returns a zero-confidence explanatory result,
// not an error.
func (p *Processor) Ask(ctx context.Context, req AskRequest) (*models.AskResult, error) {
	tracer := otel.Tracer("knowledge-pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.ask")
	defer span.End()
	span.SetAttributes(attribute.String("kb.book_id", req.BookID))

	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("question must be non-empty")
	}

	if cached, ok := p.cache.Get(ctx, req.BookID, req.FileName, req.Question); ok {
		span.SetAttributes(attribute.Bool("kb.cache_hit", true))
		return cached, nil
	}

	clock := newStageClock()

	handle, err := p.registry.Resolve(ctx, req.BookID)
	if err != nil {
		return nil, err
	}

	filter := RetrievalFilter{BookID: req.BookID, FileName: req.FileName, RequesterID: req.RequesterID}
	ranked, err := p.retriever.Retrieve(ctx, handle, req.Question, filter, p.cfg.MaxContextChunks)
	if err != nil {
		return nil, err
	}
	clock.mark("retrieving")
	clock.mark("ranking")

	if len(ranked) == 0 {
		return &models.AskResult{
			Answer:     NoDocumentsAnswer,
			Confidence: 0,
			Sources:    0,
			ModelUsed:  p.synth.chat.GenerationModel(),
			Method:     MethodNoDocuments,
			Timing:     clock.timing,
		}, nil
	}

	answer, tokensUsed, method := p.synth.Synthesize(ctx, req.Question, ranked)
	clock.mark("synthesizing")

	result := &models.AskResult{
		Answer:     answer,
		Confidence: ConfidenceScore(ranked),
		Sources:    len(ranked),
		ModelUsed:  p.synth.chat.GenerationModel(),
		TokensUsed: tokensUsed,
		Method:     method,
		Timing:     clock.timing,
	}

	if method == MethodRAG {
		p.cache.Set(ctx, req.BookID, req.FileName, req.Question, result)
	}

	return result, nil
}

// Delete removes a document's chunks from a book's collection.
func (p *Processor) Delete(ctx context.Context, bookID, fileName, ownerID string) (int64, error) {
	handle, err := p.registry.Resolve(ctx, bookID)
	if err != nil {
		return 0, err
	}

	deleted, err := p.store.DeleteChunks(ctx, handle, fileName, ownerID)
	if err != nil {
		return 0, err
	}

	p.cache.Invalidate(ctx, bookID)

	logger.Info("Document chunks deleted", "book_id", bookID, "file_name", fileName, "deleted", deleted)
	return deleted, nil
}

// Status reports whether a document (or any document, with empty fileName)
// is embedded for a book.
func (p *Processor) Status(ctx context.Context, bookID, fileName, ownerID string) (models.ExistsResult, error) {
	handle, err := p.registry.Resolve(ctx, bookID)
	if err != nil {
		return models.ExistsResult{}, err
	}
	return p.store.Exists(ctx, handle, fileName, ownerID)
}

// ConfidenceScore averages the top-ranked similarities into a 0-100 score
// with a fixed floor. Explicitly a heuristic for display, not a calibrated
// probability.
func ConfidenceScore(ranked []models.ScoredChunk) int {
	if len(ranked) == 0 {
		return 0
	}

	sum := 0.0
	for _, sc := range ranked {
		sum += sc.Similarity
	}
	score := int(math.Round(sum / float64(len(ranked)) * 100))

	if score < confidenceFloor {
		return confidenceFloor
	}
	if score > 100 {
		return 100
	}
	return score
}

// stageClock records per-stage elapsed milliseconds.
type stageClock struct {
	timing models.StageTiming
	last   time.Time
}

func newStageClock() *stageClock {
	return &stageClock{timing: models.StageTiming{}, last: time.Now()}
}

func (c *stageClock) mark(stage string) {
	now := time.Now()
	c.timing[stage] = now.Sub(c.last).Milliseconds()
	c.last = now
}

// keyedMutex is a mutex per string key. Entries are reference-counted and
// removed once the last holder unlocks, so the map stays bounded by the
// number of in-flight ingestions rather than every key ever seen.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (km *keyedMutex) lock(key string) func() {
	km.mu.Lock()
	if km.locks == nil {
		km.locks = make(map[string]*keyedLock)
	}
	l := km.locks[key]
	if l == nil {
		l = &keyedLock{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		km.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}
