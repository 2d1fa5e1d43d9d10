package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"book-knowledge-platform/internal/config"
	"book-knowledge-platform/models"
)

const fakeDimension = 8

func testPipelineConfig() *config.Config {
	return &config.Config{
		GoogleEmbeddingsModel: "text-embedding-004",
		GenerationModel:       "gemini-2.0-flash",
		ChunkSize:             200,
		ChunkOverlap:          30,
		MaxContextChunks:      4,
		MaxCandidates:         50,
		EmbedBatchSize:        5,
		EmbedMaxRetries:       3,
		DownloadTimeout:       time.Second,
		MaxFileSize:           1 << 20,
	}
}

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, bookID string) (CollectionHandle, error) {
	name, err := SanitizeCollectionName(bookID)
	if err != nil {
		return CollectionHandle{}, err
	}
	return CollectionHandle{BookID: bookID, Name: name, Dimension: fakeDimension}, nil
}

type fakeExtractor struct {
	text  string
	pages int
	err   error

	downloaded []byte
}

func (f *fakeExtractor) Download(_ context.Context, _ string) ([]byte, error) {
	return f.downloaded, nil
}

func (f *fakeExtractor) ExtractText(_ context.Context, _ []byte) (string, int, error) {
	if f.err != nil {
		return "", 0, f.err
	}
	return f.text, f.pages, nil
}

type fakeEmbedder struct {
	batchErr error
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = f.vectorFor(text)
	}
	return vectors, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) []float32 {
	return f.vectorFor(text)
}

func (f *fakeEmbedder) Model() string  { return "fake-embedder" }
func (f *fakeEmbedder) Dimension() int { return fakeDimension }

// vectorFor is deterministic and gives every pair of texts a positive
// cosine similarity via the shared first component.
func (f *fakeEmbedder) vectorFor(text string) []float32 {
	v := make([]float32, fakeDimension)
	v[0] = 1
	v[1] = float32(len(text)%7) / 10
	return v
}

// fakeStore is an in-memory ChunkStore keyed by collection name.
type fakeStore struct {
	chunks map[string][]models.KnowledgeChunk
}

func newFakeStore() *fakeStore {
	return &fakeStore{chunks: map[string][]models.KnowledgeChunk{}}
}

func (s *fakeStore) Exists(_ context.Context, handle CollectionHandle, fileName, _ string) (models.ExistsResult, error) {
	seen := map[string]bool{}
	count := 0
	for _, c := range s.chunks[handle.Name] {
		if fileName != "" && c.FileName != fileName {
			continue
		}
		count++
		seen[c.FileName] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return models.ExistsResult{Exists: count > 0, Count: count, FileNames: names}, nil
}

func (s *fakeStore) InsertChunks(_ context.Context, handle CollectionHandle, chunks []models.KnowledgeChunk) (int, error) {
	s.chunks[handle.Name] = append(s.chunks[handle.Name], chunks...)
	return len(chunks), nil
}

func (s *fakeStore) DeleteChunks(_ context.Context, handle CollectionHandle, fileName, _ string) (int64, error) {
	kept := s.chunks[handle.Name][:0]
	var deleted int64
	for _, c := range s.chunks[handle.Name] {
		if c.FileName == fileName {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	s.chunks[handle.Name] = kept
	return deleted, nil
}

func (s *fakeStore) FetchCandidates(_ context.Context, handle CollectionHandle, filter RetrievalFilter, limit int) ([]models.KnowledgeChunk, error) {
	var out []models.KnowledgeChunk
	for _, c := range s.chunks[handle.Name] {
		if filter.FileName != "" && c.FileName != filter.FileName {
			continue
		}
		readable := c.AccessLevel == models.AccessPublic || c.IsPublic ||
			(filter.RequesterID != "" && c.OwnerID == filter.RequesterID)
		if !readable {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func newTestProcessor(store *fakeStore, extractor *fakeExtractor, chat *fakeChat) *Processor {
	cfg := testPipelineConfig()
	p := NewProcessor(cfg, fakeResolver{}, store, &fakeEmbedder{}, chat, nil, nil)
	p.extractor = extractor
	return p
}

func sampleIngestRequest() IngestRequest {
	return IngestRequest{
		BookID:   "book-1",
		FileName: "chapter1.pdf",
		OwnerID:  "owner-1",
		Data:     []byte("%PDF-1.4 raw bytes"),
		IsPublic: true,
	}
}

func longText() string {
	return strings.Repeat("The mitochondria is the powerhouse of the cell. ", 60)
}

func TestIngestStoresChunks(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{text: longText(), pages: 3}
	p := newTestProcessor(store, extractor, &fakeChat{answer: "ok"})

	result, err := p.Ingest(context.Background(), sampleIngestRequest())
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if result.AlreadyExists {
		t.Error("first ingestion should not report AlreadyExists")
	}
	if result.ChunksInserted == 0 {
		t.Fatal("expected chunks to be inserted")
	}
	if result.CollectionName != "book_book_1" {
		t.Errorf("collection = %q", result.CollectionName)
	}
	if result.Pages != 3 {
		t.Errorf("pages = %d, want 3", result.Pages)
	}

	stored := store.chunks["book_book_1"]
	if len(stored) != result.ChunksInserted {
		t.Fatalf("store holds %d chunks, result says %d", len(stored), result.ChunksInserted)
	}
	for i, c := range stored {
		if len(c.Vector) != fakeDimension {
			t.Errorf("chunk %d vector dimension = %d, want %d", i, len(c.Vector), fakeDimension)
		}
		if c.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if c.AccessLevel != models.AccessPublic {
			t.Errorf("chunk %d access = %q", i, c.AccessLevel)
		}
	}
}

func TestIngestRepeatShortCircuits(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{text: longText(), pages: 1}
	p := newTestProcessor(store, extractor, &fakeChat{})

	first, err := p.Ingest(context.Background(), sampleIngestRequest())
	if err != nil {
		t.Fatalf("first ingestion failed: %v", err)
	}

	second, err := p.Ingest(context.Background(), sampleIngestRequest())
	if err != nil {
		t.Fatalf("repeat ingestion failed: %v", err)
	}

	if !second.AlreadyExists {
		t.Error("repeat ingestion should report AlreadyExists")
	}
	if second.ChunksInserted != first.ChunksInserted {
		t.Errorf("repeat reported %d chunks, want existing count %d", second.ChunksInserted, first.ChunksInserted)
	}
	if got := len(store.chunks["book_book_1"]); got != first.ChunksInserted {
		t.Errorf("store grew to %d chunks on repeat ingestion", got)
	}
}

func TestIngestForceReplacesChunks(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{text: longText(), pages: 1}
	p := newTestProcessor(store, extractor, &fakeChat{})

	if _, err := p.Ingest(context.Background(), sampleIngestRequest()); err != nil {
		t.Fatalf("first ingestion failed: %v", err)
	}
	before := len(store.chunks["book_book_1"])

	req := sampleIngestRequest()
	req.Force = true
	result, err := p.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("force ingestion failed: %v", err)
	}

	if result.AlreadyExists {
		t.Error("force ingestion should re-process, not short-circuit")
	}
	if got := len(store.chunks["book_book_1"]); got != before {
		t.Errorf("store holds %d chunks after force re-ingestion, want %d", got, before)
	}
}

func TestIngestRequiresFileNameAndSource(t *testing.T) {
	p := newTestProcessor(newFakeStore(), &fakeExtractor{text: longText()}, &fakeChat{})

	req := sampleIngestRequest()
	req.FileName = ""
	if _, err := p.Ingest(context.Background(), req); !errors.Is(err, ErrExtraction) {
		t.Errorf("missing fileName: err = %v, want ErrExtraction", err)
	}

	req = sampleIngestRequest()
	req.Data = nil
	req.SourceURL = ""
	if _, err := p.Ingest(context.Background(), req); !errors.Is(err, ErrExtraction) {
		t.Errorf("missing source: err = %v, want ErrExtraction", err)
	}
}

func TestIngestEmptyContent(t *testing.T) {
	extractor := &fakeExtractor{err: ErrEmptyContent}
	p := newTestProcessor(newFakeStore(), extractor, &fakeChat{})

	_, err := p.Ingest(context.Background(), sampleIngestRequest())
	if !errors.Is(err, ErrEmptyContent) {
		t.Errorf("err = %v, want ErrEmptyContent", err)
	}
}

func TestIngestEmbeddingFailureLeavesNoPartialState(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{text: longText()}
	cfg := testPipelineConfig()
	p := NewProcessor(cfg, fakeResolver{}, store, &fakeEmbedder{batchErr: errors.New("provider down")}, &fakeChat{}, nil, nil)
	p.extractor = extractor

	_, err := p.Ingest(context.Background(), sampleIngestRequest())
	if !errors.Is(err, ErrEmbedding) {
		t.Errorf("err = %v, want ErrEmbedding", err)
	}
	if len(store.chunks["book_book_1"]) != 0 {
		t.Error("failed ingestion must not leave chunks behind")
	}
}

func TestAskWithoutDocuments(t *testing.T) {
	p := newTestProcessor(newFakeStore(), &fakeExtractor{}, &fakeChat{answer: "should not be called"})

	result, err := p.Ask(context.Background(), AskRequest{BookID: "book-1", Question: "What is chapter 1 about?"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	if result.Method != MethodNoDocuments {
		t.Errorf("method = %q, want %q", result.Method, MethodNoDocuments)
	}
	if result.Answer != NoDocumentsAnswer {
		t.Errorf("answer = %q", result.Answer)
	}
	if result.Confidence != 0 || result.Sources != 0 {
		t.Errorf("confidence = %d sources = %d, want zeros", result.Confidence, result.Sources)
	}
}

func TestAskAnswersFromIngestedDocument(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{text: longText(), pages: 1}
	chat := &fakeChat{answer: "It covers cell biology."}
	p := newTestProcessor(store, extractor, chat)

	if _, err := p.Ingest(context.Background(), sampleIngestRequest()); err != nil {
		t.Fatalf("ingestion failed: %v", err)
	}

	result, err := p.Ask(context.Background(), AskRequest{BookID: "book-1", Question: "What does the chapter cover?"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	if result.Method != MethodRAG {
		t.Errorf("method = %q, want %q", result.Method, MethodRAG)
	}
	if result.Answer != chat.answer {
		t.Errorf("answer = %q", result.Answer)
	}
	if result.Sources == 0 {
		t.Error("expected at least one source")
	}
	if result.Confidence < confidenceFloor || result.Confidence > 100 {
		t.Errorf("confidence = %d, want within [%d, 100]", result.Confidence, confidenceFloor)
	}
	if !strings.Contains(chat.prompt, "What does the chapter cover?") {
		t.Error("question missing from generation prompt")
	}
}

func TestAskGenerationFailureDegrades(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{text: longText(), pages: 1}
	p := newTestProcessor(store, extractor, &fakeChat{err: errors.New("model unavailable")})

	if _, err := p.Ingest(context.Background(), sampleIngestRequest()); err != nil {
		t.Fatalf("ingestion failed: %v", err)
	}

	result, err := p.Ask(context.Background(), AskRequest{BookID: "book-1", Question: "anything"})
	if err != nil {
		t.Fatalf("generation failure must not surface as an error: %v", err)
	}
	if result.Method != MethodErrorFallback {
		t.Errorf("method = %q, want %q", result.Method, MethodErrorFallback)
	}
	if result.Answer != FallbackAnswer {
		t.Errorf("answer = %q", result.Answer)
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	p := newTestProcessor(newFakeStore(), &fakeExtractor{}, &fakeChat{})

	if _, err := p.Ask(context.Background(), AskRequest{BookID: "book-1", Question: "   "}); err == nil {
		t.Error("expected error for blank question")
	}
}

func TestAskPrivateChunksHiddenFromStrangers(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{text: longText(), pages: 1}
	p := newTestProcessor(store, extractor, &fakeChat{answer: "private details"})

	req := sampleIngestRequest()
	req.IsPublic = false
	if _, err := p.Ingest(context.Background(), req); err != nil {
		t.Fatalf("ingestion failed: %v", err)
	}

	stranger, err := p.Ask(context.Background(), AskRequest{BookID: "book-1", Question: "what is inside?"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if stranger.Method != MethodNoDocuments {
		t.Errorf("stranger got method %q, want %q", stranger.Method, MethodNoDocuments)
	}

	owner, err := p.Ask(context.Background(), AskRequest{BookID: "book-1", Question: "what is inside?", RequesterID: "owner-1"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if owner.Method != MethodRAG {
		t.Errorf("owner got method %q, want %q", owner.Method, MethodRAG)
	}
}

func TestDeleteThenStatus(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{text: longText(), pages: 1}
	p := newTestProcessor(store, extractor, &fakeChat{})

	if _, err := p.Ingest(context.Background(), sampleIngestRequest()); err != nil {
		t.Fatalf("ingestion failed: %v", err)
	}

	deleted, err := p.Delete(context.Background(), "book-1", "chapter1.pdf", "owner-1")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if deleted == 0 {
		t.Fatal("expected deleted chunk count > 0")
	}

	status, err := p.Status(context.Background(), "book-1", "chapter1.pdf", "owner-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Exists || status.Count != 0 {
		t.Errorf("status after delete = %+v, want empty", status)
	}
}

func TestConfidenceScore(t *testing.T) {
	tests := []struct {
		name         string
		similarities []float64
		want         int
	}{
		{"no sources", nil, 0},
		{"perfect match", []float64{1, 1}, 100},
		{"high average", []float64{0.9, 0.8}, 85},
		{"floored low average", []float64{0.2, 0.1}, confidenceFloor},
		{"exactly at floor", []float64{0.75}, confidenceFloor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranked := make([]models.ScoredChunk, len(tt.similarities))
			for i, sim := range tt.similarities {
				ranked[i] = models.ScoredChunk{Similarity: sim}
			}
			if got := ConfidenceScore(ranked); got != tt.want {
				t.Errorf("ConfidenceScore = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIngestForceEmbedFailureKeepsExistingChunks(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{text: longText(), pages: 1}
	p := newTestProcessor(store, extractor, &fakeChat{})

	if _, err := p.Ingest(context.Background(), sampleIngestRequest()); err != nil {
		t.Fatalf("first ingestion failed: %v", err)
	}
	before := len(store.chunks["book_book_1"])
	if before == 0 {
		t.Fatal("expected chunks from first ingestion")
	}

	cfg := testPipelineConfig()
	broken := NewProcessor(cfg, fakeResolver{}, store, &fakeEmbedder{batchErr: errors.New("provider down")}, &fakeChat{}, nil, nil)
	broken.extractor = extractor

	req := sampleIngestRequest()
	req.Force = true
	_, err := broken.Ingest(context.Background(), req)
	if !errors.Is(err, ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding", err)
	}

	if got := len(store.chunks["book_book_1"]); got != before {
		t.Errorf("failed force re-ingestion left %d chunks (was %d): prior good state destroyed", got, before)
	}
}

func TestStatusWholeBook(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{text: longText(), pages: 1}
	p := newTestProcessor(store, extractor, &fakeChat{})

	if _, err := p.Ingest(context.Background(), sampleIngestRequest()); err != nil {
		t.Fatalf("ingestion failed: %v", err)
	}

	status, err := p.Status(context.Background(), "book-1", "", "owner-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.Exists || status.Count == 0 {
		t.Errorf("book-level status = %+v, want all documents counted", status)
	}
	if len(status.FileNames) != 1 || status.FileNames[0] != "chapter1.pdf" {
		t.Errorf("file names = %v, want [chapter1.pdf]", status.FileNames)
	}
}

func TestKeyedMutexEvictsOnUnlock(t *testing.T) {
	var km keyedMutex

	unlock := km.lock("book-1\x00a.pdf")
	if len(km.locks) != 1 {
		t.Fatalf("locks = %d while held, want 1", len(km.locks))
	}
	unlock()
	if len(km.locks) != 0 {
		t.Errorf("locks = %d after unlock, want 0", len(km.locks))
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var km keyedMutex

	unlock := km.lock("key")

	acquired := make(chan struct{})
	go func() {
		u := km.lock("key")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first still held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired after unlock")
	}

	// Different keys never block each other.
	u1 := km.lock("a")
	u2 := km.lock("b")
	u2()
	u1()
	if len(km.locks) != 0 {
		t.Errorf("locks = %d after all unlocks, want 0", len(km.locks))
	}
}
