package ai

import (
	"context"
	"fmt"

	"book-knowledge-platform/internal/config"
)

// EmbeddingProvider turns text into fixed-length vectors.
//
// EmbedBatch is the strict ingestion-time path: texts are embedded in
// bounded sub-batches with retries, and any text that cannot be embedded
// after all retries fails the whole batch. No placeholder vectors are ever
// returned, since a stored placeholder would be permanently unretrievable.
//
// EmbedQuery is the lenient query-time path: a single attempt with a
// zero-vector fallback. An imperfect answer costs less than a blocked
// query pipeline, so the two policies differ on purpose.
type EmbeddingProvider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) []float32
	Model() string
	Dimension() int
}

// ChatProvider generates an answer from a fully built prompt.
type ChatProvider interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerationModel() string
}

// NewProviders builds the embedding and chat providers selected by
// configuration. Both capabilities currently come from the same Gemini
// client; additional providers plug in here.
func NewProviders(cfg *config.Config) (EmbeddingProvider, ChatProvider, error) {
	switch cfg.EmbeddingsProvider {
	case "google", "":
		gp, err := NewGeminiProvider(cfg)
		if err != nil {
			return nil, nil, err
		}
		return gp, gp, nil
	default:
		return nil, nil, fmt.Errorf("unknown embeddings provider: %s", cfg.EmbeddingsProvider)
	}
}
