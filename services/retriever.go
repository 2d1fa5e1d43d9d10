package services

import (
	"context"
	"math"
	"sort"

	"book-knowledge-platform/internal/ai"
	"book-knowledge-platform/models"
)

// Retriever fetches a bounded candidate set for a question and ranks it by
// cosine similarity against the question embedding.
type Retriever struct {
	store         ChunkStore
	embedder      ai.EmbeddingProvider
	maxCandidates int
}

func NewRetriever(store ChunkStore, embedder ai.EmbeddingProvider, maxCandidates int) *Retriever {
	if maxCandidates <= 0 {
		maxCandidates = 50
	}
	return &Retriever{store: store, embedder: embedder, maxCandidates: maxCandidates}
}

// Retrieve returns at most topK chunks ranked by descending similarity. An
// empty candidate set yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, handle CollectionHandle, question string, filter RetrievalFilter, topK int) ([]models.ScoredChunk, error) {
	candidates, err := r.store.FetchCandidates(ctx, handle, filter, r.maxCandidates)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	questionVec := r.embedder.EmbedQuery(ctx, question)

	ranked := RankBySimilarity(questionVec, candidates)
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// RankBySimilarity scores every candidate against the question vector and
// sorts descending. The sort is stable so ties keep original fetch order.
func RankBySimilarity(questionVec []float32, candidates []models.KnowledgeChunk) []models.ScoredChunk {
	scored := make([]models.ScoredChunk, len(candidates))
	for i, chunk := range candidates {
		scored[i] = models.ScoredChunk{
			Chunk:      chunk,
			Similarity: CosineSimilarity(questionVec, chunk.Vector),
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	return scored
}

// CosineSimilarity is dot(a,b)/(‖a‖·‖b‖), defined as 0 when either norm is
// zero. Vectors of different lengths are compared over the shorter prefix.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
