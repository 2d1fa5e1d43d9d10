package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"book-knowledge-platform/internal/config"
)

func testEmbedProvider(embedFn func(ctx context.Context, text string) ([]float32, error)) *GeminiProvider {
	return &GeminiProvider{
		cfg: &config.Config{
			GoogleEmbeddingsModel: "text-embedding-004",
			EmbedBatchSize:        3,
			EmbedMaxRetries:       1,
		},
		embedFn: embedFn,
	}
}

func TestEmbedBatchPartitionsIntoSubBatches(t *testing.T) {
	var seen []string
	gp := testEmbedProvider(func(_ context.Context, text string) ([]float32, error) {
		seen = append(seen, text)
		return []float32{float32(len(seen))}, nil
	})

	texts := make([]string, 7)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk-%d", i)
	}

	start := time.Now()
	vectors, err := gp.EmbedBatch(context.Background(), texts)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(texts))
	}
	for i, text := range texts {
		if seen[i] != text {
			t.Errorf("call %d embedded %q, want %q", i, seen[i], text)
		}
	}
	// 7 texts at batch size 3 gives sub-batches of 3/3/1, so exactly two
	// inter-batch delays.
	if elapsed < 2*interBatchDelay {
		t.Errorf("elapsed %v, want at least %v for two inter-batch delays", elapsed, 2*interBatchDelay)
	}
}

func TestEmbedBatchFailsWholeBatchAfterRetries(t *testing.T) {
	gp := testEmbedProvider(nil)
	gp.cfg.EmbedMaxRetries = 2

	attempts := 0
	gp.embedFn = func(_ context.Context, _ string) ([]float32, error) {
		attempts++
		return nil, errors.New("quota exceeded")
	}

	vectors, err := gp.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if vectors != nil {
		t.Error("no partial results on batch failure")
	}
	if attempts != 2 {
		t.Errorf("first text got %d attempts, want 2", attempts)
	}
}

func TestEmbedBatchRetrySucceedsSecondAttempt(t *testing.T) {
	gp := testEmbedProvider(nil)
	gp.cfg.EmbedMaxRetries = 2

	attempts := 0
	gp.embedFn = func(_ context.Context, _ string) ([]float32, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("transient")
		}
		return []float32{1}, nil
	}

	vectors, err := gp.EmbedBatch(context.Background(), []string{"only"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vectors) != 1 || attempts != 2 {
		t.Errorf("vectors = %d attempts = %d, want 1 vector after 2 attempts", len(vectors), attempts)
	}
}

func TestEmbedQueryZeroVectorFallback(t *testing.T) {
	calls := 0
	gp := testEmbedProvider(func(_ context.Context, _ string) ([]float32, error) {
		calls++
		return nil, errors.New("provider down")
	})

	vec := gp.EmbedQuery(context.Background(), "question")

	if calls != 1 {
		t.Errorf("query embedding made %d attempts, want exactly 1", calls)
	}
	if len(vec) != gp.Dimension() {
		t.Fatalf("fallback vector length = %d, want %d", len(vec), gp.Dimension())
	}
	for i, v := range vec {
		if v != 0 {
			t.Fatalf("fallback vector not zero at %d: %v", i, v)
		}
	}
}
