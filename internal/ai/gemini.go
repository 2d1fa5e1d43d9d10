package ai

import (
	"context"
	"fmt"
	"time"

	"book-knowledge-platform/internal/config"
	"book-knowledge-platform/internal/logger"

	genai "github.com/google/generative-ai-go/genai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

const (
	// Delay inserted between embedding sub-batches to stay inside the
	// provider's per-minute quota.
	interBatchDelay = 200 * time.Millisecond

	// Requests per second allowed through to the embeddings endpoint.
	embedRequestsPerSecond = 8
)

// GeminiProvider implements EmbeddingProvider and ChatProvider on top of
// the Google Generative AI API.
type GeminiProvider struct {
	cfg         *config.Config
	client      *genai.Client
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter

	// embedFn performs one embedding call. Defaults to embedOnce; tests
	// substitute it to exercise the batching and retry loops.
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func NewGeminiProvider(cfg *config.Config) (*GeminiProvider, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	gp := &GeminiProvider{
		cfg:         cfg,
		client:      client,
		breaker:     breaker,
		rateLimiter: rate.NewLimiter(rate.Limit(embedRequestsPerSecond), embedRequestsPerSecond),
	}
	gp.embedFn = gp.embedOnce
	return gp, nil
}

func (gp *GeminiProvider) Model() string { return gp.cfg.GoogleEmbeddingsModel }

func (gp *GeminiProvider) Dimension() int { return ModelDimension(gp.cfg.GoogleEmbeddingsModel) }

// EmbedBatch embeds texts in sub-batches of the configured size, retrying
// each call with increasing backoff. If any text still fails after all
// retries the whole batch fails; partial results are never returned.
func (gp *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	tracer := otel.Tracer("gemini-provider")
	ctx, span := tracer.Start(ctx, "gemini.embed_batch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("embed.texts", len(texts)),
		attribute.String("embed.model", gp.Model()),
	)

	vectors := make([][]float32, 0, len(texts))
	batchSize := gp.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		for _, text := range texts[start:end] {
			vec, err := gp.embedWithRetry(ctx, text)
			if err != nil {
				span.SetAttributes(attribute.Bool("embed.failed", true))
				return nil, fmt.Errorf("embedding failed at text %d: %w", len(vectors), err)
			}
			vectors = append(vectors, vec)
		}

		if end < len(texts) {
			select {
			case <-time.After(interBatchDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return vectors, nil
}

// EmbedQuery embeds a single question with one attempt and no retries. On
// failure it returns a zero vector so the query pipeline keeps going with a
// degraded result instead of blocking; nothing persistent is written from
// this path.
func (gp *GeminiProvider) EmbedQuery(ctx context.Context, text string) []float32 {
	vec, err := gp.embedFn(ctx, text)
	if err != nil {
		logger.Warn("Query embedding failed, using zero-vector fallback", "error", err)
		return make([]float32, gp.Dimension())
	}
	return vec
}

func (gp *GeminiProvider) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	maxRetries := gp.cfg.EmbedMaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffDelay(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		vec, err := gp.embedFn(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		logger.Warn("Embedding attempt failed", "attempt", attempt+1, "max", maxRetries, "error", err)
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

func (gp *GeminiProvider) embedOnce(ctx context.Context, text string) ([]float32, error) {
	if err := gp.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	model := gp.client.EmbeddingModel(gp.cfg.GoogleEmbeddingsModel)
	resp, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	return resp.Embedding.Values, nil
}

// backoffDelay returns the wait before retry attempt n (1-based): 1s, 2s, 4s...
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<(attempt-1)) * time.Second
}

// GenerationModel reports the configured generative model name.
func (gp *GeminiProvider) GenerationModel() string { return gp.cfg.GenerationModel }

// Generate runs one generation call behind the circuit breaker and returns
// the model's text verbatim.
func (gp *GeminiProvider) Generate(ctx context.Context, prompt string) (string, error) {
	tracer := otel.Tracer("gemini-provider")
	ctx, span := tracer.Start(ctx, "gemini.generate_content")
	defer span.End()
	span.SetAttributes(
		attribute.String("gemini.model", gp.cfg.GenerationModel),
		attribute.Int("gemini.prompt_chars", len(prompt)),
	)

	result, err := gp.breaker.Execute(func() (interface{}, error) {
		model := gp.client.GenerativeModel(gp.cfg.GenerationModel)
		model.SetTemperature(0.3)
		model.SetMaxOutputTokens(1024)

		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return "", err
	}

	resp := result.(*genai.GenerateContentResponse)
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates in response")
	}

	text := ""
	for _, part := range resp.Candidates[0].Content.Parts {
		if textPart, ok := part.(genai.Text); ok {
			text += string(textPart)
		}
	}
	if text == "" {
		return "", fmt.Errorf("empty generation response")
	}

	span.SetAttributes(attribute.Int("gemini.answer_chars", len(text)))
	return text, nil
}

// Close releases the underlying API client.
func (gp *GeminiProvider) Close() error {
	if gp.client != nil {
		return gp.client.Close()
	}
	return nil
}
