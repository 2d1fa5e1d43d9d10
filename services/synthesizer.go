package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"book-knowledge-platform/internal/ai"
	"book-knowledge-platform/internal/logger"
	"book-knowledge-platform/models"
)

const (
	// Each context chunk is truncated to this many characters in the prompt.
	chunkPreviewLength = 500

	systemInstruction = "You are a study assistant. Answer the question concisely in 1-2 sentences using only the given context. If the context does not contain the answer, say so."

	// FallbackAnswer is returned when the generative call fails; callers
	// distinguish it via MethodErrorFallback.
	FallbackAnswer = "I could not generate an answer right now. Please try asking again in a moment."
)

// Methods reported in query results so callers can tell a real answer from
// a degraded one.
const (
	MethodRAG           = "rag"
	MethodErrorFallback = "error-fallback"
	MethodNoDocuments   = "no-documents"
)

// AnswerSynthesizer builds a bounded prompt from ranked chunks and calls
// the generative model once.
type AnswerSynthesizer struct {
	chat             ai.ChatProvider
	maxContextChunks int
}

func NewAnswerSynthesizer(chat ai.ChatProvider, maxContextChunks int) *AnswerSynthesizer {
	if maxContextChunks <= 0 {
		maxContextChunks = 6
	}
	return &AnswerSynthesizer{chat: chat, maxContextChunks: maxContextChunks}
}

// Synthesize answers the question from the ranked chunks. On generation
// failure it absorbs the error into a fixed fallback answer with
// MethodErrorFallback and zero tokens, keeping interactive chat responsive.
func (s *AnswerSynthesizer) Synthesize(ctx context.Context, question string, ranked []models.ScoredChunk) (answer string, tokensUsed int, method string) {
	prompt := s.buildPrompt(question, ranked)

	text, err := s.chat.Generate(ctx, prompt)
	if err != nil {
		logger.Error("Answer generation failed", "model", s.chat.GenerationModel(), "error", err)
		return FallbackAnswer, 0, MethodErrorFallback
	}

	// Estimated from combined prompt/answer length, not a provider-reported
	// count: ~4 characters per token.
	tokensUsed = (len(prompt) + len(text)) / 4
	return text, tokensUsed, MethodRAG
}

// buildPrompt combines the system instruction, a numbered context block and
// the question. Context entries carry their similarity percentage so the
// model can weigh them.
func (s *AnswerSynthesizer) buildPrompt(question string, ranked []models.ScoredChunk) string {
	limit := len(ranked)
	if limit > s.maxContextChunks {
		limit = s.maxContextChunks
	}

	var prompt strings.Builder
	prompt.WriteString(systemInstruction)
	prompt.WriteString("\n\nContext from the book:\n\n")

	for i := 0; i < limit; i++ {
		text := ranked[i].Chunk.TextContent
		if len(text) > chunkPreviewLength {
			cut := chunkPreviewLength
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut]
		}
		fmt.Fprintf(&prompt, "[%d] (relevance %.0f%%) %s\n\n", i+1, ranked[i].Similarity*100, text)
	}

	prompt.WriteString("Question: ")
	prompt.WriteString(question)

	return prompt.String()
}
