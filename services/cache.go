package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"book-knowledge-platform/internal/logger"
	"book-knowledge-platform/models"

	"github.com/redis/go-redis/v9"
)

// AnswerCache stores recent query results in Redis so repeated questions
// against an unchanged book skip retrieval and generation. Cache failures
// are logged and treated as misses, never propagated.
type AnswerCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAnswerCache(client *redis.Client, ttl time.Duration) *AnswerCache {
	return &AnswerCache{client: client, ttl: ttl}
}

func answerCacheKey(bookID, fileName, question string) string {
	sum := sha256.Sum256([]byte(fileName + "\x00" + question))
	return "answers:" + bookID + ":" + hex.EncodeToString(sum[:16])
}

func (c *AnswerCache) Get(ctx context.Context, bookID, fileName, question string) (*models.AskResult, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, answerCacheKey(bookID, fileName, question)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Warn("Answer cache read failed", "book_id", bookID, "error", err)
		return nil, false
	}

	var result models.AskResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false
	}
	return &result, true
}

func (c *AnswerCache) Set(ctx context.Context, bookID, fileName, question string, result *models.AskResult) {
	if c == nil || c.client == nil {
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, answerCacheKey(bookID, fileName, question), raw, c.ttl).Err(); err != nil {
		logger.Warn("Answer cache write failed", "book_id", bookID, "error", err)
	}
}

// Invalidate drops all cached answers for a book. Called after ingestion
// and deletion so stale answers do not outlive the content they cite.
func (c *AnswerCache) Invalidate(ctx context.Context, bookID string) {
	if c == nil || c.client == nil {
		return
	}

	iter := c.client.Scan(ctx, 0, "answers:"+bookID+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Answer cache invalidation failed", "book_id", bookID, "error", err)
			return
		}
	}
}
