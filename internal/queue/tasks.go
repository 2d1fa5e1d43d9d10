package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"book-knowledge-platform/internal/logger"
	"book-knowledge-platform/services"

	"github.com/hibiken/asynq"
)

const TaskIngestDocument = "kb:ingest"

// IngestPayload describes a queued ingestion. Documents are re-downloaded
// by the worker from SourceURL rather than carrying bytes through Redis.
type IngestPayload struct {
	BookID    string `json:"book_id"`
	FileName  string `json:"file_name"`
	OwnerID   string `json:"owner_id"`
	SourceURL string `json:"source_url"`
	IsPublic  bool   `json:"is_public"`
	Force     bool   `json:"force"`
}

// NewIngestTask creates the asynq task for one document ingestion.
func NewIngestTask(payload IngestPayload) (*asynq.Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestDocument,
		raw,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

// TaskProcessor handles queued knowledge pipeline work.
type TaskProcessor struct {
	pipeline *services.Processor
}

func NewTaskProcessor(pipeline *services.Processor) *TaskProcessor {
	return &TaskProcessor{pipeline: pipeline}
}

func (p *TaskProcessor) HandleIngest(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	logger.Info("Processing queued ingestion",
		"book_id", payload.BookID, "file_name", payload.FileName)

	result, err := p.pipeline.Ingest(ctx, services.IngestRequest{
		BookID:    payload.BookID,
		FileName:  payload.FileName,
		OwnerID:   payload.OwnerID,
		SourceURL: payload.SourceURL,
		IsPublic:  payload.IsPublic,
		Force:     payload.Force,
	})
	if err != nil {
		// Empty documents will stay empty; retrying wastes API quota.
		if errors.Is(err, services.ErrEmptyContent) {
			logger.Warn("Queued document has no extractable text, not retrying",
				"book_id", payload.BookID, "file_name", payload.FileName)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	logger.Info("Queued ingestion complete",
		"book_id", payload.BookID, "file_name", payload.FileName,
		"chunks", result.ChunksInserted, "already_exists", result.AlreadyExists)
	return nil
}
