package routes

import (
	"errors"
	"io"
	"net/http"

	"book-knowledge-platform/internal/queue"
	"book-knowledge-platform/services"
	"book-knowledge-platform/utils"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

// IngestRequestBody is the JSON form of an ingestion request: ingest by
// URL, optionally queued for background processing.
type IngestRequestBody struct {
	FileName  string `json:"file_name" binding:"required"`
	SourceURL string `json:"source_url" binding:"required"`
	OwnerID   string `json:"owner_id"`
	IsPublic  bool   `json:"is_public"`
	Force     bool   `json:"force"`
	Async     bool   `json:"async"`
}

// AskRequestBody is one question against a book.
type AskRequestBody struct {
	Question    string `json:"question" binding:"required"`
	FileName    string `json:"file_name"`
	RequesterID string `json:"requester_id"`
}

// SetupKnowledgeRoutes wires the knowledge pipeline's thin HTTP surface.
// Authentication and ownership checks live with the surrounding platform;
// these handlers only translate requests into pipeline calls.
func SetupKnowledgeRoutes(router *gin.Engine, pipeline *services.Processor, queueClient *asynq.Client) {
	books := router.Group("/books/:book_id")

	// Ingest a document: multipart upload or JSON body with a source URL.
	books.POST("/documents", func(c *gin.Context) {
		bookID := c.Param("book_id")

		if file, header, err := c.Request.FormFile("file"); err == nil {
			defer file.Close()

			data, err := io.ReadAll(file)
			if err != nil {
				utils.RespondWithBadRequest(c, "Failed to read uploaded file", gin.H{"error": err.Error()})
				return
			}

			result, err := pipeline.Ingest(c.Request.Context(), services.IngestRequest{
				BookID:   bookID,
				FileName: header.Filename,
				OwnerID:  c.PostForm("owner_id"),
				Data:     data,
				IsPublic: c.PostForm("is_public") == "true",
				Force:    c.PostForm("force") == "true",
			})
			if err != nil {
				respondPipelineError(c, err)
				return
			}

			c.JSON(http.StatusOK, result)
			return
		}

		var body IngestRequestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		if body.Async && queueClient != nil {
			task, err := queue.NewIngestTask(queue.IngestPayload{
				BookID:    bookID,
				FileName:  body.FileName,
				OwnerID:   body.OwnerID,
				SourceURL: body.SourceURL,
				IsPublic:  body.IsPublic,
				Force:     body.Force,
			})
			if err != nil {
				utils.RespondWithInternalError(c, "Failed to create ingestion task", nil)
				return
			}
			info, err := queueClient.Enqueue(task)
			if err != nil {
				utils.RespondWithInternalError(c, "Failed to enqueue ingestion", gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID, "queue": info.Queue})
			return
		}

		result, err := pipeline.Ingest(c.Request.Context(), services.IngestRequest{
			BookID:    bookID,
			FileName:  body.FileName,
			OwnerID:   body.OwnerID,
			SourceURL: body.SourceURL,
			IsPublic:  body.IsPublic,
			Force:     body.Force,
		})
		if err != nil {
			respondPipelineError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	})

	// Ask a question against the book's knowledge base.
	books.POST("/ask", func(c *gin.Context) {
		var body AskRequestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		result, err := pipeline.Ask(c.Request.Context(), services.AskRequest{
			BookID:      c.Param("book_id"),
			Question:    body.Question,
			FileName:    body.FileName,
			RequesterID: body.RequesterID,
		})
		if err != nil {
			respondPipelineError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	})

	// Embedding status for the whole book: any embedded document counts.
	books.GET("/status", func(c *gin.Context) {
		result, err := pipeline.Status(c.Request.Context(), c.Param("book_id"), "", c.Query("owner_id"))
		if err != nil {
			respondPipelineError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	// Embedding status for one document.
	books.GET("/documents/:file_name/status", func(c *gin.Context) {
		result, err := pipeline.Status(c.Request.Context(), c.Param("book_id"), c.Param("file_name"), c.Query("owner_id"))
		if err != nil {
			respondPipelineError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	// Delete a document's chunks.
	books.DELETE("/documents/:file_name", func(c *gin.Context) {
		deleted, err := pipeline.Delete(c.Request.Context(), c.Param("book_id"), c.Param("file_name"), c.Query("owner_id"))
		if err != nil {
			respondPipelineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	})
}

func respondPipelineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrEmptyContent):
		utils.RespondWithUnprocessable(c, "Document has no extractable text", gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrExtraction):
		utils.RespondWithBadRequest(c, "Document could not be downloaded or parsed", gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrEmbedding):
		utils.RespondWithInternalError(c, "Embedding generation failed", gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrStore):
		utils.RespondWithInternalError(c, "Knowledge store operation failed", gin.H{"error": err.Error()})
	default:
		utils.RespondWithBadRequest(c, "Request failed", gin.H{"error": err.Error()})
	}
}
