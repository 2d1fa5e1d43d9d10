package services

import "errors"

// Pipeline error taxonomy. Failures that prevent producing any meaningful
// chunk or vector stop the pipeline before partial writes; everything that
// only degrades answer quality is absorbed into result metadata instead.
var (
	// ErrExtraction covers document download and parse failures.
	ErrExtraction = errors.New("document extraction failed")

	// ErrEmptyContent means the document parsed but yielded no usable text,
	// surfaced distinctly from a parse failure.
	ErrEmptyContent = errors.New("no extractable text in document")

	// ErrEmbedding means embedding retries were exhausted during ingestion.
	ErrEmbedding = errors.New("embedding generation failed")

	// ErrStore covers vector store create/insert/delete failures.
	ErrStore = errors.New("knowledge store operation failed")
)
