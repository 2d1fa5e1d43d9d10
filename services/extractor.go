package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"book-knowledge-platform/internal/config"

	"github.com/ledongthuc/pdf"
)

// Extractor turns a document source into text and a page count.
type Extractor interface {
	Download(ctx context.Context, url string) ([]byte, error)
	ExtractText(ctx context.Context, data []byte) (string, int, error)
}

// DocumentExtractor downloads source documents and extracts their text.
type DocumentExtractor struct {
	cfg        *config.Config
	httpClient *http.Client
}

func NewDocumentExtractor(cfg *config.Config) *DocumentExtractor {
	return &DocumentExtractor{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.DownloadTimeout,
		},
	}
}

// Download fetches document bytes from a URL with the configured timeout.
func (e *DocumentExtractor) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid source url: %v", ErrExtraction, err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download failed: %v", ErrExtraction, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download returned status %d", ErrExtraction, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading download body: %v", ErrExtraction, err)
	}
	if int64(len(data)) > e.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: file exceeds maximum size %d", ErrExtraction, e.cfg.MaxFileSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty download body", ErrExtraction)
	}

	return data, nil
}

// ExtractText parses PDF bytes and returns the extracted text and page
// count. A document that parses but yields no usable text is reported as
// ErrEmptyContent so callers can tell "processed but empty" from "failed
// to process".
func (e *DocumentExtractor) ExtractText(ctx context.Context, data []byte) (string, int, error) {
	if err := validatePDFHeader(data); err != nil {
		return "", 0, err
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("%w: pdf parse failed: %v", ErrExtraction, err)
	}

	pages := reader.NumPage()

	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", 0, fmt.Errorf("%w: pdf text extraction failed: %v", ErrExtraction, err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return "", 0, fmt.Errorf("%w: reading pdf text: %v", ErrExtraction, err)
	}

	text := buf.String()
	if strings.TrimSpace(text) == "" {
		return "", pages, fmt.Errorf("%w: document has %d pages but no extractable text", ErrEmptyContent, pages)
	}

	return text, pages, nil
}

// validatePDFHeader checks the PDF magic bytes (0x25=%, 0x50=P, 0x44=D, 0x46=F).
func validatePDFHeader(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("%w: file is too small or empty", ErrExtraction)
	}
	if !bytes.HasPrefix(data, []byte{0x25, 0x50, 0x44, 0x46}) {
		return fmt.Errorf("%w: not a valid PDF document (missing PDF header)", ErrExtraction)
	}
	return nil
}
