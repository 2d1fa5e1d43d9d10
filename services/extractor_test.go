package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"book-knowledge-platform/internal/config"
)

func testExtractorConfig() *config.Config {
	return &config.Config{
		DownloadTimeout: 5 * time.Second,
		MaxFileSize:     1024,
	}
}

func TestValidatePDFHeader(t *testing.T) {
	if err := validatePDFHeader([]byte("%PDF-1.7 etc")); err != nil {
		t.Errorf("valid header rejected: %v", err)
	}
	for _, data := range [][]byte{nil, []byte("%P"), []byte("<html>not a pdf</html>")} {
		if err := validatePDFHeader(data); !errors.Is(err, ErrExtraction) {
			t.Errorf("validatePDFHeader(%q) = %v, want ErrExtraction", data, err)
		}
	}
}

func TestDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/doc.pdf":
			w.Write([]byte("%PDF-1.4 content"))
		case "/missing.pdf":
			w.WriteHeader(http.StatusNotFound)
		case "/huge.pdf":
			w.Write([]byte(strings.Repeat("x", 2048)))
		case "/empty.pdf":
			// 200 with no body
		}
	}))
	defer server.Close()

	e := NewDocumentExtractor(testExtractorConfig())
	ctx := context.Background()

	data, err := e.Download(ctx, server.URL+"/doc.pdf")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if string(data) != "%PDF-1.4 content" {
		t.Errorf("data = %q", data)
	}

	if _, err := e.Download(ctx, server.URL+"/missing.pdf"); !errors.Is(err, ErrExtraction) {
		t.Errorf("404: err = %v, want ErrExtraction", err)
	}
	if _, err := e.Download(ctx, server.URL+"/huge.pdf"); !errors.Is(err, ErrExtraction) {
		t.Errorf("oversized file: err = %v, want ErrExtraction", err)
	}
	if _, err := e.Download(ctx, server.URL+"/empty.pdf"); !errors.Is(err, ErrExtraction) {
		t.Errorf("empty body: err = %v, want ErrExtraction", err)
	}
}

func TestExtractTextRejectsNonPDF(t *testing.T) {
	e := NewDocumentExtractor(testExtractorConfig())

	_, _, err := e.ExtractText(context.Background(), []byte("plain text, no header"))
	if !errors.Is(err, ErrExtraction) {
		t.Errorf("err = %v, want ErrExtraction", err)
	}
}
