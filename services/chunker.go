package services

import (
	"regexp"
	"strings"
)

const (
	// Text shorter than this after normalization gets the sentinel chunk
	// instead of being windowed.
	minMeaningfulLength = 100

	// Windows shorter than this add no retrieval value and are discarded.
	minWindowLength = 50

	// SentinelChunkText is stored when a document has almost no extractable
	// text, so the book still answers "this document is effectively empty"
	// instead of having zero chunks.
	SentinelChunkText = "This document contains minimal extractable text. It may be a scanned image or an empty file."
)

var (
	controlChars = regexp.MustCompile("[\r\f\t\x00-\x08\x0b\x0e-\x1f\x7f]")
	multiSpaces  = regexp.MustCompile(" {2,}")
	multiBreaks  = regexp.MustCompile("\n{3,}")
)

// TextChunker normalizes extracted document text and splits it into
// overlapping, bounded-size chunks measured in characters.
type TextChunker struct {
	chunkSize int
	overlap   int
}

func NewTextChunker(chunkSize, overlap int) *TextChunker {
	if chunkSize <= 0 {
		chunkSize = 1200
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 6
	}
	return &TextChunker{chunkSize: chunkSize, overlap: overlap}
}

// Normalize collapses control and non-printable characters to spaces, runs
// of spaces to one, and runs of 3+ newlines to two, then trims.
func (tc *TextChunker) Normalize(raw string) string {
	text := controlChars.ReplaceAllString(raw, " ")
	text = multiSpaces.ReplaceAllString(text, " ")
	text = multiBreaks.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Chunk splits raw text into an ordered sequence of chunk strings. Windows
// advance by chunkSize-overlap so consecutive chunks share a trailing
// overlap region. Text below the minimum meaningful length yields exactly
// one sentinel chunk, never an empty sequence.
func (tc *TextChunker) Chunk(raw string) []string {
	text := tc.Normalize(raw)

	if len(text) < minMeaningfulLength {
		return []string{SentinelChunkText}
	}

	runes := []rune(text)
	step := tc.chunkSize - tc.overlap

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + tc.chunkSize
		if end > len(runes) {
			end = len(runes)
		}

		window := strings.TrimSpace(string(runes[start:end]))
		if len(window) >= minWindowLength {
			chunks = append(chunks, window)
		}

		if end == len(runes) {
			break
		}
	}

	if len(chunks) == 0 {
		return []string{SentinelChunkText}
	}
	return chunks
}
