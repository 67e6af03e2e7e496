// Package processing implements the Processing collaborator: turn a
// stored document into searchable text chunks. Non-text payloads are
// indexed by name only; semantic ranking is someone else's job.
package processing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"docverse/internal/domain"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 50
)

// TextExtractor chunks plain-text documents.
type TextExtractor struct {
	chunkSize int
	overlap   int
	logger    *slog.Logger
}

func NewTextExtractor(logger *slog.Logger) *TextExtractor {
	return &TextExtractor{
		chunkSize: defaultChunkSize,
		overlap:   defaultChunkOverlap,
		logger:    logger,
	}
}

// Run reads the stored artifact and produces its processed result.
func (e *TextExtractor) Run(ctx context.Context, job domain.DocumentJob, location string) (domain.ProcessResult, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		return domain.ProcessResult{}, fmt.Errorf("read stored document: %w", err)
	}

	if !isTextual(job.MimeType, data) {
		e.logger.Debug("document not text-searchable", "job", job.JobID, "mime", job.MimeType)
		return domain.ProcessResult{
			Summary: "Stored as-is (content is not text-searchable).",
		}, nil
	}

	chunks := Chunk(string(data), e.chunkSize, e.overlap)
	return domain.ProcessResult{
		Chunks:  chunks,
		Summary: fmt.Sprintf("Indexed %d text section(s) — you can now use 'ask' and 'find' on it.", len(chunks)),
	}, nil
}

// Chunk splits text into ~size-rune pieces on word boundaries with a
// small overlap so a phrase straddling a boundary still matches.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentLen := 0
	for i := 0; i < len(words); i++ {
		w := words[i]
		if currentLen > 0 && currentLen+len(w)+1 > size {
			chunks = append(chunks, strings.Join(current, " "))
			// Walk back to carry roughly `overlap` runes into the next chunk.
			carried := 0
			j := len(current)
			for j > 0 && carried < overlap {
				j--
				carried += len(current[j]) + 1
			}
			current = append([]string(nil), current[j:]...)
			currentLen = carried
		}
		current = append(current, w)
		currentLen += len(w) + 1
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// isTextual decides whether content is worth chunking: a text-ish mime
// type, or valid UTF-8 when the platform sent something generic.
func isTextual(mime string, data []byte) bool {
	switch {
	case strings.HasPrefix(mime, "text/"):
		return true
	case mime == "application/json", mime == "application/xml", mime == "text/csv":
		return true
	case mime == "" || mime == "application/octet-stream":
		return len(data) > 0 && utf8.Valid(data)
	default:
		return false
	}
}
