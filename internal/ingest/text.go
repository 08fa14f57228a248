package ingest

import (
	"context"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hurttlocker/canon/internal/store"
)

// TextImporter handles pasted text, .txt/.md/.log files and OCR output.
type TextImporter struct {
	// Kind tags produced chunks. Zero means pasted_chunk.
	Kind store.ChunkKind
}

// CanHandle returns true for plain text extensions. Also acts as fallback.
func (t *TextImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".txt" || ext == ".md" || ext == ".log" || ext == ""
}

// Import splits text on blank lines. Each paragraph becomes one chunk.
func (t *TextImporter) Import(ctx context.Context, name string, r io.Reader) ([]Chunk, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	kind := t.Kind
	if kind == "" {
		kind = store.ChunkPastedChunk
	}
	return splitTextIntoParagraphs(string(data), kind), nil
}

// splitTextIntoParagraphs splits text on double newlines and tracks line numbers.
func splitTextIntoParagraphs(content string, kind store.ChunkKind) []Chunk {
	var chunks []Chunk

	// Normalize line endings
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if strings.TrimSpace(content) == "" {
		return nil
	}

	paragraphs := strings.Split(content, "\n\n")
	lineNum := 1
	n := 0

	for _, para := range paragraphs {
		text := strings.TrimSpace(para)
		if text == "" {
			lineNum += strings.Count(para, "\n") + 2
			continue
		}
		n++
		chunks = append(chunks, Chunk{
			Kind: kind,
			Text: text,
			Locator: map[string]string{
				"paragraph": strconv.Itoa(n),
				"line":      strconv.Itoa(lineNum + leadingNewlines(para)),
			},
		})
		lineNum += strings.Count(para, "\n") + 2
	}

	return chunks
}

func leadingNewlines(s string) int {
	return strings.Count(s[:len(s)-len(strings.TrimLeft(s, " \t\n"))], "\n")
}
