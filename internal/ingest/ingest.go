// Package ingest registers source material as evidence chunks.
//
// Each supported input (pasted or OCR text, .xlsx workbooks, .csv/.tsv
// sheets) has its own importer that implements the Importer interface. The
// engine picks an importer by file extension, stores one Source per input and
// one immutable EvidenceChunk per excerpt. Chunks carry a locator (paragraph
// and line for text, sheet and cell range for sheets) so claims can cite the
// exact place a requirement was read from.
package ingest

import (
	"context"
	"io"

	"github.com/hurttlocker/canon/internal/store"
)

// Chunk is a parsed excerpt ready for storage.
type Chunk struct {
	Kind    store.ChunkKind
	Text    string
	Locator map[string]string
}

// Importer handles a specific input format.
type Importer interface {
	// CanHandle returns true if this importer supports the given file path.
	CanHandle(path string) bool

	// Import parses r and returns evidence chunks. name labels sheet-less
	// inputs such as CSV files.
	Import(ctx context.Context, name string, r io.Reader) ([]Chunk, error)
}

// Result summarizes one registration.
type Result struct {
	Source         *store.Source          `json:"source"`
	Chunks         []*store.EvidenceChunk `json:"chunks"`
	ChunksNew      int                    `json:"chunks_new"`
	ChunksExisting int                    `json:"chunks_existing"`
}

// ChunkIDs returns the IDs of every registered chunk in input order.
func (r *Result) ChunkIDs() []string {
	ids := make([]string, 0, len(r.Chunks))
	for _, c := range r.Chunks {
		ids = append(ids, c.ID)
	}
	return ids
}

// Options configures a registration.
type Options struct {
	Title       string
	URI         string
	Metadata    map[string]string
	DryRun      bool
	MaxFileSize int64 // bytes, default 10MB
}

// DefaultMaxFileSize is 10MB.
const DefaultMaxFileSize = 10 * 1024 * 1024
