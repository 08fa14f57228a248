package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	errs "github.com/hurttlocker/canon/internal/errors"
	"github.com/hurttlocker/canon/internal/logging"
	"github.com/hurttlocker/canon/internal/store"
)

// Engine registers sources and their evidence chunks.
type Engine struct {
	st        store.Store
	importers []Importer
}

// NewEngine returns an Engine with the sheet, CSV and text importers.
func NewEngine(st store.Store) *Engine {
	return &Engine{
		st: st,
		importers: []Importer{
			&SheetImporter{},
			&CSVImporter{},
			&TextImporter{},
		},
	}
}

// ImporterFor returns the importer that handles path, or nil.
func (e *Engine) ImporterFor(path string) Importer {
	for _, imp := range e.importers {
		if imp.CanHandle(path) {
			return imp
		}
	}
	return nil
}

// RegisterPaste stores text pasted by an operator as a paste source, one
// pasted_chunk per paragraph.
func (e *Engine) RegisterPaste(ctx context.Context, clubID, text string, opts Options) (*Result, error) {
	chunks := splitTextIntoParagraphs(text, store.ChunkPastedChunk)
	return e.register(ctx, clubID, store.SourcePaste, chunks, opts)
}

// RegisterOCRText stores text recognized from a photo by an external OCR
// step as a photo source, one ocr_text chunk per paragraph.
func (e *Engine) RegisterOCRText(ctx context.Context, clubID, text string, opts Options) (*Result, error) {
	chunks := splitTextIntoParagraphs(text, store.ChunkOCRText)
	return e.register(ctx, clubID, store.SourcePhoto, chunks, opts)
}

// RegisterFile stores a local file as a file source using the importer
// selected by its extension.
func (e *Engine) RegisterFile(ctx context.Context, clubID, path string, opts Options) (*Result, error) {
	imp := e.ImporterFor(path)
	if imp == nil {
		return nil, errs.NewValidationError("path", path, "unsupported file type")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, errs.NewValidationError("path", path, "path is a directory")
	}
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if info.Size() > maxSize {
		return nil, errs.NewValidationError("path", path, fmt.Sprintf("file exceeds max size (%d > %d bytes)", info.Size(), maxSize))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	return e.RegisterReader(ctx, clubID, imp, path, f, opts)
}

// RegisterReader stores the content of r parsed by imp. name is the file name
// shown as the source title and URI when opts leave them empty.
func (e *Engine) RegisterReader(ctx context.Context, clubID string, imp Importer, name string, r io.Reader, opts Options) (*Result, error) {
	chunks, err := imp.Import(ctx, name, r)
	if err != nil {
		return nil, errs.NewValidationError("file", name, err.Error())
	}
	if opts.Title == "" {
		opts.Title = filepath.Base(name)
	}
	if opts.URI == "" {
		if abs, err := filepath.Abs(name); err == nil {
			opts.URI = "file://" + abs
		}
	}
	return e.register(ctx, clubID, store.SourceFile, chunks, opts)
}

func (e *Engine) register(ctx context.Context, clubID string, typ store.SourceType, chunks []Chunk, opts Options) (*Result, error) {
	if strings.TrimSpace(clubID) == "" {
		return nil, errs.NewValidationError("club_id", clubID, "club id is required")
	}
	if len(chunks) == 0 {
		return nil, errs.NewValidationError("text", nil, "source has no content")
	}

	src := &store.Source{
		ClubID:   clubID,
		Type:     typ,
		Title:    strings.TrimSpace(opts.Title),
		URI:      strings.TrimSpace(opts.URI),
		Metadata: opts.Metadata,
	}
	res := &Result{Source: src, Chunks: make([]*store.EvidenceChunk, 0, len(chunks))}

	if opts.DryRun {
		if _, err := e.st.GetClub(ctx, clubID); err != nil {
			return nil, errs.Classify("store", err)
		}
		for _, c := range chunks {
			res.Chunks = append(res.Chunks, &store.EvidenceChunk{
				ClubID:      clubID,
				Kind:        c.Kind,
				Text:        c.Text,
				Locator:     c.Locator,
				ContentHash: store.HashChunkContent(c.Kind, c.Text, c.Locator),
			})
		}
		return res, nil
	}

	if err := e.st.AddSource(ctx, src); err != nil {
		return nil, errs.Classify("store", err)
	}
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ec := &store.EvidenceChunk{
			SourceID: src.ID,
			Kind:     c.Kind,
			Text:     c.Text,
			Locator:  c.Locator,
		}
		inserted, err := e.st.AddEvidenceChunk(ctx, ec)
		if err != nil {
			return nil, errs.Classify("store", err)
		}
		if inserted {
			res.ChunksNew++
		} else {
			res.ChunksExisting++
		}
		res.Chunks = append(res.Chunks, ec)
	}

	logging.FromContext(ctx).Info().
		Str("club_id", clubID).
		Str("source_id", src.ID).
		Str("type", string(typ)).
		Int("chunks_new", res.ChunksNew).
		Int("chunks_existing", res.ChunksExisting).
		Msg("source registered")
	return res, nil
}
