package ingest

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hurttlocker/canon/internal/store"
)

// SheetImporter handles .xlsx workbooks. Every non-empty row of every sheet
// becomes one sheet_range chunk.
type SheetImporter struct{}

// CanHandle returns true for Excel workbook extensions.
func (s *SheetImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".xlsx" || ext == ".xlsm"
}

// Import reads every sheet of the workbook in r.
func (s *SheetImporter) Import(ctx context.Context, name string, r io.Reader) ([]Chunk, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	var chunks []Chunk
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading rows of sheet %q: %w", sheet, err)
		}
		sheetChunks, err := rowsToChunks(sheet, rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, sheetChunks...)
	}
	return chunks, nil
}

// rowsToChunks treats the first non-empty row as the header. Each later row
// renders as "Header: value" pairs so the excerpt stays readable on its own.
func rowsToChunks(sheet string, rows [][]string) ([]Chunk, error) {
	var headers []string
	var chunks []Chunk
	for i, row := range rows {
		first, last := cellSpan(row)
		if first < 0 {
			continue
		}
		if headers == nil {
			headers = row
			continue
		}

		parts := make([]string, 0, last-first+1)
		for col := first; col <= last; col++ {
			val := strings.TrimSpace(row[col])
			if val == "" {
				continue
			}
			header := ""
			if col < len(headers) {
				header = strings.TrimSpace(headers[col])
			}
			if header != "" {
				parts = append(parts, header+": "+val)
			} else {
				parts = append(parts, val)
			}
		}

		rng, err := cellRange(first, last, i+1)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, Chunk{
			Kind:    store.ChunkSheetRange,
			Text:    strings.Join(parts, " | "),
			Locator: map[string]string{"sheet": sheet, "range": rng},
		})
	}
	return chunks, nil
}

// cellSpan returns the first and last non-blank column of row, or -1, -1.
func cellSpan(row []string) (int, int) {
	first, last := -1, -1
	for i, v := range row {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	return first, last
}

// cellRange renders zero-based columns on a one-based row as "B3:F3".
func cellRange(firstCol, lastCol, row int) (string, error) {
	start, err := excelize.CoordinatesToCellName(firstCol+1, row)
	if err != nil {
		return "", err
	}
	end, err := excelize.CoordinatesToCellName(lastCol+1, row)
	if err != nil {
		return "", err
	}
	return start + ":" + end, nil
}
