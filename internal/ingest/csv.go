package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// CSVImporter handles .csv and .tsv exports of a spreadsheet. The file name
// stands in for the sheet name in each chunk's locator.
type CSVImporter struct{}

// CanHandle returns true for CSV/TSV file extensions.
func (c *CSVImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".csv" || ext == ".tsv"
}

// Import parses r as CSV, or TSV when name ends in .tsv.
func (c *CSVImporter) Import(ctx context.Context, name string, r io.Reader) ([]Chunk, error) {
	reader := csv.NewReader(r)

	// Auto-detect TSV
	if strings.ToLower(filepath.Ext(name)) == ".tsv" {
		reader.Comma = '\t'
	}

	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing CSV %s: %w", name, err)
	}

	sheet := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if sheet == "" || sheet == "." {
		sheet = "Sheet1"
	}
	return rowsToChunks(sheet, records)
}
