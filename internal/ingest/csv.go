package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/reviewqa/internal/domain"
)

// Columns names the CSV columns that carry the review text and the product title.
type Columns struct {
	Content string
	Title   string
}

// DefaultColumns matches the Flipkart review export.
var DefaultColumns = Columns{Content: "review", Title: "product_title"}

// Conversion is the outcome of reading a CSV export.
type Conversion struct {
	Documents []domain.Document
	Skipped   []*domain.SkipError
}

// ReadCSV maps every row of r to a Document. Rows with a missing, empty,
// "nan" or "null" review or title are skipped with a warning; reading
// continues. Row numbers in skip errors count data rows from 1.
func ReadCSV(r io.Reader, cols Columns) (Conversion, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Conversion{}, nil
	}
	if err != nil {
		return Conversion{}, fmt.Errorf("reading CSV header: %w", err)
	}

	contentIdx, titleIdx := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case cols.Content:
			contentIdx = i
		case cols.Title:
			titleIdx = i
		}
	}
	if contentIdx < 0 {
		slog.Warn("CSV has no content column; every row will be skipped", "column", cols.Content)
	}
	if titleIdx < 0 {
		slog.Warn("CSV has no title column; every row will be skipped", "column", cols.Title)
	}

	var out Conversion
	now := time.Now().UTC()
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				out.skip(row, fmt.Sprintf("malformed CSV: %v", perr.Err))
				continue
			}
			return out, fmt.Errorf("reading CSV row %d: %w", row, err)
		}

		content, ok := field(rec, contentIdx)
		if !ok {
			out.skip(row, "missing "+cols.Content)
			continue
		}
		title, ok := field(rec, titleIdx)
		if !ok {
			out.skip(row, "missing "+cols.Title)
			continue
		}

		out.Documents = append(out.Documents, domain.Document{
			ID:        uuid.NewString(),
			Content:   content,
			Metadata:  map[string]string{domain.MetaProductName: title},
			CreatedAt: now,
		})
	}
	return out, nil
}

func (c *Conversion) skip(row int, reason string) {
	e := &domain.SkipError{Row: row, Reason: reason}
	slog.Warn("skipping review row", "row", row, "reason", reason)
	c.Skipped = append(c.Skipped, e)
}

// field returns the trimmed value at idx, treating blanks and the textual
// null markers pandas exports as missing.
func field(rec []string, idx int) (string, bool) {
	if idx < 0 || idx >= len(rec) {
		return "", false
	}
	v := strings.TrimSpace(rec[idx])
	switch strings.ToLower(v) {
	case "", "nan", "null":
		return "", false
	}
	return v, true
}
