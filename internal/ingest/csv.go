package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
)

// Columns names the CSV header cells holding each record field.
type Columns struct {
	Title string `mapstructure:"title"`
	SKU   string `mapstructure:"sku"`
	URL   string `mapstructure:"url"`
}

// DefaultColumns matches the supplier worksheet export.
var DefaultColumns = Columns{Title: "Title", SKU: "ProductCode", URL: "ProductURL"}

// ReadCSV reads records from a CSV export with a header row. Rows without a
// SKU are skipped; the URL column is optional.
func ReadCSV(r io.Reader, cols Columns) ([]catalog.ProductRecord, error) {
	cols = cols.withDefaults()
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv input is empty")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	titleIdx, okTitle := index[cols.Title]
	skuIdx, okSKU := index[cols.SKU]
	if !okTitle || !okSKU {
		return nil, fmt.Errorf("csv header must contain %q and %q columns", cols.Title, cols.SKU)
	}
	urlIdx, okURL := index[cols.URL]
	if !okURL {
		urlIdx = -1
	}

	var records []catalog.ProductRecord
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		record := catalog.ProductRecord{
			Title: cell(row, titleIdx),
			SKU:   cell(row, skuIdx),
			URL:   cell(row, urlIdx),
		}
		if record.SKU == "" {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (c Columns) withDefaults() Columns {
	if c.Title == "" {
		c.Title = DefaultColumns.Title
	}
	if c.SKU == "" {
		c.SKU = DefaultColumns.SKU
	}
	if c.URL == "" {
		c.URL = DefaultColumns.URL
	}
	return c
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
