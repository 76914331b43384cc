// Package export renders extraction results for download.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/dgallion1/pdfgenie/internal/docqa"
)

// WriteCSV writes one row per result: source, page_id, then one column per
// schema field. Fields a result lacks are left empty.
func WriteCSV(w io.Writer, schema docqa.Schema, results []docqa.ExtractionResult) error {
	cw := csv.NewWriter(w)
	header := append([]string{"source", "page_id"}, schema.Names()...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i, r := range results {
		row := make([]string, 0, len(header))
		row = append(row, r.SourceID, strconv.Itoa(r.PageID))
		for _, f := range schema.Fields {
			row = append(row, r.Entities[f.Name])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
