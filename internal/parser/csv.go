package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/pdfgenie/internal/doctree"
)

// csvRowsPerPage is how many data rows make up one page of a CSV document.
const csvRowsPerPage = 20

// CSVParser handles CSV files. The first record is the header; every page
// repeats it so a page can be read on its own.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	tree := &doctree.DocTree{
		Title:  titleFromFilename(filename),
		Source: filename,
	}

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return tree, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	preamble := "Headers: " + strings.Join(headers, ", ") + "\n\n"

	var page strings.Builder
	first, rows := 0, 0
	flush := func() {
		if rows == 0 {
			return
		}
		tree.Children = append(tree.Children, &doctree.DocNode{
			// Spreadsheet row numbers: the header is row 1.
			Title: fmt.Sprintf("Rows %d-%d", first+2, first+rows+1),
			Text:  preamble + page.String(),
			Page:  first / csvRowsPerPage,
		})
		first += rows
		rows = 0
		page.Reset()
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		page.WriteString(csvRowText(headers, record))
		page.WriteByte('\n')
		if rows++; rows == csvRowsPerPage {
			flush()
		}
	}
	flush()
	return tree, nil
}

// csvRowText labels each cell with its column header.
func csvRowText(headers, record []string) string {
	cells := make([]string, len(record))
	for i, cell := range record {
		if i < len(headers) && headers[i] != "" {
			cells[i] = headers[i] + ": " + cell
		} else {
			cells[i] = cell
		}
	}
	return strings.Join(cells, ", ")
}
