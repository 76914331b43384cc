package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/dgallion1/pdfgenie/internal/doctree"
	pdflib "github.com/ledongthuc/pdf"
)

// PDFParser handles PDF files with the Go reader, optionally falling back to
// pdftotext for files it cannot decode.
type PDFParser struct {
	FallbackPdftotext bool
}

var errNoPages = errors.New("pdf has no pages")

func (p *PDFParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	pages, title, err := readPDF(data)
	if err != nil && p.FallbackPdftotext {
		pages, err = pdftotextPages(data)
	}
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	tree := pdfTree(pages, filename)
	if title != "" {
		tree.Title = title
	}
	return tree, nil
}

// pdfTree builds one node per page. Page numbers are 0-based and blank pages
// keep their slot so numbering matches the file.
func pdfTree(pages []string, filename string) *doctree.DocTree {
	tree := &doctree.DocTree{
		Title:  titleFromFilename(filename),
		Source: filename,
	}
	for i, text := range pages {
		if text = strings.TrimSpace(text); text == "" {
			continue
		}
		tree.Children = append(tree.Children, &doctree.DocNode{Text: text, Page: i})
	}
	return tree
}

// readPDF returns the plain text of every page and the Info dictionary title.
// Pages whose content cannot be decoded come back empty.
func readPDF(data []byte) (pages []string, title string, err error) {
	// The reader panics on some malformed content streams.
	defer func() {
		if r := recover(); r != nil {
			pages, title, err = nil, "", fmt.Errorf("decode pdf: %v", r)
		}
	}()

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, "", err
	}
	n := reader.NumPage()
	if n == 0 {
		return nil, "", errNoPages
	}

	pages = make([]string, n)
	for i := range pages {
		page := reader.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		if text, err := page.GetPlainText(nil); err == nil {
			pages[i] = text
		}
	}
	title = strings.TrimSpace(reader.Trailer().Key("Info").Key("Title").Text())
	return pages, title, nil
}

// pdftotextPages runs poppler's pdftotext, which separates pages with form
// feeds. The trailing form feed after the last page is dropped.
func pdftotextPages(data []byte) ([]string, error) {
	tmp, err := os.CreateTemp("", "pdfgenie-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write temp file: %w", err)
	}

	out, err := exec.Command("pdftotext", "-layout", tmp.Name(), "-").Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}
	return splitPages(string(out)), nil
}

func splitPages(text string) []string {
	pages := strings.Split(text, "\f")
	if len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages
}
