package parser

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dgallion1/pdfgenie/internal/doctree"
	"github.com/fumiama/go-docx"
)

// DOCXParser handles .docx files. Explicit page breaks advance the page
// number; Word's own layout pagination is not available without rendering.
type DOCXParser struct{}

func (p *DOCXParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	// go-docx needs an io.ReaderAt and the size.
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}

	b := newSectionBuilder()
	for _, item := range doc.Document.Body.Items {
		switch v := item.(type) {
		case *docx.Paragraph:
			addParagraph(b, v)
		case *docx.Table:
			for _, row := range v.TableRows {
				b.text(docxRowText(row))
			}
		}
	}

	return &doctree.DocTree{
		Title:    titleFromFilename(filename),
		Source:   filename,
		Children: b.nodes(),
	}, nil
}

func addParagraph(b *sectionBuilder, para *docx.Paragraph) {
	segments := docxSegments(para)
	if level := docxHeadingLevel(para); level > 0 {
		if title := strings.TrimSpace(strings.Join(segments, "")); title != "" {
			b.heading(level, title)
		}
		for range segments[1:] {
			b.nextPage()
		}
		return
	}
	for i, seg := range segments {
		if i > 0 {
			b.nextPage()
		}
		b.text(seg)
	}
}

// docxHeadingLevel reads "Heading1" or "heading 1" style names. The Title
// style counts as level 1.
func docxHeadingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	if style == "title" {
		return 1
	}
	rest, ok := strings.CutPrefix(style, "heading")
	if !ok {
		return 0
	}
	level, err := strconv.Atoi(rest)
	if err != nil || level < 1 || level > 9 {
		return 0
	}
	return level
}

// docxSegments returns the paragraph text split at page breaks. There is
// always at least one segment.
func docxSegments(para *docx.Paragraph) []string {
	segments := []string{""}
	var sb strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			switch v := rc.(type) {
			case *docx.Text:
				sb.WriteString(v.Text)
			case *docx.Tab:
				sb.WriteByte('\t')
			case *docx.BarterRabbet:
				if v.Type == "page" {
					segments[len(segments)-1] = sb.String()
					segments = append(segments, "")
					sb.Reset()
				} else {
					sb.WriteByte('\n')
				}
			}
		}
	}
	segments[len(segments)-1] = sb.String()
	return segments
}

func docxRowText(row *docx.WTableRow) string {
	var cells []string
	for _, cell := range row.TableCells {
		var parts []string
		for _, para := range cell.Paragraphs {
			if t := strings.TrimSpace(strings.Join(docxSegments(para), " ")); t != "" {
				parts = append(parts, t)
			}
		}
		if len(parts) > 0 {
			cells = append(cells, strings.Join(parts, " "))
		}
	}
	return strings.Join(cells, " | ")
}
