package parser

import (
	"bufio"
	"io"
	"strings"

	"github.com/dgallion1/pdfgenie/internal/doctree"
)

// TextParser handles plain text files. Form feeds separate pages, which is how
// pdftotext and most print-to-text exports mark them.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	tree := &doctree.DocTree{
		Title:  titleFromFilename(filename),
		Source: filename,
	}

	page := 0
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tree.Children = append(tree.Children, &doctree.DocNode{Text: current.String(), Page: page})
			current.Reset()
		}
	}

	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), "\f")
		for i, line := range parts {
			if i > 0 {
				flush()
				page++
			}
			if strings.TrimSpace(line) == "" {
				// A blank line ends the paragraph; an empty remainder after a
				// form feed does not.
				if len(parts) == 1 {
					flush()
				}
				continue
			}
			if current.Len() > 0 {
				current.WriteString("\n")
			}
			current.WriteString(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return tree, nil
}
