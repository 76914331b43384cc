package doctree

import (
	"slices"
	"strings"
)

// DocTree is the root of a parsed document.
type DocTree struct {
	Title    string     // Document title (from metadata or filename)
	Source   string     // Source identifier, usually the file path the tree was loaded from
	Children []*DocNode // Top-level sections
}

// DocNode is a recursive section in the document tree.
type DocNode struct {
	Title    string     // Section heading (empty for leaf text)
	Text     string     // Text content of this node (may be empty for container nodes)
	Page     int        // 0-based source page (0 for non-paginated formats)
	Children []*DocNode // Subsections
}

// Page is the full text of one page of a document.
type Page struct {
	Number int
	Text   string
}

// Pages flattens the tree into pages in ascending page order. Node text that
// shares a page is joined with blank lines; headings are kept as their own
// line so they stay part of the searchable content.
func (t *DocTree) Pages() []Page {
	texts := map[int]*strings.Builder{}
	var order []int

	var walk func(nodes []*DocNode)
	walk = func(nodes []*DocNode) {
		for _, n := range nodes {
			for _, part := range []string{n.Title, n.Text} {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				sb, ok := texts[n.Page]
				if !ok {
					sb = &strings.Builder{}
					texts[n.Page] = sb
					order = append(order, n.Page)
				} else {
					sb.WriteString("\n\n")
				}
				sb.WriteString(part)
			}
			walk(n.Children)
		}
	}
	walk(t.Children)

	slices.Sort(order)
	pages := make([]Page, 0, len(order))
	for _, p := range order {
		pages = append(pages, Page{Number: p, Text: texts[p].String()})
	}
	return pages
}

// NumPages returns one more than the highest page number, or 0 when the tree
// has no text.
func (t *DocTree) NumPages() int {
	pages := t.Pages()
	if len(pages) == 0 {
		return 0
	}
	return pages[len(pages)-1].Number + 1
}

// Text returns all page text joined with blank lines.
func (t *DocTree) Text() string {
	var sb strings.Builder
	for i, p := range t.Pages() {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}
