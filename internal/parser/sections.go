package parser

import (
	"path/filepath"
	"strings"

	"github.com/dgallion1/pdfgenie/internal/doctree"
)

// sectionBuilder nests headed sections by level and files body text under the
// innermost open section. Text that lands on a later page than its section
// becomes a leaf child carrying that page, so page provenance survives in
// formats where a section spans a break.
type sectionBuilder struct {
	root  *doctree.DocNode
	stack []openSection
	body  []string
	page  int
}

type openSection struct {
	node  *doctree.DocNode
	level int
}

func newSectionBuilder() *sectionBuilder {
	root := &doctree.DocNode{}
	return &sectionBuilder{root: root, stack: []openSection{{node: root}}}
}

// heading opens a section at level (1 is outermost), closing any open section
// at the same or a deeper level.
func (b *sectionBuilder) heading(level int, title string) {
	b.flush()
	node := &doctree.DocNode{Title: title, Page: b.page}
	for len(b.stack) > 1 && b.stack[len(b.stack)-1].level >= level {
		b.stack = b.stack[:len(b.stack)-1]
	}
	parent := b.stack[len(b.stack)-1].node
	parent.Children = append(parent.Children, node)
	b.stack = append(b.stack, openSection{node: node, level: level})
}

// text queues a block of body text for the current section.
func (b *sectionBuilder) text(t string) {
	if t = strings.TrimSpace(t); t != "" {
		b.body = append(b.body, t)
	}
}

// nextPage moves everything that follows onto the next page.
func (b *sectionBuilder) nextPage() {
	b.flush()
	b.page++
}

func (b *sectionBuilder) flush() {
	if len(b.body) == 0 {
		return
	}
	t := strings.Join(b.body, "\n\n")
	b.body = b.body[:0]

	top := b.stack[len(b.stack)-1].node
	switch {
	case top.Page == b.page && top.Text == "":
		top.Text = t
	case top.Page == b.page && len(top.Children) == 0:
		top.Text += "\n\n" + t
	default:
		top.Children = append(top.Children, &doctree.DocNode{Text: t, Page: b.page})
	}
}

// nodes returns the top-level nodes. Text that came before the first heading
// is kept as a leading leaf.
func (b *sectionBuilder) nodes() []*doctree.DocNode {
	b.flush()
	root := b.root
	var out []*doctree.DocNode
	if root.Text != "" {
		out = append(out, &doctree.DocNode{Text: root.Text, Page: root.Page})
	}
	return append(out, root.Children...)
}

// titleFromFilename strips the directory and extension.
func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
