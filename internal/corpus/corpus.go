// Package corpus holds the loaded document collection as retrievable chunks
// together with the whole pages they were cut from.
package corpus

import (
	"sync"

	"github.com/dgallion1/pdfgenie/internal/chunker"
	"github.com/dgallion1/pdfgenie/internal/doctree"
)

// SourceChunk is a piece of one page of one source document. It is the unit
// that is indexed, retrieved and handed to the model.
type SourceChunk struct {
	Content  string `json:"page_content"`
	SourceID string `json:"source"`
	Page     int    `json:"page"`
}

// Key identifies the page a chunk belongs to.
func (c SourceChunk) Key() Key {
	return Key{SourceID: c.SourceID, Page: c.Page}
}

// Key is the identity of a page. Chunks with the same key came from the same
// page.
type Key struct {
	SourceID string
	Page     int
}

// Splitter cuts page text into chunks.
type Splitter interface {
	Split(text string) []string
}

// SourceInfo summarizes one loaded document.
type SourceInfo struct {
	SourceID string `json:"source"`
	Title    string `json:"title"`
	Pages    int    `json:"pages"`
	Chunks   int    `json:"chunks"`
	Tokens   int    `json:"estimated_tokens"`
}

// Corpus is the set of chunks and pages loaded so far. It is safe for
// concurrent use; reads vastly outnumber Add calls.
type Corpus struct {
	splitter Splitter

	mu      sync.RWMutex
	chunks  []SourceChunk
	pages   map[Key]SourceChunk
	sources map[string]*SourceInfo
	order   []string
}

// New returns an empty corpus that splits pages with s.
func New(s Splitter) *Corpus {
	return &Corpus{
		splitter: s,
		pages:    make(map[Key]SourceChunk),
		sources:  make(map[string]*SourceInfo),
	}
}

// Load builds a corpus from parsed documents.
func Load(docs []*doctree.DocTree, s Splitter) *Corpus {
	c := New(s)
	for _, d := range docs {
		c.Add(d)
	}
	return c
}

// Document is a split document that has not been added yet.
type Document struct {
	Info   SourceInfo
	Chunks []SourceChunk
	pages  []SourceChunk
}

// Split carves every page of doc into chunks without touching the corpus.
func (c *Corpus) Split(doc *doctree.DocTree) Document {
	source := doc.Source
	if source == "" {
		source = doc.Title
	}

	d := Document{Info: SourceInfo{SourceID: source, Title: doc.Title, Pages: doc.NumPages()}}
	for _, p := range doc.Pages() {
		d.pages = append(d.pages, SourceChunk{Content: p.Text, SourceID: source, Page: p.Number})
		for _, text := range c.splitter.Split(p.Text) {
			d.Chunks = append(d.Chunks, SourceChunk{Content: text, SourceID: source, Page: p.Number})
			d.Info.Tokens += chunker.EstimateTokens(text)
		}
	}
	d.Info.Chunks = len(d.Chunks)
	return d
}

// Commit appends a split document. Committing a source twice appends its
// chunks twice; DedupPages collapses them.
func (c *Corpus) Commit(d Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range d.pages {
		c.pages[p.Key()] = p
	}
	c.chunks = append(c.chunks, d.Chunks...)
	if prev, ok := c.sources[d.Info.SourceID]; ok {
		prev.Chunks += d.Info.Chunks
		prev.Tokens += d.Info.Tokens
		if d.Info.Pages > prev.Pages {
			prev.Pages = d.Info.Pages
		}
	} else {
		info := d.Info
		c.sources[info.SourceID] = &info
		c.order = append(c.order, info.SourceID)
	}
}

// Add splits doc, commits it and returns its chunks.
func (c *Corpus) Add(doc *doctree.DocTree) []SourceChunk {
	d := c.Split(doc)
	c.Commit(d)
	return d.Chunks
}

// Chunks returns a copy of all chunks in load order.
func (c *Corpus) Chunks() []SourceChunk {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SourceChunk, len(c.chunks))
	copy(out, c.chunks)
	return out
}

// ChunksFor returns the chunks of one source in load order.
func (c *Corpus) ChunksFor(sourceID string) []SourceChunk {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []SourceChunk
	for _, ch := range c.chunks {
		if ch.SourceID == sourceID {
			out = append(out, ch)
		}
	}
	return out
}

// Len returns the number of chunks.
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.chunks)
}

// Page returns the whole, unsplit page for key.
func (c *Corpus) Page(key Key) (SourceChunk, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pages[key]
	return p, ok
}

// Pages resolves chunks to the whole pages they came from, collapsing chunks
// of the same page and keeping first-occurrence order. Chunks whose page is
// unknown are returned unchanged.
func (c *Corpus) Pages(chunks []SourceChunk) []SourceChunk {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SourceChunk, 0, len(chunks))
	for _, ch := range DedupPages(chunks) {
		if p, ok := c.pages[ch.Key()]; ok {
			out = append(out, p)
		} else {
			out = append(out, ch)
		}
	}
	return out
}

// Sources lists loaded documents in load order.
func (c *Corpus) Sources() []SourceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SourceInfo, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.sources[id])
	}
	return out
}

// HasSource reports whether sourceID has been loaded.
func (c *Corpus) HasSource(sourceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sources[sourceID]
	return ok
}

// DedupPages keeps the first chunk of every page, preserving order.
func DedupPages(chunks []SourceChunk) []SourceChunk {
	seen := make(map[Key]bool, len(chunks))
	out := make([]SourceChunk, 0, len(chunks))
	for _, ch := range chunks {
		k := ch.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, ch)
	}
	return out
}
