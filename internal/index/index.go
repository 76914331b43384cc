// Package index stores embedded chunks and answers similarity queries.
package index

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dgallion1/pdfgenie/internal/corpus"
	"github.com/dgallion1/pdfgenie/internal/embed"
)

// DefaultK is the number of chunks returned when a caller asks for k <= 0.
const DefaultK = 5

// ErrUnknownBackend is returned by New for an embedding or store type it
// does not know.
var ErrUnknownBackend = errors.New("unknown index backend")

// ErrModelMismatch is returned by Load when the saved index was built with a
// different embedding model.
var ErrModelMismatch = errors.New("index built with a different embedding model")

// Index is a similarity-searchable store of chunks.
type Index interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]corpus.SourceChunk, error)
	AddDocuments(ctx context.Context, chunks []corpus.SourceChunk) error
	Save(path string) error
	Load(path string) error
	Len() int
}

// Config selects the index backend.
type Config struct {
	EmbeddingType  string // "openai"
	StoreType      string // "flat"; "faiss" is accepted as an alias
	EmbeddingModel string
	APIKey         string
	BaseURL        string
}

// New builds the index named by cfg.
func New(cfg Config) (Index, error) {
	var emb embed.Embedder
	switch cfg.EmbeddingType {
	case "openai":
		e, err := embed.NewOpenAIEmbedder(cfg.APIKey, cfg.EmbeddingModel, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("embedding backend: %w", err)
		}
		emb = e
	default:
		return nil, fmt.Errorf("%w: embedding type %q", ErrUnknownBackend, cfg.EmbeddingType)
	}

	switch cfg.StoreType {
	case "flat", "faiss":
		return NewFlat(emb), nil
	default:
		return nil, fmt.Errorf("%w: vector store type %q", ErrUnknownBackend, cfg.StoreType)
	}
}

// OpenOrBuild loads the index at path if it exists, otherwise embeds chunks
// into idx and saves it to path. It reports whether the index was built.
func OpenOrBuild(ctx context.Context, idx Index, path string, chunks []corpus.SourceChunk, log *slog.Logger) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		if err := idx.Load(path); err != nil {
			return false, fmt.Errorf("load index: %w", err)
		}
		log.Info("loaded index", "path", path, "chunks", idx.Len())
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat index: %w", err)
	}

	if err := idx.AddDocuments(ctx, chunks); err != nil {
		return false, fmt.Errorf("build index: %w", err)
	}
	if err := idx.Save(path); err != nil {
		return true, fmt.Errorf("save index: %w", err)
	}
	log.Info("built index", "path", path, "chunks", idx.Len())
	return true, nil
}

// FlatIndex compares the query against every stored vector. Vectors are unit
// length, so cosine similarity is a dot product.
type FlatIndex struct {
	emb embed.Embedder

	mu      sync.RWMutex
	chunks  []corpus.SourceChunk
	vectors [][]float32
}

// NewFlat returns an empty flat index that embeds with emb.
func NewFlat(emb embed.Embedder) *FlatIndex {
	return &FlatIndex{emb: emb}
}

// AddDocuments embeds and appends chunks.
func (f *FlatIndex) AddDocuments(ctx context.Context, chunks []corpus.SourceChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := f.emb.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}
	for _, v := range vecs {
		embed.Normalize(v)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunks...)
	f.vectors = append(f.vectors, vecs...)
	return nil
}

// SimilaritySearch returns up to k chunks ranked by similarity to query,
// most similar first. Ties keep insertion order.
func (f *FlatIndex) SimilaritySearch(ctx context.Context, query string, k int) ([]corpus.SourceChunk, error) {
	if k <= 0 {
		k = DefaultK
	}
	q, err := f.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	embed.Normalize(q)

	f.mu.RLock()
	defer f.mu.RUnlock()

	type scored struct {
		idx   int
		score float32
	}
	results := make([]scored, 0, len(f.vectors))
	for i, v := range f.vectors {
		if len(v) != len(q) {
			continue
		}
		results = append(results, scored{idx: i, score: dot(q, v)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if k < len(results) {
		results = results[:k]
	}

	out := make([]corpus.SourceChunk, len(results))
	for i, r := range results {
		out[i] = f.chunks[r.idx]
	}
	return out, nil
}

// Len returns the number of stored chunks.
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.chunks)
}

type snapshot struct {
	Model   string
	Chunks  []corpus.SourceChunk
	Vectors [][]float32
}

// Save writes the index to path as gob, via a temp file and rename.
func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snap := snapshot{Model: f.emb.ModelInfo(), Chunks: f.chunks, Vectors: f.vectors}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*.gob")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(snap); err != nil {
		tmp.Close()
		return fmt.Errorf("encode index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Load replaces the index contents with the index saved at path.
func (f *FlatIndex) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var snap snapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}
	if snap.Model != f.emb.ModelInfo() {
		return fmt.Errorf("%w: saved %q, configured %q", ErrModelMismatch, snap.Model, f.emb.ModelInfo())
	}
	if len(snap.Chunks) != len(snap.Vectors) {
		return fmt.Errorf("decode index: %d chunks but %d vectors", len(snap.Chunks), len(snap.Vectors))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = snap.Chunks
	f.vectors = snap.Vectors
	return nil
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
