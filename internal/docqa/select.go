package docqa

import (
	"context"
	"fmt"

	"github.com/dgallion1/pdfgenie/internal/corpus"
)

// Selection says which chunks an extraction should read.
type Selection struct {
	// SourceID restricts the batch to one document. Empty means all.
	SourceID string
	// K > 0 selects the pages of the top-K hits for the schema question,
	// one entry per page; otherwise every chunk is used.
	K int
}

// SelectChunks picks the chunks for an extraction of schema.
func SelectChunks(ctx context.Context, s Searcher, c *corpus.Corpus, schema Schema, sel Selection) ([]corpus.SourceChunk, error) {
	if sel.K <= 0 {
		if sel.SourceID != "" {
			return c.ChunksFor(sel.SourceID), nil
		}
		return c.Chunks(), nil
	}

	if sel.SourceID == "" {
		hits, err := searchSchema(ctx, s, schema, sel.K)
		if err != nil {
			return nil, err
		}
		return topPages(c, hits, sel.K), nil
	}

	// Over-fetch so that K hits from the source can survive the filter, and
	// widen to the whole index only when they don't.
	k := max(min(sel.K*4, c.Len()), sel.K)
	hits, err := searchSchema(ctx, s, schema, k)
	if err != nil {
		return nil, err
	}
	filtered := fromSource(hits, sel.SourceID)
	if len(c.Pages(filtered)) < sel.K && k < c.Len() {
		if hits, err = searchSchema(ctx, s, schema, c.Len()); err != nil {
			return nil, err
		}
		filtered = fromSource(hits, sel.SourceID)
	}
	return topPages(c, filtered, sel.K), nil
}

func searchSchema(ctx context.Context, s Searcher, schema Schema, k int) ([]corpus.SourceChunk, error) {
	hits, err := s.SimilaritySearch(ctx, schema.Question(), k)
	if err != nil {
		return nil, fmt.Errorf("%w: similarity search: %w", ErrUpstream, err)
	}
	return hits, nil
}

func fromSource(hits []corpus.SourceChunk, sourceID string) []corpus.SourceChunk {
	var out []corpus.SourceChunk
	for _, h := range hits {
		if h.SourceID == sourceID {
			out = append(out, h)
		}
	}
	return out
}

func topPages(c *corpus.Corpus, hits []corpus.SourceChunk, k int) []corpus.SourceChunk {
	pages := c.Pages(hits)
	if len(pages) > k {
		pages = pages[:k]
	}
	return pages
}
