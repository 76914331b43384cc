package docqa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/dgallion1/pdfgenie/internal/corpus"
	"github.com/dgallion1/pdfgenie/internal/llm"
	"github.com/dgallion1/pdfgenie/internal/match"
)

const (
	DefaultMaxConcurrency = 5
	DefaultCallTimeout    = 60 * time.Second
)

// ExtractionOptions tunes an ExtractionModel.
type ExtractionOptions struct {
	MaxConcurrency int
	CallTimeout    time.Duration
	// FindMatches attributes every value to a span and drops values that
	// cannot be located. When false, every non-empty value is kept with a
	// NoMatch span.
	FindMatches bool
}

// DefaultExtractionOptions returns the options used when none are given.
func DefaultExtractionOptions() ExtractionOptions {
	return ExtractionOptions{
		MaxConcurrency: DefaultMaxConcurrency,
		CallTimeout:    DefaultCallTimeout,
		FindMatches:    true,
	}
}

// ExtractionRequest is a schema and the chunks to fill it from.
type ExtractionRequest struct {
	Schema Schema
	Chunks []corpus.SourceChunk
	// FindMatches overrides the model option when set.
	FindMatches *bool
	// Progress, when set, is called once per chunk as it finishes. err is
	// nil for chunks that parsed, even if nothing in them matched.
	Progress func(idx int, err error)
}

// ExtractionResult holds the values extracted from one chunk. Entities and
// Spans are keyed by field name; Fields lists the kept fields in schema
// order.
type ExtractionResult struct {
	PageID   int                   `json:"page_id"`
	SourceID string                `json:"source"`
	Entities map[string]string     `json:"entities"`
	Spans    map[string]match.Span `json:"spans"`
	Fields   []string              `json:"fields"`
}

// OrderedSpans returns the spans in field order, aligned with
// OrderedEntities.
func (r ExtractionResult) OrderedSpans() []match.Span {
	out := make([]match.Span, len(r.Fields))
	for i, f := range r.Fields {
		out[i] = r.Spans[f]
	}
	return out
}

// OrderedEntities returns the values in field order.
func (r ExtractionResult) OrderedEntities() []string {
	out := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		out[i] = r.Entities[f]
	}
	return out
}

// ExtractionOutput is the outcome of one batch.
type ExtractionOutput struct {
	Results []ExtractionResult `json:"results"`
	Chunks  int                `json:"chunks"`
	// Skipped counts chunks whose completion failed, timed out or could not
	// be parsed.
	Skipped int `json:"skipped"`
	// Dropped counts parsed chunks with no kept field.
	Dropped int `json:"dropped"`
}

// ExtractionModel fills a schema from each chunk of a batch concurrently.
type ExtractionModel struct {
	llm    llm.Completer
	opts   ExtractionOptions
	prompt *Template
	pool   *ants.Pool
	log    *slog.Logger
}

// NewExtractionModel creates a model backed by a worker pool of
// opts.MaxConcurrency goroutines. Call Close to release the pool.
func NewExtractionModel(c llm.Completer, opts ExtractionOptions, log *slog.Logger) (*ExtractionModel, error) {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	pool, err := ants.NewPool(opts.MaxConcurrency,
		ants.WithExpiryDuration(time.Minute),
		ants.WithPanicHandler(func(p any) {
			log.Error("extraction worker panic", "panic", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &ExtractionModel{
		llm:    c,
		opts:   opts,
		prompt: NewTemplate(ExtractPrompt),
		pool:   pool,
		log:    log,
	}, nil
}

// Prompt returns the per-chunk extraction prompt.
func (m *ExtractionModel) Prompt() *Template { return m.prompt }

// Close releases the worker pool.
func (m *ExtractionModel) Close() {
	m.pool.Release()
}

type chunkResult struct {
	values map[string]string
	err    error
	idx    int
}

// Run extracts req.Schema from every chunk. Chunks that fail are skipped and
// counted; results keep input order. A non-empty batch in which every chunk
// failed returns ErrAllChunksFailed.
func (m *ExtractionModel) Run(ctx context.Context, req ExtractionRequest) (ExtractionOutput, error) {
	if err := req.Schema.Validate(); err != nil {
		return ExtractionOutput{}, err
	}
	out := ExtractionOutput{Chunks: len(req.Chunks)}
	if len(req.Chunks) == 0 {
		return out, nil
	}
	findMatches := m.opts.FindMatches
	if req.FindMatches != nil {
		findMatches = *req.FindMatches
	}

	tmpl := m.prompt.Partial(map[string]string{"format_instructions": req.Schema.FormatInstructions()})
	question := req.Schema.Question()

	results := make(chan chunkResult, len(req.Chunks))
	for i, chunk := range req.Chunks {
		err := m.pool.Submit(func() {
			defer func() {
				if p := recover(); p != nil {
					results <- chunkResult{err: fmt.Errorf("panic: %v", p), idx: i}
				}
			}()
			values, err := m.extractChunk(ctx, tmpl, question, req.Schema, chunk)
			results <- chunkResult{values: values, err: err, idx: i}
		})
		if err != nil {
			results <- chunkResult{err: fmt.Errorf("submit: %w", err), idx: i}
		}
	}

	parsed := make([]map[string]string, len(req.Chunks))
	var lastErr error
	for range req.Chunks {
		r := <-results
		if req.Progress != nil {
			req.Progress(r.idx, r.err)
		}
		if r.err != nil {
			m.log.Warn("chunk skipped", "chunk", r.idx,
				"source", req.Chunks[r.idx].SourceID, "page", req.Chunks[r.idx].Page, "error", r.err)
			out.Skipped++
			lastErr = r.err
			continue
		}
		parsed[r.idx] = r.values
	}

	if err := ctx.Err(); err != nil {
		return out, err
	}
	if out.Skipped == len(req.Chunks) {
		return out, fmt.Errorf("%w (%d chunks): %w", ErrAllChunksFailed, len(req.Chunks), lastErr)
	}

	for i, values := range parsed {
		if values == nil {
			continue
		}
		res, ok := m.attribute(req.Schema, values, req.Chunks[i], findMatches)
		if !ok {
			out.Dropped++
			continue
		}
		out.Results = append(out.Results, res)
	}
	m.log.Info("extraction complete", "chunks", out.Chunks,
		"results", len(out.Results), "skipped", out.Skipped, "dropped", out.Dropped)
	return out, nil
}

func (m *ExtractionModel) extractChunk(ctx context.Context, tmpl *Template, question string, schema Schema, chunk corpus.SourceChunk) (map[string]string, error) {
	prompt, err := tmpl.Format(map[string]string{"context": chunk.Content, "question": question})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
	defer cancel()
	raw, err := m.llm.Complete(ctx, []llm.Message{llm.User(prompt)})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("completion timed out after %s: %w", m.opts.CallTimeout, err)
		}
		return nil, fmt.Errorf("%w: completion: %w", ErrUpstream, err)
	}
	return schema.Parse(raw)
}

// attribute keeps each non-empty value that can be located in the chunk.
func (m *ExtractionModel) attribute(schema Schema, values map[string]string, chunk corpus.SourceChunk, findMatches bool) (ExtractionResult, bool) {
	res := ExtractionResult{
		PageID:   chunk.Page,
		SourceID: chunk.SourceID,
		Entities: make(map[string]string),
		Spans:    make(map[string]match.Span),
	}
	for _, f := range schema.Fields {
		v := values[f.Name]
		if v == "" {
			continue
		}
		span := match.NoMatch
		if findMatches {
			span = match.FindMatch(v, chunk.Content)
			if !span.Found() {
				m.log.Debug("value not found in chunk", "field", f.Name,
					"source", chunk.SourceID, "page", chunk.Page)
				continue
			}
		}
		res.Entities[f.Name] = v
		res.Spans[f.Name] = span
		res.Fields = append(res.Fields, f.Name)
	}
	return res, len(res.Fields) > 0
}
