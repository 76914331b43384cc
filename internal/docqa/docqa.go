// Package docqa answers questions over a document corpus and extracts
// structured fields from it. Every answer and field value is attributed back
// to a span of the chunk it came from.
package docqa

import (
	"context"
	"errors"

	"github.com/dgallion1/pdfgenie/internal/corpus"
)

var (
	// ErrUpstream wraps failures of the similarity index or the completion
	// service.
	ErrUpstream = errors.New("upstream unavailable")

	// ErrInvalidSchema is returned for a schema that cannot drive extraction.
	ErrInvalidSchema = errors.New("invalid extraction schema")

	// ErrAllChunksFailed is returned when no chunk of a non-empty batch
	// produced a usable completion.
	ErrAllChunksFailed = errors.New("every chunk in the batch failed")

	// ErrMalformedOutput is returned when a completion cannot be parsed.
	ErrMalformedOutput = errors.New("malformed model output")

	// ErrEmptyQuestion is returned by RetrievalModel.Run for a blank question.
	ErrEmptyQuestion = errors.New("question is empty")
)

// DocQAModel is a prompt-driven pipeline over documents.
type DocQAModel[In, Out any] interface {
	Prompt() *Template
	Run(ctx context.Context, in In) (Out, error)
}

// Searcher ranks chunks by similarity to a query. index.Index satisfies it.
type Searcher interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]corpus.SourceChunk, error)
}

var (
	_ DocQAModel[Query, RetrievalResult]              = (*RetrievalModel)(nil)
	_ DocQAModel[ExtractionRequest, ExtractionOutput] = (*ExtractionModel)(nil)
	_ DocQAModel[EvalInput, Evaluation]               = (*Evaluator)(nil)
)
