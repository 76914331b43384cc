package docqa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgallion1/pdfgenie/internal/corpus"
	"github.com/dgallion1/pdfgenie/internal/llm"
	"github.com/dgallion1/pdfgenie/internal/match"
)

// DefaultK is the number of chunks retrieved per question.
const DefaultK = 5

// RetrievalStage marks progress through a single question.
type RetrievalStage string

const (
	StageQuestionReceived  RetrievalStage = "QUESTION_RECEIVED"
	StageChunksRetrieved   RetrievalStage = "CHUNKS_RETRIEVED"
	StageAnswerSynthesized RetrievalStage = "ANSWER_SYNTHESIZED"
	StageAnswerAttributed  RetrievalStage = "ANSWER_ATTRIBUTED"
)

// Query is a question plus how many chunks to consult. K <= 0 uses the
// model's default.
type Query struct {
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
}

// RetrievalResult is an answer with its provenance. An answer that could not
// be attributed has an empty SourceID, PageID -1 and Span match.NoMatch.
type RetrievalResult struct {
	Answer     string               `json:"answer"`
	Context    string               `json:"context"`
	SourceID   string               `json:"source"`
	PageID     int                  `json:"page_id"`
	Span       match.Span           `json:"span"`
	SourceDocs []corpus.SourceChunk `json:"source_docs"`
}

// Attributed reports whether the answer was located in a retrieved chunk.
func (r RetrievalResult) Attributed() bool {
	return r.Span.Found()
}

// RetrievalModel answers a question from the top-k similar chunks and
// locates the answer in one of them.
type RetrievalModel struct {
	searcher Searcher
	llm      llm.Completer
	k        int
	prompt   *Template
	log      *slog.Logger
}

// NewRetrievalModel returns a retrieval model. k <= 0 means DefaultK.
func NewRetrievalModel(s Searcher, c llm.Completer, k int, log *slog.Logger) *RetrievalModel {
	if k <= 0 {
		k = DefaultK
	}
	return &RetrievalModel{
		searcher: s,
		llm:      c,
		k:        k,
		prompt:   NewTemplate(SearchPrompt),
		log:      log,
	}
}

// Prompt returns the question-answering prompt.
func (m *RetrievalModel) Prompt() *Template { return m.prompt }

// Run retrieves, answers and attributes q. Index and completion failures are
// returned wrapped in ErrUpstream; a failed attribution is not an error.
func (m *RetrievalModel) Run(ctx context.Context, q Query) (RetrievalResult, error) {
	question := strings.TrimSpace(q.Question)
	if question == "" {
		return RetrievalResult{}, ErrEmptyQuestion
	}
	k := q.K
	if k <= 0 {
		k = m.k
	}
	log := m.log.With("k", k)
	log.Debug("retrieval stage", "stage", StageQuestionReceived)

	docs, err := m.searcher.SimilaritySearch(ctx, question, k)
	if err != nil {
		return RetrievalResult{}, fmt.Errorf("%w: similarity search: %w", ErrUpstream, err)
	}
	log.Info("retrieval stage", "stage", StageChunksRetrieved, "chunks", len(docs))

	contextText := stuff(docs)
	prompt, err := m.prompt.Format(map[string]string{"context": contextText, "question": question})
	if err != nil {
		return RetrievalResult{}, err
	}
	raw, err := m.llm.Complete(ctx, []llm.Message{llm.User(prompt)})
	if err != nil {
		return RetrievalResult{}, fmt.Errorf("%w: completion: %w", ErrUpstream, err)
	}
	answer := strings.TrimSpace(raw)
	log.Info("retrieval stage", "stage", StageAnswerSynthesized, "answer_len", len(answer))

	res := attribute(answer, docs)
	res.Context = contextText
	if res.Attributed() {
		log.Info("retrieval stage", "stage", StageAnswerAttributed,
			"source", res.SourceID, "page", res.PageID, "start", res.Span.Start, "end", res.Span.End)
	} else {
		log.Warn("answer not found in retrieved chunks", "chunks", len(docs))
	}
	return res, nil
}

// attribute locates answer in the first matching chunk, in rank order.
func attribute(answer string, docs []corpus.SourceChunk) RetrievalResult {
	for _, d := range docs {
		if span := match.FindMatch(answer, d.Content); span.Found() {
			return RetrievalResult{
				Answer:     answer,
				SourceID:   d.SourceID,
				PageID:     d.Page,
				Span:       span,
				SourceDocs: docs,
			}
		}
	}
	return RetrievalResult{
		Answer:     answer,
		PageID:     -1,
		Span:       match.NoMatch,
		SourceDocs: docs,
	}
}

// stuff concatenates chunk contents into a single context.
func stuff(docs []corpus.SourceChunk) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.Content
	}
	return strings.Join(parts, "\n\n")
}
