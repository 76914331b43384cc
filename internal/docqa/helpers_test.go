package docqa

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/dgallion1/pdfgenie/internal/corpus"
	"github.com/dgallion1/pdfgenie/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type searcherFunc func(ctx context.Context, query string, k int) ([]corpus.SourceChunk, error)

func (f searcherFunc) SimilaritySearch(ctx context.Context, query string, k int) ([]corpus.SourceChunk, error) {
	return f(ctx, query, k)
}

func staticSearcher(chunks ...corpus.SourceChunk) searcherFunc {
	return func(ctx context.Context, query string, k int) ([]corpus.SourceChunk, error) {
		if k < len(chunks) {
			return chunks[:k], nil
		}
		return chunks, nil
	}
}

// replyFromContext builds a completer whose reply depends only on the
// context section of the prompt.
func replyFromContext(reply func(context string) (string, error)) llm.CompleterFunc {
	return func(ctx context.Context, msgs []llm.Message) (string, error) {
		return reply(promptContext(msgs[len(msgs)-1].Content))
	}
}

func promptContext(prompt string) string {
	_, rest, _ := strings.Cut(prompt, "Context:\n")
	body, _, _ := strings.Cut(rest, "\nQuestion:")
	return body
}

func chunk(source string, page int, content string) corpus.SourceChunk {
	return corpus.SourceChunk{Content: content, SourceID: source, Page: page}
}
