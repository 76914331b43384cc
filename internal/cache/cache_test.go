package cache

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/pdfgenie/internal/corpus"
	"github.com/dgallion1/pdfgenie/internal/docqa"
	"github.com/dgallion1/pdfgenie/internal/match"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestRedis connects to a local Redis test database, skipping the test
// when none is running.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("redis not available, skipping")
	}
	client.FlushDB(ctx)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// countingModel answers every query the same way and counts calls.
type countingModel struct {
	calls atomic.Int32
	res   docqa.RetrievalResult
}

func (m *countingModel) Prompt() *docqa.Template { return docqa.NewTemplate(docqa.SearchPrompt) }

func (m *countingModel) Run(ctx context.Context, q docqa.Query) (docqa.RetrievalResult, error) {
	m.calls.Add(1)
	return m.res, nil
}

var revenueResult = docqa.RetrievalResult{
	Answer:   "$5 million",
	Context:  "Revenue was $5 million in Q1.",
	SourceID: "10k.pdf",
	PageID:   3,
	Span:     match.Span{Start: 12, End: 22},
	SourceDocs: []corpus.SourceChunk{
		{Content: "Revenue was $5 million in Q1.", SourceID: "10k.pdf", Page: 3},
	},
}

func TestQueryCache_DisabledNeverHits(t *testing.T) {
	c := New(nil, Config{Enabled: true}, discardLogger())
	m := &countingModel{res: revenueResult}

	for range 3 {
		res, hit, err := c.Ask(context.Background(), m, docqa.Query{Question: "What was revenue?"})
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, revenueResult, res)
	}
	assert.Equal(t, int32(3), m.calls.Load())

	n, err := c.Clear(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, c.Close())
}

func TestOpen_EmptyURLDisables(t *testing.T) {
	c, err := Open(context.Background(), "", Config{TTL: time.Minute}, discardLogger())
	require.NoError(t, err)
	assert.False(t, c.enabled())
}

func TestOpen_BadURL(t *testing.T) {
	_, err := Open(context.Background(), "not a url", Config{TTL: time.Minute}, discardLogger())
	assert.Error(t, err)
}

func TestQueryCache_KeyDependsOnK(t *testing.T) {
	c := New(nil, DefaultConfig(), discardLogger())
	assert.Equal(t, c.key("q", 5), c.key("q", 5))
	assert.NotEqual(t, c.key("q", 5), c.key("q", 3))
	assert.NotEqual(t, c.key("q", 5), c.key("Q", 5))
	assert.Contains(t, c.key("q", 5), "pdfgenie:query:")
}

func TestQueryCache_KeyNormalizesLikeRetrieval(t *testing.T) {
	c := New(nil, DefaultConfig(), discardLogger())
	assert.Equal(t, c.key("What was revenue?", docqa.DefaultK), c.key("  What was revenue?\n", 0))
	assert.Equal(t, c.key("q", docqa.DefaultK), c.key("q", -1))

	custom := New(nil, Config{DefaultK: 8}, discardLogger())
	assert.Equal(t, custom.key("q", 8), custom.key(" q", 0))
	assert.NotEqual(t, custom.key("q", docqa.DefaultK), custom.key("q", 0))
}

func TestOpen_EmptyURLKeepsDefaultK(t *testing.T) {
	c, err := Open(context.Background(), "", Config{TTL: time.Minute, DefaultK: 7}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 7, c.cfg.DefaultK)
	assert.Equal(t, c.key("q", 7), c.key("q", 0))
}

func TestQueryCache_AskSharesEntryAcrossSpellings(t *testing.T) {
	client := setupTestRedis(t)
	c := New(client, Config{Enabled: true, TTL: time.Minute, KeyPrefix: "test:pdfgenie:"}, discardLogger())
	m := &countingModel{res: revenueResult}

	_, hit, err := c.Ask(context.Background(), m, docqa.Query{Question: "What was revenue?", K: docqa.DefaultK})
	require.NoError(t, err)
	assert.False(t, hit)

	_, hit, err = c.Ask(context.Background(), m, docqa.Query{Question: " What was revenue? "})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int32(1), m.calls.Load())
}

func TestQueryCache_AskCachesResult(t *testing.T) {
	client := setupTestRedis(t)
	c := New(client, Config{Enabled: true, TTL: time.Minute, KeyPrefix: "test:pdfgenie:"}, discardLogger())
	m := &countingModel{res: revenueResult}
	q := docqa.Query{Question: "What was revenue?", K: 5}

	res, hit, err := c.Ask(context.Background(), m, q)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, revenueResult, res)

	res, hit, err = c.Ask(context.Background(), m, q)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, revenueResult, res)
	assert.Equal(t, int32(1), m.calls.Load())

	n, err := c.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, hit, err = c.Ask(context.Background(), m, q)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int32(2), m.calls.Load())
}

func TestQueryCache_CorruptEntryIsDropped(t *testing.T) {
	client := setupTestRedis(t)
	c := New(client, Config{Enabled: true, TTL: time.Minute, KeyPrefix: "test:pdfgenie:"}, discardLogger())
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, c.key("q", 5), "{not json", time.Minute).Err())
	_, err := c.Get(ctx, "q", 5)
	assert.Error(t, err)

	res, err := c.Get(ctx, "q", 5)
	require.NoError(t, err)
	assert.Nil(t, res)
}
