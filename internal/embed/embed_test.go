package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbeddings answers every request with one vector per input, listed in
// reverse order; the vector for input "tN" is [N+1, 1].
func fakeEmbeddings(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var data []string
		for i := len(req.Input) - 1; i >= 0; i-- {
			var n int
			fmt.Sscanf(req.Input[i], "t%d", &n)
			data = append(data, fmt.Sprintf(`{"object":"embedding","index":%d,"embedding":[%d,1]}`, i, n+1))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"object":"list","model":%q,"data":[%s]}`, req.Model, strings.Join(data, ","))
	}))
}

func TestOpenAIEmbedder_EmbedNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[3,4]}]}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder("k", "", srv.URL)
	require.NoError(t, err)

	v, err := e.Embed(context.Background(), "revenue")
	require.NoError(t, err)
	require.Len(t, v, 2)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.Equal(t, "openai-text-embedding-3-small", e.ModelInfo())
}

func TestOpenAIEmbedder_EmptyText(t *testing.T) {
	e, err := NewOpenAIEmbedder("k", "m", "http://127.0.0.1:0")
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = e.EmbedBatch(context.Background(), []string{"a", ""})
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestOpenAIEmbedder_MissingKey(t *testing.T) {
	_, err := NewOpenAIEmbedder("", "m", "")
	assert.Error(t, err)
}

func TestOpenAIEmbedder_EmbedBatchOrder(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbeddings(t, &calls)
	defer srv.Close()

	e, err := NewOpenAIEmbedder("k", "m", srv.URL)
	require.NoError(t, err)

	texts := make([]string, batchSize*2+5)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	assert.Equal(t, int32(3), calls.Load())
	for i, v := range vecs {
		require.Len(t, v, 2, "vector %d", i)
		assert.InDelta(t, float64(i+1), float64(v[0]/v[1]), 1e-3, "vector %d", i)
	}
}

func TestNormalize(t *testing.T) {
	v := []float32{0, 0}
	Normalize(v)
	assert.Equal(t, []float32{0, 0}, v)

	v = []float32{2, 0, 0}
	Normalize(v)
	assert.Equal(t, []float32{1, 0, 0}, v)
}
