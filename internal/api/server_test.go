package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/pdfgenie/internal/cache"
	"github.com/dgallion1/pdfgenie/internal/chunker"
	"github.com/dgallion1/pdfgenie/internal/config"
	"github.com/dgallion1/pdfgenie/internal/corpus"
	"github.com/dgallion1/pdfgenie/internal/docqa"
	"github.com/dgallion1/pdfgenie/internal/doctree"
	"github.com/dgallion1/pdfgenie/internal/index"
	"github.com/dgallion1/pdfgenie/internal/llm"
	"github.com/dgallion1/pdfgenie/internal/pipeline"
)

const acmeText = "Acme Corp reported revenue of $12 million."

// letterEmbedder embeds text as lowercase letter counts.
type letterEmbedder struct{}

func (letterEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 27)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	v[26] = 1
	return v, nil
}

func (e letterEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (letterEmbedder) ModelInfo() string { return "letters" }

func reply(s string) llm.CompleterFunc {
	return func(context.Context, []llm.Message) (string, error) { return s, nil }
}

type testServer struct {
	srv     *Server
	cfg     config.Config
	orch    *pipeline.Orchestrator
	acmeSrc string
}

type serverOptions struct {
	apiKey    string
	retrieval llm.Completer
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	cfg := config.Config{
		PDFGenieAPIKey: opts.apiKey,
		DocsDir:        filepath.Join(dir, "docs"),
		IndexPath:      filepath.Join(dir, "index", "index.gob"),
		WorkerCount:    1,
		MaxQueueSize:   8,
		MaxUploadBytes: 1 << 20,
		JobTTL:         time.Hour,
		CORSOrigins:    []string{"http://localhost:3000"},
	}

	acmeSrc := filepath.Join(cfg.DocsDir, "acme.pdf")
	require.NoError(t, os.MkdirAll(cfg.DocsDir, 0o755))
	require.NoError(t, os.WriteFile(acmeSrc, []byte("%PDF-1.4 acme"), 0o644))

	splitter, err := chunker.NewRecursiveSplitter(chunker.DefaultConfig())
	require.NoError(t, err)
	c := corpus.Load([]*doctree.DocTree{{
		Title:    "acme",
		Source:   acmeSrc,
		Children: []*doctree.DocNode{{Text: acmeText}},
	}}, splitter)
	idx := index.NewFlat(letterEmbedder{})
	require.NoError(t, idx.AddDocuments(context.Background(), c.Chunks()))

	if opts.retrieval == nil {
		opts.retrieval = reply("$12 million")
	}
	ext, err := docqa.NewExtractionModel(
		reply(`{"company": "Acme Corp", "revenue": "$12 million"}`),
		docqa.ExtractionOptions{MaxConcurrency: 2, CallTimeout: time.Second, FindMatches: true},
		log,
	)
	require.NoError(t, err)
	t.Cleanup(ext.Close)

	qc := cache.New(nil, cache.Config{}, log)
	orch := pipeline.NewOrchestrator(cfg, pipeline.Deps{Corpus: c, Index: idx, Extractor: ext, Cache: qc}, log)

	srv := NewServer(Deps{
		Orchestrator: orch,
		Corpus:       c,
		Searcher:     idx,
		Retriever:    docqa.NewRetrievalModel(idx, opts.retrieval, 5, log),
		Extractor:    ext,
		Evaluator:    docqa.NewEvaluator(reply("GRADE: CORRECT")),
		Cache:        qc,
		LLM:          &llm.Client{Model: "test-model", Stats: llm.NewStats(time.Hour)},
	}, log, cfg)
	return &testServer{srv: srv, cfg: cfg, orch: orch, acmeSrc: acmeSrc}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	return ts.do(t, httptest.NewRequest(http.MethodGet, path, nil))
}

func (ts *testServer) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return ts.do(t, req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func waitDone(t *testing.T, job *pipeline.Job) pipeline.JobSnapshot {
	t.Helper()
	require.Eventually(t, func() bool { return job.Snapshot().Status.Done() }, 5*time.Second, 10*time.Millisecond,
		"job %s did not finish", job.ID)
	return job.Snapshot()
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	rec := ts.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["chunks"])
}

func TestSearch(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	rec := ts.get(t, "/search?query="+url.QueryEscape("What was Acme's revenue?"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[searchResponse](t, rec)
	assert.Equal(t, "$12 million", res.Message)
	assert.Equal(t, res.Message, res.Answer)
	assert.Equal(t, ts.acmeSrc, res.Source)
	assert.Equal(t, 0, res.PageID)
	assert.Equal(t, [2]int{30, 41}, res.CharOffset)
	require.Len(t, res.Items, 1)
	assert.Equal(t, ts.acmeSrc, res.Items[0].Metadata.Source)
	assert.Equal(t, acmeText, res.Items[0].PageContent)
}

func TestSearch_Unattributed(t *testing.T) {
	ts := newTestServer(t, serverOptions{retrieval: reply("Nobody knows.")})
	res := decode[searchResponse](t, ts.get(t, "/search?query=who"))
	assert.Equal(t, -1, res.PageID)
	assert.Equal(t, [2]int{-1, -1}, res.CharOffset)
	assert.Empty(t, res.Source)
}

func TestSearch_Errors(t *testing.T) {
	failing := llm.CompleterFunc(func(context.Context, []llm.Message) (string, error) {
		return "", errors.New("connection refused")
	})
	ts := newTestServer(t, serverOptions{retrieval: failing})

	tests := []struct {
		path string
		code int
	}{
		{"/search", http.StatusBadRequest},
		{"/search?query=%20%20", http.StatusBadRequest},
		{"/search?query=revenue&k=abc", http.StatusBadRequest},
		{"/search?query=revenue", http.StatusBadGateway},
	}
	for _, tt := range tests {
		rec := ts.get(t, tt.path)
		assert.Equal(t, tt.code, rec.Code, "%s: %s", tt.path, rec.Body)
	}
}

const schemaJSON = `{"company": "the company name", "revenue": "annual revenue"}`

func TestExtractQuery_CSV(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	rec := ts.get(t, "/extract?entity_json="+url.QueryEscape(schemaJSON))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, "source,page_id,company,revenue\n"+ts.acmeSrc+",0,Acme Corp,$12 million\n", rec.Body.String())
}

func TestExtractQuery_JSON(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	q := url.Values{"entity_json": {schemaJSON}, "source": {ts.acmeSrc}, "k": {"2"}, "format": {"json"}}
	rec := ts.get(t, "/extract?"+q.Encode())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode[docqa.ExtractionOutput](t, rec)
	require.Len(t, out.Results, 1)
	r := out.Results[0]
	assert.Equal(t, "Acme Corp", r.Entities["company"])
	assert.Equal(t, 0, r.Spans["company"].Start)
	assert.Equal(t, 9, r.Spans["company"].End)
	assert.Equal(t, 30, r.Spans["revenue"].Start)
	assert.Equal(t, 41, r.Spans["revenue"].End)
}

func TestExtractQuery_Errors(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	tests := []struct {
		name string
		q    url.Values
		code int
	}{
		{"missing schema", url.Values{}, http.StatusBadRequest},
		{"empty schema", url.Values{"entity_json": {"{}"}}, http.StatusBadRequest},
		{"not an object", url.Values{"entity_json": {`["company"]`}}, http.StatusBadRequest},
		{"bad k", url.Values{"entity_json": {schemaJSON}, "k": {"x"}}, http.StatusBadRequest},
		{"unknown source", url.Values{"entity_json": {schemaJSON}, "source": {"missing.pdf"}}, http.StatusNotFound},
		{"unknown format", url.Values{"entity_json": {schemaJSON}, "format": {"xml"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := ts.get(t, "/extract?"+tt.q.Encode())
		assert.Equal(t, tt.code, rec.Code, "%s: %s", tt.name, rec.Body)
	}
}

func TestExtract_Post(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	rec := ts.postJSON(t, "/api/extract", map[string]any{
		"schema":       json.RawMessage(schemaJSON),
		"find_matches": false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode[docqa.ExtractionOutput](t, rec)
	require.Len(t, out.Results, 1)
	assert.Equal(t, 1, out.Chunks)
	for field, span := range out.Results[0].Spans {
		assert.False(t, span.Found(), "no span expected for %s with find_matches off", field)
	}

	bad := ts.postJSON(t, "/api/extract", map[string]any{"schema": map[string]string{"bad name": "x"}})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestExtractJob(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	ts.orch.Start(context.Background())
	defer ts.orch.Stop()

	rec := ts.postJSON(t, "/api/extract/jobs", map[string]any{"schema": json.RawMessage(schemaJSON)})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	jobID, _ := decode[map[string]any](t, rec)["job_id"].(string)
	job := ts.orch.GetJob(jobID)
	require.NotNil(t, job, "job %q not registered", jobID)

	snap := waitDone(t, job)
	require.Equal(t, pipeline.StatusCompleted, snap.Status, "errors %v", snap.Progress.Errors)

	status := decode[pipeline.JobSnapshot](t, ts.get(t, "/api/extract/jobs/"+jobID))
	assert.Equal(t, 1, status.Progress.Results)
	assert.Equal(t, pipeline.KindExtract, status.Kind)

	csv := ts.get(t, "/api/extract/jobs/"+jobID+"/results?format=csv")
	assert.True(t, strings.HasPrefix(csv.Body.String(), "source,page_id,company,revenue\n"), csv.Body.String())

	assert.Equal(t, http.StatusNotFound, ts.get(t, "/api/extract/jobs/nope").Code)
}

func TestExtractJobResults_NotDone(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	// Workers are not started, so the job stays queued.
	rec := ts.postJSON(t, "/api/extract/jobs", map[string]any{"schema": json.RawMessage(schemaJSON)})
	jobID, _ := decode[map[string]any](t, rec)["job_id"].(string)

	assert.Equal(t, http.StatusConflict, ts.get(t, "/api/extract/jobs/"+jobID+"/results").Code)
}

func multipartUpload(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	io.WriteString(fw, content)
	mw.WriteField("title", "Notes")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestIngest(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	ts.orch.Start(context.Background())
	defer ts.orch.Stop()

	rec := ts.do(t, multipartUpload(t, "notes.txt", "Globex posted revenue of $7 million.\n"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	jobID, _ := decode[map[string]any](t, rec)["job_id"].(string)
	job := ts.orch.GetJob(jobID)
	require.NotNil(t, job)

	snap := waitDone(t, job)
	require.Equal(t, pipeline.StatusCompleted, snap.Status, "errors %v", snap.Progress.Errors)

	status := decode[map[string]any](t, ts.get(t, "/api/ingest/"+jobID+"/status"))
	assert.Equal(t, filepath.Join(ts.cfg.DocsDir, "notes.txt"), status["source"])

	docs := decode[map[string][]corpus.SourceInfo](t, ts.get(t, "/api/documents"))["documents"]
	require.Len(t, docs, 2)
	assert.Equal(t, "Notes", docs[1].Title)
}

func TestIngest_Rejects(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	assert.Equal(t, http.StatusBadRequest, ts.do(t, multipartUpload(t, "virus.exe", "MZ")).Code)

	big := strings.Repeat("a", int(ts.cfg.MaxUploadBytes)+1)
	assert.Equal(t, http.StatusRequestEntityTooLarge, ts.do(t, multipartUpload(t, "big.txt", big)).Code)

	assert.Equal(t, http.StatusNotFound, ts.get(t, "/api/ingest/unknown/status").Code)
}

func TestPDF(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec := ts.get(t, "/pdf?url="+url.QueryEscape(ts.acmeSrc))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "%PDF-1.4 acme", rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment;filename="acme.pdf"`, rec.Header().Get("Content-Disposition"))

	assert.Equal(t, http.StatusOK, ts.get(t, "/pdf?url=acme.pdf").Code, "bare file name should resolve")

	tests := []struct {
		raw  string
		code int
	}{
		{"", http.StatusBadRequest},
		{"../../etc/passwd", http.StatusForbidden},
		{"/etc/passwd", http.StatusForbidden},
		{"missing.pdf", http.StatusNotFound},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, ts.get(t, "/pdf?url="+url.QueryEscape(tt.raw)).Code, tt.raw)
	}
}

func TestEvaluate(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	rec := ts.postJSON(t, "/api/evaluate", docqa.EvalInput{
		Query:   "What was Acme's revenue?",
		Context: acmeText,
		Result:  "$12 million",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, docqa.GradeCorrect, decode[docqa.Evaluation](t, rec).Grade)

	bad := ts.postJSON(t, "/api/evaluate", map[string]string{"query": "q"})
	assert.Equal(t, http.StatusBadRequest, bad.Code, "result is required")
}

func TestLLMStats(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	body := decode[map[string]any](t, ts.get(t, "/api/stats/llm"))
	assert.Equal(t, "test-model", body["model"])
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, serverOptions{apiKey: "secret"})

	assert.Equal(t, http.StatusUnauthorized, ts.get(t, "/api/documents").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, ts.do(t, req).Code)

	// Web client endpoints stay open.
	assert.Equal(t, http.StatusOK, ts.get(t, "/search?query=revenue").Code)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	req := httptest.NewRequest(http.MethodOptions, "/search", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	assert.Equal(t, "http://localhost:3000", ts.do(t, req).Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.test")
	assert.Empty(t, ts.do(t, req).Header().Get("Access-Control-Allow-Origin"))
}
