package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dgallion1/pdfgenie/internal/corpus"
	"github.com/dgallion1/pdfgenie/internal/docqa"
	"github.com/dgallion1/pdfgenie/internal/pipeline"
)

type itemMetadata struct {
	Source string `json:"source"`
	Page   int    `json:"page"`
}

// searchItem is a retrieved chunk in the document shape the web client reads.
type searchItem struct {
	PageContent string       `json:"page_content"`
	Metadata    itemMetadata `json:"metadata"`
}

type searchResponse struct {
	Message    string       `json:"message"`
	Answer     string       `json:"answer"`
	PageID     int          `json:"page_id"`
	Source     string       `json:"source"`
	CharOffset [2]int       `json:"char_offset"`
	Items      []searchItem `json:"items"`
	Cached     bool         `json:"cached"`
}

func newSearchResponse(res docqa.RetrievalResult, cached bool) searchResponse {
	items := make([]searchItem, len(res.SourceDocs))
	for i, d := range res.SourceDocs {
		items[i] = toItem(d)
	}
	return searchResponse{
		Message:    res.Answer,
		Answer:     res.Answer,
		PageID:     res.PageID,
		Source:     res.SourceID,
		CharOffset: res.Span.Pair(),
		Items:      items,
		Cached:     cached,
	}
}

func toItem(c corpus.SourceChunk) searchItem {
	return searchItem{PageContent: c.Content, Metadata: itemMetadata{Source: c.SourceID, Page: c.Page}}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := docqa.Query{Question: r.URL.Query().Get("query")}
	if v := r.URL.Query().Get("k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil || k < 0 {
			jsonError(w, "k must be a non-negative integer", http.StatusBadRequest)
			return
		}
		q.K = k
	}

	res, cached, err := s.deps.Cache.Ask(r.Context(), s.deps.Retriever, q)
	if err != nil {
		s.log.Error("search failed", "error", err)
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, newSearchResponse(res, cached))
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var in docqa.EvalInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if in.Query == "" || in.Result == "" {
		jsonError(w, "query and result are required", http.StatusBadRequest)
		return
	}

	ev, err := s.deps.Evaluator.Run(r.Context(), in)
	if err != nil {
		s.log.Error("evaluation failed", "error", err)
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

var errBadRequest = errors.New("bad request")

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, docqa.ErrEmptyQuestion), errors.Is(err, docqa.ErrInvalidSchema):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrUnknownSource):
		return http.StatusNotFound
	case errors.Is(err, docqa.ErrAllChunksFailed), errors.Is(err, docqa.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
