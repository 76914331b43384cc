package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/pdfgenie/internal/docqa"
	"github.com/dgallion1/pdfgenie/internal/export"
	"github.com/dgallion1/pdfgenie/internal/pipeline"
)

type extractRequest struct {
	Schema      docqa.Schema `json:"schema"`
	Source      string       `json:"source,omitempty"`
	K           int          `json:"k,omitempty"`
	FindMatches *bool        `json:"find_matches,omitempty"`
}

func (r extractRequest) selection() docqa.Selection {
	return docqa.Selection{SourceID: r.Source, K: r.K}
}

func (s *Server) decodeExtractRequest(w http.ResponseWriter, r *http.Request) (extractRequest, bool) {
	var req extractRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return req, false
	}
	if err := s.checkExtraction(req.Schema, req.selection()); err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return req, false
	}
	return req, true
}

// checkExtraction rejects a request before any model call is made.
func (s *Server) checkExtraction(schema docqa.Schema, sel docqa.Selection) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	if sel.K < 0 {
		return fmt.Errorf("%w: k must not be negative", errBadRequest)
	}
	if sel.SourceID != "" && !s.deps.Corpus.HasSource(sel.SourceID) {
		return fmt.Errorf("%w: %s", pipeline.ErrUnknownSource, sel.SourceID)
	}
	return nil
}

func (s *Server) extract(ctx context.Context, schema docqa.Schema, sel docqa.Selection, findMatches *bool) (docqa.ExtractionOutput, error) {
	chunks, err := docqa.SelectChunks(ctx, s.deps.Searcher, s.deps.Corpus, schema, sel)
	if err != nil {
		return docqa.ExtractionOutput{}, err
	}
	return s.deps.Extractor.Run(ctx, docqa.ExtractionRequest{
		Schema:      schema,
		Chunks:      chunks,
		FindMatches: findMatches,
	})
}

// handleExtractQuery serves GET /extract?entity_json=... . The result is a
// CSV download unless format=json.
func (s *Server) handleExtractQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = "csv"
	}
	if !knownFormat(format) {
		jsonError(w, fmt.Sprintf("unknown format %q", format), http.StatusBadRequest)
		return
	}
	schema, err := docqa.ParseSchemaJSON([]byte(q.Get("entity_json")))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sel := docqa.Selection{SourceID: q.Get("source")}
	if v := q.Get("k"); v != "" {
		if sel.K, err = strconv.Atoi(v); err != nil {
			jsonError(w, "k must be an integer", http.StatusBadRequest)
			return
		}
	}
	if err := s.checkExtraction(schema, sel); err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	out, err := s.extract(r.Context(), schema, sel, nil)
	if err != nil {
		s.log.Error("extraction failed", "fields", schema.Names(), "error", err)
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	s.writeResults(w, format, schema, out)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if format := r.URL.Query().Get("format"); !knownFormat(format) {
		jsonError(w, fmt.Sprintf("unknown format %q", format), http.StatusBadRequest)
		return
	}
	req, ok := s.decodeExtractRequest(w, r)
	if !ok {
		return
	}
	out, err := s.extract(r.Context(), req.Schema, req.selection(), req.FindMatches)
	if err != nil {
		s.log.Error("extraction failed", "fields", req.Schema.Names(), "error", err)
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	s.writeResults(w, r.URL.Query().Get("format"), req.Schema, out)
}

func (s *Server) handleExtractJob(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeExtractRequest(w, r)
	if !ok {
		return
	}
	job := pipeline.NewExtractJob(req.Schema, req.selection(), req.FindMatches)
	if err := s.deps.Orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   job.ID,
		"status":   pipeline.StatusQueued,
		"poll_url": fmt.Sprintf("/api/extract/jobs/%s", job.ID),
	})
}

func (s *Server) extractJob(w http.ResponseWriter, r *http.Request) *pipeline.Job {
	job := s.deps.Orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil || job.Kind != pipeline.KindExtract {
		jsonError(w, "job not found", http.StatusNotFound)
		return nil
	}
	return job
}

func (s *Server) handleExtractJobStatus(w http.ResponseWriter, r *http.Request) {
	if job := s.extractJob(w, r); job != nil {
		writeJSON(w, http.StatusOK, job.Snapshot())
	}
}

func (s *Server) handleExtractJobResults(w http.ResponseWriter, r *http.Request) {
	job := s.extractJob(w, r)
	if job == nil {
		return
	}
	snap := job.Snapshot()
	if !snap.Status.Done() {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "job still running",
			"status": snap.Status,
		})
		return
	}
	if snap.Status == pipeline.StatusFailed {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "job failed",
			"errors": snap.Progress.Errors,
		})
		return
	}
	s.writeResults(w, r.URL.Query().Get("format"), job.Schema, docqa.ExtractionOutput{
		Results: job.Results(),
		Chunks:  snap.Progress.TotalChunks,
		Skipped: snap.Progress.ChunksSkipped,
	})
}

func (s *Server) writeResults(w http.ResponseWriter, format string, schema docqa.Schema, out docqa.ExtractionOutput) {
	switch format {
	case "", "json":
		if out.Results == nil {
			out.Results = []docqa.ExtractionResult{}
		}
		writeJSON(w, http.StatusOK, out)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="extraction.csv"`)
		if err := export.WriteCSV(w, schema, out.Results); err != nil {
			s.log.Error("csv export failed", "error", err)
		}
	default:
		jsonError(w, fmt.Sprintf("unknown format %q", format), http.StatusBadRequest)
	}
}

func knownFormat(format string) bool {
	return format == "" || format == "json" || format == "csv"
}
