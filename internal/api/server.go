package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dgallion1/pdfgenie/internal/cache"
	"github.com/dgallion1/pdfgenie/internal/config"
	"github.com/dgallion1/pdfgenie/internal/corpus"
	"github.com/dgallion1/pdfgenie/internal/docqa"
	"github.com/dgallion1/pdfgenie/internal/llm"
	"github.com/dgallion1/pdfgenie/internal/pipeline"
)

// Deps are the components the handlers call into.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Corpus       *corpus.Corpus
	Searcher     docqa.Searcher
	Retriever    docqa.DocQAModel[docqa.Query, docqa.RetrievalResult]
	Extractor    *docqa.ExtractionModel
	Evaluator    *docqa.Evaluator
	// Cache may be disabled but must not be nil.
	Cache *cache.QueryCache
	// LLM is optional; without it /api/stats/llm reports unavailable.
	LLM *llm.Client
}

// Server is the HTTP API server for pdfgenie.
type Server struct {
	router chi.Router
	deps   Deps
	log    *slog.Logger
	cfg    config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(deps Deps, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		deps: deps,
		log:  log,
		cfg:  cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Endpoints used by the web client.
	r.Get("/health", s.handleHealth)
	r.Get("/search", s.handleSearch)
	r.Get("/extract", s.handleExtractQuery)
	r.Get("/pdf", s.handlePDF)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.PDFGenieAPIKey, s.log))

		r.Post("/api/extract", s.handleExtract)
		r.Post("/api/extract/jobs", s.handleExtractJob)
		r.Get("/api/extract/jobs/{jobID}", s.handleExtractJobStatus)
		r.Get("/api/extract/jobs/{jobID}/results", s.handleExtractJobResults)

		r.Post("/api/ingest", s.handleIngest)
		r.Post("/api/ingest/batch", s.handleBatchIngest)
		r.Get("/api/ingest/{jobID}/status", s.handleIngestStatus)

		r.Post("/api/evaluate", s.handleEvaluate)
		r.Get("/api/documents", s.handleListDocuments)
		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"chunks":      s.deps.Corpus.Len(),
		"queue_depth": s.deps.Orchestrator.QueueDepth(),
	})
}
