package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/pdfgenie/internal/api"
	"github.com/dgallion1/pdfgenie/internal/cache"
	"github.com/dgallion1/pdfgenie/internal/chunker"
	"github.com/dgallion1/pdfgenie/internal/config"
	"github.com/dgallion1/pdfgenie/internal/corpus"
	"github.com/dgallion1/pdfgenie/internal/docqa"
	"github.com/dgallion1/pdfgenie/internal/index"
	"github.com/dgallion1/pdfgenie/internal/llm"
	"github.com/dgallion1/pdfgenie/internal/parser"
	"github.com/dgallion1/pdfgenie/internal/pipeline"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := config.LoadDotEnv(); err != nil {
		log.Error("load .env", "error", err)
		os.Exit(1)
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients.
	client, err := llm.New(cfg.LLMConfig(), llm.NewStats(15*time.Minute), log)
	if err != nil {
		log.Error("llm client", "error", err)
		os.Exit(1)
	}
	idx, err := index.New(cfg.IndexConfig())
	if err != nil {
		log.Error("index backend", "error", err)
		os.Exit(1)
	}
	splitter, err := chunker.NewRecursiveSplitter(cfg.ChunkConfig())
	if err != nil {
		log.Error("splitter", "error", err)
		os.Exit(1)
	}

	// Load documents and the index.
	if err := os.MkdirAll(cfg.DocsDir, 0o755); err != nil {
		log.Error("create docs dir", "dir", cfg.DocsDir, "error", err)
		os.Exit(1)
	}
	opts := parser.Options{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext}
	docs, err := parser.LoadDir(ctx, cfg.DocsDir, opts, log)
	if err != nil {
		log.Error("load documents", "dir", cfg.DocsDir, "error", err)
		os.Exit(1)
	}
	c := corpus.Load(docs, splitter)
	if _, err := index.OpenOrBuild(ctx, idx, cfg.IndexPath, c.Chunks(), log); err != nil {
		log.Error("open index", "path", cfg.IndexPath, "error", err)
		os.Exit(1)
	}

	extractor, err := docqa.NewExtractionModel(client, cfg.ExtractionOptions(), log)
	if err != nil {
		log.Error("extraction model", "error", err)
		os.Exit(1)
	}
	cacheCfg := cache.Config{TTL: cfg.QueryCacheTTL, DefaultK: cfg.TopK}
	qc, err := cache.Open(ctx, cfg.RedisURL, cacheCfg, log)
	if err != nil {
		log.Warn("query cache unavailable, continuing without it", "error", err)
		qc = cache.New(nil, cacheCfg, log)
	}

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(cfg, pipeline.Deps{
		Corpus:    c,
		Index:     idx,
		Extractor: extractor,
		Cache:     qc,
	}, log)
	for _, d := range docs {
		orch.RememberContent(d.Text(), d.Source)
	}
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(api.Deps{
		Orchestrator: orch,
		Corpus:       c,
		Searcher:     idx,
		Retriever:    docqa.NewRetrievalModel(idx, client, cfg.TopK, log),
		Extractor:    extractor,
		Evaluator:    docqa.NewEvaluator(client),
		Cache:        qc,
		LLM:          client,
	}, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // synchronous extraction over a large source is slow
		IdleTimeout:  60 * time.Second,
	}

	log.Info("starting pdfgenie",
		"port", cfg.Port,
		"provider", cfg.LLMProvider,
		"model", client.Model,
		"documents", len(docs),
		"chunks", c.Len(),
	)
	ln, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		log.Error("listen", "addr", httpServer.Addr, "error", err)
		os.Exit(1)
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	release := []func() error{
		func() error { extractor.Close(); return nil },
		qc.Close,
	}
	if err := serve(httpServer, ln, sigCh, orch.Stop, release, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// serve runs srv on ln until stop fires, then drains queued work, shuts srv
// down and runs release in order. It returns only after release has run.
func serve(srv *http.Server, ln net.Listener, stop <-chan os.Signal, drain func(), release []func() error, log *slog.Logger) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := <-stop; !ok {
			return
		}
		log.Info("shutting down...")

		drain()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}

		for _, fn := range release {
			if err := fn(); err != nil {
				log.Warn("release", "error", err)
			}
		}
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}
