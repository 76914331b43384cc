package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgallion1/pdfgenie/internal/chunker"
	"github.com/dgallion1/pdfgenie/internal/config"
	"github.com/dgallion1/pdfgenie/internal/corpus"
	"github.com/dgallion1/pdfgenie/internal/index"
	"github.com/dgallion1/pdfgenie/internal/llm"
	"github.com/dgallion1/pdfgenie/internal/parser"
)

var (
	envFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "pdfgenie",
	Short: "Question answering and extraction over your documents",
	Long: `pdfgenie indexes a directory of PDFs and other documents, answers
questions about them and extracts structured fields, pointing every answer
back to the page and character span it came from.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline progress to stderr")
}

// app is everything a command needs to query the corpus.
type app struct {
	cfg       config.Config
	corpus    *corpus.Corpus
	index     index.Index
	completer llm.Completer
	log       *slog.Logger
	// built reports whether the index was embedded on this run rather than
	// loaded from disk.
	built bool
}

type appOptions struct {
	// rebuild discards a saved index.
	rebuild bool
	// noLLM skips building the completion client.
	noLLM bool
}

// loadApp is replaced in tests.
var loadApp = openApp

func openApp(ctx context.Context, log *slog.Logger, opts appOptions) (*app, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	if !opts.noLLM {
		client, err := llm.New(cfg.LLMConfig(), nil, log)
		if err != nil {
			return nil, err
		}
		a.completer = client
	}

	idx, err := index.New(cfg.IndexConfig())
	if err != nil {
		return nil, err
	}
	splitter, err := chunker.NewRecursiveSplitter(cfg.ChunkConfig())
	if err != nil {
		return nil, err
	}
	docs, err := parser.LoadDir(ctx, cfg.DocsDir, parser.Options{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext}, log)
	if err != nil {
		return nil, err
	}
	a.corpus = corpus.Load(docs, splitter)

	if opts.rebuild {
		if err := os.Remove(cfg.IndexPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove index: %w", err)
		}
	}
	a.built, err = index.OpenOrBuild(ctx, idx, cfg.IndexPath, a.corpus.Chunks(), log)
	if err != nil {
		return nil, err
	}
	a.index = idx
	return a, nil
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
