package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dgallion1/pdfgenie/internal/docqa"
	"github.com/dgallion1/pdfgenie/internal/parser"
)

// ErrUnknownSource is recorded when an extraction names a document that is
// not loaded.
var ErrUnknownSource = errors.New("unknown source")

// Worker processes jobs pulled from the orchestrator queue.
type Worker struct {
	o   *Orchestrator
	log *slog.Logger
}

func NewWorker(o *Orchestrator, log *slog.Logger) *Worker {
	return &Worker{o: o, log: log}
}

// Process runs a job to completion. The final state is recorded on the job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	switch job.Kind {
	case KindIngest:
		w.ingest(ctx, job)
	case KindExtract:
		w.extract(ctx, job)
	default:
		job.AddError(fmt.Sprintf("unknown job kind %q", job.Kind))
		job.SetStatus(StatusFailed, "queued")
	}
}

func (w *Worker) fail(job *Job, phase string, err error) {
	w.log.Error("job failed", "job_id", job.ID, "phase", phase, "error", err)
	job.AddError(fmt.Sprintf("%s: %s", phase, err))
	job.SetStatus(StatusFailed, phase)
}

// ingest parses an uploaded file, stores it under the docs directory, adds
// its chunks to the corpus and the index, and saves the index.
func (w *Worker) ingest(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "filename", job.Filename)

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	p, err := parser.ForFile(job.Filename, parser.Options{PDFFallbackPdftotext: w.o.cfg.PDFFallbackPdftotext})
	if err != nil {
		w.fail(job, "parsing", err)
		return
	}
	tree, err := p.Parse(bytes.NewReader(job.FileData()), job.Filename)
	if err != nil {
		w.fail(job, "parsing", err)
		return
	}
	if job.Title != "" {
		tree.Title = job.Title
	}

	// Dedup on parsed text so re-encoded copies of a file are caught too.
	job.ContentHash = ContentHashHex([]byte(tree.Text()))
	dest, err := w.destination(job)
	if err != nil {
		w.fail(job, "parsing", err)
		return
	}
	if existing, dup := w.o.hashes.add(job.ContentHash, dest); dup {
		log.Info("duplicate document, skipping", "existing_source", existing)
		job.SetSource(existing)
		job.SetStatus(StatusDupSkipped, "dedup")
		return
	}
	// Until the chunks are indexed, a failure must leave no trace so the same
	// document can be ingested again.
	stored := false
	abort := func(phase string, err error) {
		w.o.hashes.remove(job.ContentHash)
		if stored {
			if rmErr := os.Remove(dest); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Warn("remove stored upload", "path", dest, "error", rmErr)
			}
		}
		w.fail(job, phase, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		abort("parsing", fmt.Errorf("create docs dir: %w", err))
		return
	}
	if err := os.WriteFile(dest, job.FileData(), 0o644); err != nil {
		abort("parsing", fmt.Errorf("store upload: %w", err))
		return
	}
	stored = true
	tree.Source = dest
	job.SetSource(dest)

	// Phase 2: Chunk
	job.SetStatus(StatusChunking, "chunking")
	doc := w.o.deps.Corpus.Split(tree)
	job.SetTotalChunks(len(doc.Chunks))
	log.Info("chunked document", "source", dest, "chunks", len(doc.Chunks))
	if len(doc.Chunks) == 0 {
		abort("chunking", errors.New("no extractable content"))
		return
	}

	// Phase 3: Index. The corpus only sees the chunks once the index holds
	// them, so retrieval and extraction never disagree about a source.
	job.SetStatus(StatusIndexing, "indexing")
	w.o.indexMu.Lock()
	if err := w.o.deps.Index.AddDocuments(ctx, doc.Chunks); err != nil {
		w.o.indexMu.Unlock()
		abort("indexing", err)
		return
	}
	w.o.deps.Corpus.Commit(doc)
	saveErr := w.o.deps.Index.Save(w.o.cfg.IndexPath)
	w.o.indexMu.Unlock()
	// The bytes live on disk now.
	job.SetFileData(nil)
	if saveErr != nil {
		// The chunks are searchable in memory; the next successful save
		// persists them.
		log.Error("save index", "path", w.o.cfg.IndexPath, "error", saveErr)
		job.AddError(fmt.Sprintf("indexing: index not saved: %s", saveErr))
	}
	for range doc.Chunks {
		job.IncrChunksProcessed(false)
	}

	if w.o.deps.Cache != nil {
		if n, err := w.o.deps.Cache.Clear(ctx); err != nil {
			log.Warn("query cache clear failed", "error", err)
		} else if n > 0 {
			log.Info("cleared query cache", "entries", n)
		}
	}

	log.Info("ingest complete", "source", dest, "index_size", w.o.deps.Index.Len())
	job.SetStatus(StatusCompleted, "done")
}

// destination picks where an upload is stored. Only the base name is kept;
// a name already taken is prefixed with the job ID.
func (w *Worker) destination(job *Job) (string, error) {
	name := filepath.Base(job.Filename)
	if name == "." || name == string(filepath.Separator) || name == ".." {
		return "", fmt.Errorf("invalid filename %q", job.Filename)
	}
	dest := filepath.Join(w.o.cfg.DocsDir, name)
	if _, err := os.Stat(dest); err == nil {
		dest = filepath.Join(w.o.cfg.DocsDir, job.ID+"_"+name)
	}
	return dest, nil
}

// extract selects the chunks for the job's schema and runs the batch.
func (w *Worker) extract(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "source", job.Selection.SourceID, "fields", job.Schema.Names())

	job.SetStatus(StatusSelecting, "selecting")
	sel := job.Selection
	if sel.SourceID != "" && !w.o.deps.Corpus.HasSource(sel.SourceID) {
		w.fail(job, "selecting", fmt.Errorf("%w: %s", ErrUnknownSource, sel.SourceID))
		return
	}
	chunks, err := docqa.SelectChunks(ctx, w.o.deps.Index, w.o.deps.Corpus, job.Schema, sel)
	if err != nil {
		w.fail(job, "selecting", err)
		return
	}
	job.SetTotalChunks(len(chunks))
	log.Info("selected chunks", "chunks", len(chunks))

	job.SetStatus(StatusExtracting, "extracting")
	out, err := w.o.deps.Extractor.Run(ctx, docqa.ExtractionRequest{
		Schema:      job.Schema,
		Chunks:      chunks,
		FindMatches: job.FindMatches,
		Progress: func(idx int, err error) {
			job.IncrChunksProcessed(err != nil)
			if err != nil {
				job.AddError(fmt.Sprintf("chunk %d: %s", idx, err))
			}
		},
	})
	if err != nil {
		w.fail(job, "extracting", err)
		return
	}
	job.SetResults(out.Results)
	log.Info("extraction complete", "results", len(out.Results), "skipped", out.Skipped, "dropped", out.Dropped)

	if out.Skipped > 0 {
		job.SetStatus(StatusPartial, "done")
		return
	}
	job.SetStatus(StatusCompleted, "done")
}
