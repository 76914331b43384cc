package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/pdfgenie/internal/config"
	"github.com/dgallion1/pdfgenie/internal/corpus"
	"github.com/dgallion1/pdfgenie/internal/docqa"
	"github.com/dgallion1/pdfgenie/internal/index"
)

// Invalidator drops answers that may be stale after the index changes.
type Invalidator interface {
	Clear(ctx context.Context) (int, error)
}

// Deps are the shared components jobs run against.
type Deps struct {
	Corpus    *corpus.Corpus
	Index     index.Index
	Extractor *docqa.ExtractionModel
	// Cache is optional.
	Cache Invalidator
}

// Orchestrator queues ingestion and extraction jobs and runs them on a
// fixed set of workers.
type Orchestrator struct {
	jobs  *JobStore
	queue chan *Job
	deps  Deps
	log   *slog.Logger
	cfg   config.Config

	// indexMu serializes ingestion so index saves never interleave.
	indexMu sync.Mutex
	hashes  *hashSet

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. Call Start to run workers.
func NewOrchestrator(cfg config.Config, deps Deps, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:   NewJobStore(cfg.JobTTL),
		queue:  make(chan *Job, cfg.MaxQueueSize),
		deps:   deps,
		log:    log,
		cfg:    cfg,
		hashes: newHashSet(),
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o, o.log)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop gracefully shuts down the pipeline.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// RememberContent records the content hash of a document that was loaded
// outside the pipeline, so uploading it again is detected as a duplicate.
func (o *Orchestrator) RememberContent(text, sourceID string) {
	o.hashes.add(ContentHashHex([]byte(text)), sourceID)
}

type hashSet struct {
	mu sync.Mutex
	m  map[string]string
}

func newHashSet() *hashSet {
	return &hashSet{m: make(map[string]string)}
}

// add records hash for sourceID and returns the source already holding it,
// if any.
func (h *hashSet) add(hash, sourceID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.m[hash]; ok {
		return prev, true
	}
	h.m[hash] = sourceID
	return "", false
}

func (h *hashSet) remove(hash string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.m, hash)
}
