package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dgallion1/pdfgenie/internal/docqa"
)

// JobKind is the kind of work a job does.
type JobKind string

const (
	KindIngest  JobKind = "ingest"
	KindExtract JobKind = "extract"
)

// JobStatus represents the state of a job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusParsing    JobStatus = "parsing"
	StatusChunking   JobStatus = "chunking"
	StatusIndexing   JobStatus = "indexing"
	StatusSelecting  JobStatus = "selecting"
	StatusExtracting JobStatus = "extracting"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusPartial    JobStatus = "partial"
	StatusDupSkipped JobStatus = "duplicate_skipped"
)

// Done reports whether the job has stopped changing.
func (s JobStatus) Done() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartial, StatusDupSkipped:
		return true
	}
	return false
}

// Job tracks the state of a single ingestion or extraction.
type Job struct {
	mu sync.Mutex

	ID   string  `json:"job_id"`
	Kind JobKind `json:"kind"`

	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`

	// Ingest: the uploaded file. SourceID is set once the file is stored.
	Filename string `json:"filename,omitempty"`
	Title    string `json:"title,omitempty"`
	SourceID string `json:"source,omitempty"`

	// Extract: what to extract and from which chunks.
	Schema      docqa.Schema    `json:"schema"`
	Selection   docqa.Selection `json:"-"`
	FindMatches *bool           `json:"-"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData []byte
	results  []docqa.ExtractionResult
	errors   []string
}

// Progress tracks processing progress.
type Progress struct {
	TotalChunks     int      `json:"total_chunks"`
	ChunksProcessed int      `json:"chunks_processed"`
	ChunksSkipped   int      `json:"chunks_skipped"`
	Results         int      `json:"results"`
	Errors          []string `json:"errors"`
}

func newJobID() string {
	return ulid.Make().String()
}

// NewIngestJob creates a queued job that indexes an uploaded file.
func NewIngestJob(filename, title string, data []byte) *Job {
	now := time.Now()
	return &Job{
		ID:        newJobID(),
		Kind:      KindIngest,
		Status:    StatusQueued,
		Phase:     "queued",
		Filename:  filename,
		Title:     title,
		fileData:  data,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewExtractJob creates a queued job that extracts schema from the chunks
// picked by sel.
func NewExtractJob(schema docqa.Schema, sel docqa.Selection, findMatches *bool) *Job {
	now := time.Now()
	return &Job{
		ID:          newJobID(),
		Kind:        KindExtract,
		Status:      StatusQueued,
		Phase:       "queued",
		SourceID:    sel.SourceID,
		Schema:      schema,
		Selection:   sel,
		FindMatches: findMatches,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.updatedAt()) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

func (j *Job) updatedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.UpdatedAt
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// IncrChunksProcessed counts one finished chunk, and one skipped chunk when
// skipped is true.
func (j *Job) IncrChunksProcessed(skipped bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.ChunksProcessed++
	if skipped {
		j.Progress.ChunksSkipped++
	}
	j.UpdatedAt = time.Now()
}

// SetTotalChunks records total chunk count.
func (j *Job) SetTotalChunks(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalChunks = n
	j.UpdatedAt = time.Now()
}

// SetSource records where an ingested document is stored.
func (j *Job) SetSource(sourceID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.SourceID = sourceID
	j.UpdatedAt = time.Now()
}

// SetFileData sets the raw file bytes for processing.
func (j *Job) SetFileData(data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = data
}

// FileData returns the raw file bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// SetResults stores extraction results.
func (j *Job) SetResults(results []docqa.ExtractionResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = results
	j.Progress.Results = len(results)
	j.UpdatedAt = time.Now()
}

// Results returns the extraction results stored so far.
func (j *Job) Results() []docqa.ExtractionResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.results
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID        string    `json:"job_id"`
	Kind      JobKind   `json:"kind"`
	Status    JobStatus `json:"status"`
	Phase     string    `json:"phase"`
	Filename  string    `json:"filename,omitempty"`
	Title     string    `json:"title,omitempty"`
	SourceID  string    `json:"source,omitempty"`
	Fields    []string  `json:"fields,omitempty"`
	Progress  Progress  `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.Progress.Errors))
	copy(errs, j.Progress.Errors)
	p := j.Progress
	p.Errors = errs
	return JobSnapshot{
		ID:        j.ID,
		Kind:      j.Kind,
		Status:    j.Status,
		Phase:     j.Phase,
		Filename:  j.Filename,
		Title:     j.Title,
		SourceID:  j.SourceID,
		Fields:    j.Schema.Names(),
		Progress:  p,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
