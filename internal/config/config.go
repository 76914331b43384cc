package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgallion1/pdfgenie/internal/chunker"
	"github.com/dgallion1/pdfgenie/internal/docqa"
	"github.com/dgallion1/pdfgenie/internal/index"
	"github.com/dgallion1/pdfgenie/internal/llm"
)

type Config struct {
	Port string

	// Auth
	PDFGenieAPIKey string

	// Documents and index
	DocsDir         string
	IndexPath       string
	EmbeddingType   string
	EmbeddingModel  string
	VectorStoreType string

	// Completion provider
	LLMProvider     string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	AnthropicModel  string
	LLMRPM          int
	LLMMaxRetries   int

	// Chunking
	ChunkSize    int
	ChunkOverlap int

	// Retrieval and extraction
	TopK                 int
	MaxConcurrentExtract int
	ExtractTimeout       time.Duration

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Upload limits
	MaxUploadBytes int64

	// Job state
	JobTTL time.Duration

	// PDF
	PDFFallbackPdftotext bool

	// Query cache, disabled when RedisURL is empty
	RedisURL      string
	QueryCacheTTL time.Duration

	CORSOrigins []string
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding the environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		PDFGenieAPIKey: os.Getenv("PDFGENIE_API_KEY"),

		DocsDir:         envOr("DOCS_DIR", "examples"),
		IndexPath:       envOr("INDEX_PATH", "examples_index/index.gob"),
		EmbeddingType:   envOr("EMBEDDING_TYPE", "openai"),
		EmbeddingModel:  envOr("EMBEDDING_MODEL", "text-embedding-3-small"),
		VectorStoreType: envOr("VECTOR_STORE_TYPE", "faiss"),

		LLMProvider:     envOr("LLM_PROVIDER", "openai"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     envOr("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
		LLMRPM:          envInt("LLM_RPM", 0),
		LLMMaxRetries:   envInt("LLM_MAX_RETRIES", llm.MaxRetries),

		ChunkSize:    envInt("CHUNK_SIZE", 3000),
		ChunkOverlap: envInt("CHUNK_OVERLAP", 200),

		TopK:                 envInt("TOP_K", docqa.DefaultK),
		MaxConcurrentExtract: envInt("MAX_CONCURRENT_EXTRACT", docqa.DefaultMaxConcurrency),
		ExtractTimeout:       envDuration("EXTRACT_TIMEOUT", docqa.DefaultCallTimeout),

		WorkerCount:  envInt("WORKER_COUNT", 4),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),

		RedisURL:      os.Getenv("REDIS_URL"),
		QueryCacheTTL: envDuration("QUERY_CACHE_TTL", 1*time.Hour),

		CORSOrigins: envList("CORS_ORIGINS", []string{"http://localhost:3000"}),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxConcurrentExtract <= 0 {
		cfg.MaxConcurrentExtract = docqa.DefaultMaxConcurrency
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = docqa.DefaultCallTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.TopK <= 0 {
		cfg.TopK = docqa.DefaultK
	}
	if cfg.LLMMaxRetries <= 0 {
		cfg.LLMMaxRetries = 1
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.QueryCacheTTL <= 0 {
		cfg.QueryCacheTTL = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	switch c.LLMProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for LLM_PROVIDER=openai")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for LLM_PROVIDER=anthropic")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be openai or anthropic, got %q", c.LLMProvider)
	}

	if c.EmbeddingType != "openai" {
		return fmt.Errorf("%w: EMBEDDING_TYPE %q", index.ErrUnknownBackend, c.EmbeddingType)
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required for EMBEDDING_TYPE=openai")
	}
	switch c.VectorStoreType {
	case "flat", "faiss":
	default:
		return fmt.Errorf("%w: VECTOR_STORE_TYPE %q", index.ErrUnknownBackend, c.VectorStoreType)
	}

	if err := c.ChunkConfig().Validate(); err != nil {
		return fmt.Errorf("CHUNK_SIZE/CHUNK_OVERLAP: %w", err)
	}
	if c.IndexPath == "" {
		return fmt.Errorf("INDEX_PATH is required")
	}
	return nil
}

// ChunkConfig returns the splitter settings.
func (c Config) ChunkConfig() chunker.Config {
	cfg := chunker.DefaultConfig()
	cfg.ChunkSize = c.ChunkSize
	cfg.ChunkOverlap = c.ChunkOverlap
	return cfg
}

// LLMConfig returns the completion provider settings.
func (c Config) LLMConfig() llm.ProviderConfig {
	pc := llm.ProviderConfig{
		Provider:   c.LLMProvider,
		RPM:        c.LLMRPM,
		MaxRetries: c.LLMMaxRetries,
	}
	switch c.LLMProvider {
	case "anthropic":
		pc.APIKey, pc.Model = c.AnthropicAPIKey, c.AnthropicModel
	default:
		pc.APIKey, pc.Model, pc.BaseURL = c.OpenAIAPIKey, c.OpenAIModel, c.OpenAIBaseURL
	}
	return pc
}

// IndexConfig returns the embedding and vector store settings.
func (c Config) IndexConfig() index.Config {
	return index.Config{
		EmbeddingType:  c.EmbeddingType,
		StoreType:      c.VectorStoreType,
		EmbeddingModel: c.EmbeddingModel,
		APIKey:         c.OpenAIAPIKey,
		BaseURL:        c.OpenAIBaseURL,
	}
}

// ExtractionOptions returns the batch extraction settings.
func (c Config) ExtractionOptions() docqa.ExtractionOptions {
	return docqa.ExtractionOptions{
		MaxConcurrency: c.MaxConcurrentExtract,
		CallTimeout:    c.ExtractTimeout,
		FindMatches:    true,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
