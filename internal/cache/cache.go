// Package cache keeps answered questions in Redis so repeated questions
// skip retrieval and completion.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dgallion1/pdfgenie/internal/docqa"
)

// Config controls the query cache.
type Config struct {
	Enabled   bool
	TTL       time.Duration
	KeyPrefix string
	// DefaultK is the k a query with K <= 0 resolves to. It must match the
	// retrieval model's k so both spellings share one entry.
	DefaultK int
}

// DefaultConfig returns a disabled cache config.
func DefaultConfig() Config {
	return Config{TTL: time.Hour, KeyPrefix: "pdfgenie:query:", DefaultK: docqa.DefaultK}
}

// QueryCache caches retrieval results keyed by question and k.
type QueryCache struct {
	redis *goredis.Client
	cfg   Config
	log   *slog.Logger
}

// New wraps client. A nil client or cfg.Enabled == false yields a cache
// that never hits and never writes.
func New(client *goredis.Client, cfg Config, log *slog.Logger) *QueryCache {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = DefaultConfig().DefaultK
	}
	return &QueryCache{redis: client, cfg: cfg, log: log}
}

// Open connects to the Redis at url and pings it. An empty url returns a
// disabled cache. cfg.Enabled is set from whether a client was opened.
func Open(ctx context.Context, url string, cfg Config, log *slog.Logger) (*QueryCache, error) {
	if url == "" {
		cfg.Enabled = false
		return New(nil, cfg, log), nil
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	cfg.Enabled = true
	return New(client, cfg, log), nil
}

func (c *QueryCache) enabled() bool {
	return c != nil && c.cfg.Enabled && c.redis != nil
}

// key normalizes the question and k the way the retrieval model does, so
// " q " with k 0 and "q" with the default k share an entry.
func (c *QueryCache) key(question string, k int) string {
	question = strings.TrimSpace(question)
	if k <= 0 {
		k = c.cfg.DefaultK
	}
	sum := sha256.Sum256([]byte(strconv.Itoa(k) + "|" + question))
	return c.cfg.KeyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached result for question, or nil on a miss.
func (c *QueryCache) Get(ctx context.Context, question string, k int) (*docqa.RetrievalResult, error) {
	if !c.enabled() {
		return nil, nil
	}
	key := c.key(question, k)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			c.log.Debug("cache miss", "key", key)
			return nil, nil
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var res docqa.RetrievalResult
	if err := json.Unmarshal(data, &res); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, fmt.Errorf("cache decode: %w", err)
	}
	c.log.Debug("cache hit", "key", key)
	return &res, nil
}

// Set stores res for question.
func (c *QueryCache) Set(ctx context.Context, question string, k int, res docqa.RetrievalResult) error {
	if !c.enabled() {
		return nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.redis.Set(ctx, c.key(question, k), data, c.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Clear deletes every cached result. Call it after the index changes.
func (c *QueryCache) Clear(ctx context.Context) (int, error) {
	if !c.enabled() {
		return 0, nil
	}
	iter := c.redis.Scan(ctx, 0, c.cfg.KeyPrefix+"*", 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			c.log.Warn("cache delete failed", "key", iter.Val(), "error", err)
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("cache scan: %w", err)
	}
	return deleted, nil
}

// Close closes the Redis client, if any.
func (c *QueryCache) Close() error {
	if c == nil || c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

// Ask answers q from the cache or, on a miss, from m, caching the answer.
// Cache failures are logged and never fail the question.
func (c *QueryCache) Ask(ctx context.Context, m docqa.DocQAModel[docqa.Query, docqa.RetrievalResult], q docqa.Query) (docqa.RetrievalResult, bool, error) {
	cached, err := c.Get(ctx, q.Question, q.K)
	if err != nil {
		c.log.Warn("query cache read failed", "error", err)
	}
	if cached != nil {
		return *cached, true, nil
	}

	res, err := m.Run(ctx, q)
	if err != nil {
		return res, false, err
	}
	if err := c.Set(ctx, q.Question, q.K, res); err != nil {
		c.log.Warn("query cache write failed", "error", err)
	}
	return res, false, nil
}
