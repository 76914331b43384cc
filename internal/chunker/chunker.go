package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultSeparators are tried in priority order. The first one present in a
// piece of text is used to split it; "" means split into single characters.
var DefaultSeparators = []string{"\n \n", "\n\n", "\n", " ", ""}

// ErrInvalidConfig is returned for chunk sizes the splitter cannot honour.
var ErrInvalidConfig = errors.New("invalid chunker config")

// Config controls chunking behavior. Sizes are measured in characters.
type Config struct {
	ChunkSize    int      // Maximum chunk length.
	ChunkOverlap int      // Characters carried over between consecutive chunks.
	Separators   []string // Split points in priority order; DefaultSeparators if empty.
}

// DefaultConfig returns the page-splitting defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    3000,
		ChunkOverlap: 200,
		Separators:   DefaultSeparators,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrInvalidConfig, c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", ErrInvalidConfig, c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

// RecursiveSplitter cuts text into chunks no longer than ChunkSize, preferring
// the coarsest separator that occurs in the text and recursing into finer
// separators only for pieces that are still too long.
type RecursiveSplitter struct {
	cfg Config
}

// NewRecursiveSplitter validates cfg and returns a splitter.
func NewRecursiveSplitter(cfg Config) (*RecursiveSplitter, error) {
	if len(cfg.Separators) == 0 {
		cfg.Separators = DefaultSeparators
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RecursiveSplitter{cfg: cfg}, nil
}

// Config returns the splitter configuration.
func (s *RecursiveSplitter) Config() Config {
	return s.cfg
}

// Split returns the chunks of text in document order. Chunks are trimmed of
// surrounding whitespace and never empty.
func (s *RecursiveSplitter) Split(text string) []string {
	return s.split(text, s.cfg.Separators)
}

func (s *RecursiveSplitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var chunks, good []string
	for _, piece := range splitKeepSeparator(text, separator) {
		if runeLen(piece) < s.cfg.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		chunks = append(chunks, s.merge(good)...)
	}
	return chunks
}

// merge packs consecutive pieces into chunks of at most ChunkSize, starting
// each new chunk with up to ChunkOverlap characters of trailing pieces from
// the previous one. Pieces already carry their separator.
func (s *RecursiveSplitter) merge(pieces []string) []string {
	var (
		docs    []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.cfg.ChunkSize && len(current) > 0 {
			if doc := joinPieces(current); doc != "" {
				docs = append(docs, doc)
			}
			for len(current) > 0 && (total > s.cfg.ChunkOverlap || total+n > s.cfg.ChunkSize) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if doc := joinPieces(current); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeepSeparator splits text on sep and re-attaches the separator to the
// start of every piece after the first. Empty pieces are dropped.
func splitKeepSeparator(text, sep string) []string {
	var parts []string
	if sep == "" {
		parts = make([]string, 0, runeLen(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
		return parts
	}
	raw := strings.Split(text, sep)
	parts = make([]string, 0, len(raw))
	for i, r := range raw {
		if i > 0 {
			r = sep + r
		}
		if r != "" {
			parts = append(parts, r)
		}
	}
	return parts
}

func joinPieces(pieces []string) string {
	return strings.TrimSpace(strings.Join(pieces, ""))
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
