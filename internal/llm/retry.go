package llm

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// MaxRetries is the default number of attempts made by Retrying.
const MaxRetries = 3

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

// Retrying retries calls that fail with a RetryableError, sleeping Backoff
// between attempts. Other errors are returned immediately.
type Retrying struct {
	Completer
	Attempts int
	Log      *slog.Logger

	// backoff is swapped out in tests.
	backoff func(attempt int) time.Duration
}

func NewRetrying(c Completer, attempts int, log *slog.Logger) *Retrying {
	if attempts <= 0 {
		attempts = MaxRetries
	}
	return &Retrying{Completer: c, Attempts: attempts, Log: log, backoff: Backoff}
}

func (r *Retrying) Complete(ctx context.Context, msgs []Message) (string, error) {
	var lastErr error
	for attempt := range r.Attempts {
		out, err := r.Completer.Complete(ctx, msgs)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == r.Attempts-1 {
			break
		}
		r.Log.Warn("retryable completion error", "attempt", attempt, "error", err)
		select {
		case <-time.After(r.backoff(attempt)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// Limited throttles calls to a fixed number of requests per minute.
type Limited struct {
	Completer
	limiter *rate.Limiter
}

// NewLimited allows rpm calls per minute with a burst of one. A non-positive
// rpm disables limiting.
func NewLimited(c Completer, rpm int) *Limited {
	limit := rate.Inf
	if rpm > 0 {
		limit = rate.Limit(float64(rpm) / 60.0)
	}
	return &Limited{Completer: c, limiter: rate.NewLimiter(limit, 1)}
}

func (l *Limited) Complete(ctx context.Context, msgs []Message) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return l.Completer.Complete(ctx, msgs)
}
