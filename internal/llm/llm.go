// Package llm provides text-completion backends and the wrappers that add
// retry, rate limiting and latency stats around them.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// User is shorthand for a single user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Completer turns a prompt into text. Implementations must be safe for
// concurrent use.
type Completer interface {
	Complete(ctx context.Context, msgs []Message) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, msgs []Message) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, msgs []Message) (string, error) {
	return f(ctx, msgs)
}

// ErrEmptyResponse is returned when the provider answers without any text.
var ErrEmptyResponse = errors.New("empty response from model")

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
