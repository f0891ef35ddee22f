// Package edit implements the language-model collaborators: targeted edits
// driven by spoken commands and general disfluency cleanup. Prompt assembly
// lives here; the model transport is a pluggable Completer.
package edit

import (
	"context"
	"errors"
)

// Message is one chat message in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a backend-agnostic chat completion request.
type CompletionRequest struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Completer abstracts a chat-completion backend.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ErrEmptyCompletion is returned when a backend produces no usable text.
// Callers leave the target region untouched when they see it.
var ErrEmptyCompletion = errors.New("empty completion")
