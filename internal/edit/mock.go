package edit

import (
	"context"
	"time"
)

type mockCompleter struct{}

// NewMockCompleter returns a deterministic backend for tests and dry runs.
// It echoes the last user message.
func NewMockCompleter() Completer { return &mockCompleter{} }

func (m *mockCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content, nil
		}
	}
	return "", ErrEmptyCompletion
}
