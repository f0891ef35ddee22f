package edit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/voxedlabs/voxed/internal/config"
)

// Editor performs the two collaborator calls against a Completer backend.
type Editor struct {
	completer   Completer
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// NewEditor wraps a Completer with the configured sampling options.
func NewEditor(completer Completer, cfg config.EditConfig) *Editor {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Editor{
		completer:   completer,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
	}
}

// MakeEdits applies a spoken instruction to content and returns the
// corrected text. An empty completion is an error; the caller must leave
// the target region untouched.
func (e *Editor) MakeEdits(ctx context.Context, content, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.completer.Complete(ctx, editRequest(content, command, e.temperature, e.maxTokens))
	if err != nil {
		return "", fmt.Errorf("make edits: %w", err)
	}
	result = strings.TrimSpace(result)
	if result == "" {
		return "", fmt.Errorf("make edits: %w", ErrEmptyCompletion)
	}
	return result, nil
}

// FixContent cleans disfluencies from content and applies inline edit
// requests. Same failure contract as MakeEdits.
func (e *Editor) FixContent(ctx context.Context, content string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.completer.Complete(ctx, fixRequest(content, e.temperature, e.maxTokens))
	if err != nil {
		return "", fmt.Errorf("fix content: %w", err)
	}
	result = strings.TrimSpace(result)
	if result == "" {
		return "", fmt.Errorf("fix content: %w", ErrEmptyCompletion)
	}
	return result, nil
}

// NewCompleter builds the configured backend.
func NewCompleter(cfg config.EditConfig) (Completer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockCompleter(), nil
	case "ollama":
		return NewOllamaCompleter(cfg.Endpoint, cfg.Model), nil
	case "openai":
		return NewOpenAICompleter(cfg.APIKey, cfg.Model)
	case "exec":
		return NewExecCompleter(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown edit mode %q", cfg.Mode)
	}
}
