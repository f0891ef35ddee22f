package journal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxedlabs/voxed/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeralIsNoop(t *testing.T) {
	ctx := context.Background()
	cfg := config.JournalConfig{RetentionMode: "ephemeral"}
	j, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	if err := j.RecordUtterance(ctx, "s", UtterancePayload{Utterance: 1.0, Text: "hello"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	entries, err := j.List(ctx, "s", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if entries != nil {
		t.Fatalf("ephemeral journal retained entries: %v", entries)
	}
}

func TestAppendAndList(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "journal.db"), RetentionMode: "session"}
	j, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	ctx := context.Background()
	sessionID := "session-123"
	if err := j.EnsureSession(ctx, sessionID); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	if err := j.RecordUtterance(ctx, sessionID, UtterancePayload{Utterance: 1.5, Text: "I want to write.", Command: false}); err != nil {
		t.Fatalf("record utterance: %v", err)
	}
	if err := j.RecordEdit(ctx, sessionID, true, EditPayload{Generation: 1, Start: 0, End: 17}); err != nil {
		t.Fatalf("record edit: %v", err)
	}

	entries, err := j.List(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Type != TypeUtteranceFinal {
		t.Fatalf("entry type = %q", entries[0].Type)
	}
	var p UtterancePayload
	if err := json.Unmarshal(entries[0].Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Text != "I want to write." || p.Utterance != 1.5 {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if entries[1].Type != TypeEditApplied {
		t.Fatalf("entry type = %q", entries[1].Type)
	}
}

func TestEditFailureRecordedWithError(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "journal.db"), RetentionMode: "session"}
	j, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	ctx := context.Background()
	if err := j.EnsureSession(ctx, "s"); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	if err := j.RecordEdit(ctx, "s", false, EditPayload{Generation: 2, Error: "backend down"}); err != nil {
		t.Fatalf("record edit: %v", err)
	}
	entries, err := j.List(ctx, "s", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != TypeEditFailed {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "journal.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	j, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	ctx := context.Background()
	j.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := j.EnsureSession(ctx, "old-session"); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	if err := j.Append(ctx, Entry{SessionID: "old-session", Type: TypeSessionStart}); err != nil {
		t.Fatalf("append: %v", err)
	}

	j.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := j.EnsureSession(ctx, "new-session"); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	if err := j.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	entries, err := j.List(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected old session pruned")
	}
}
