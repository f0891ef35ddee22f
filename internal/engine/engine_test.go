package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxedlabs/voxed/internal/config"
	"github.com/voxedlabs/voxed/internal/document"
	"github.com/voxedlabs/voxed/internal/edit"
	"github.com/voxedlabs/voxed/internal/transport"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stubCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	gate  chan struct{}
	calls []edit.CompletionRequest
}

func (s *stubCompleter) Complete(ctx context.Context, req edit.CompletionRequest) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	gate := s.gate
	reply, err := s.reply, s.err
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, err
}

func (s *stubCompleter) lastUserMessage(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		t.Fatal("completer was never called")
	}
	msgs := s.calls[len(s.calls)-1].Messages
	return msgs[len(msgs)-1].Content
}

type recordingNotifier struct {
	mu      sync.Mutex
	notes   []string
	finals  []string
	applied int
	failed  int
}

func (n *recordingNotifier) Note(level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, level+": "+message)
}

func (n *recordingNotifier) SpansChanged(uint64, int, []document.Span) {}

func (n *recordingNotifier) SpeechFinal(_ float64, text string, _ bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finals = append(n.finals, text)
}

func (n *recordingNotifier) EditApplied(uint64, int, int, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.applied++
}

func (n *recordingNotifier) EditFailed(uint64, int, int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed++
}

func (n *recordingNotifier) counts() (applied, failed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.applied, n.failed
}

func (n *recordingNotifier) hasNote(substr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, note := range n.notes {
		if strings.Contains(note, substr) {
			return true
		}
	}
	return false
}

func newTestEngine(t *testing.T, c edit.Completer) (*Engine, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	editor := edit.NewEditor(c, config.EditConfig{TimeoutMS: 2000})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(editor, n, config.DictationConfig{TrailingSeparator: " "}, logger)
	e.clock = func() time.Time { return base }
	return e, n
}

func openEngine(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	e.HandleReady()
}

func event(start float64, isFinal, speechFinal bool, text string) transport.RecognitionEvent {
	return transport.RecognitionEvent{
		UtteranceStart: start,
		IsFinal:        isFinal,
		SpeechFinal:    speechFinal,
		Transcript:     text,
	}
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		busy := e.editBusy
		e.mu.Unlock()
		if !busy {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("edit still in flight")
}

func TestRevisionKeepsOnlyLatestText(t *testing.T) {
	e, _ := newTestEngine(t, &stubCompleter{})
	openEngine(t, e)

	e.HandleEvent(event(1.0, true, false, "I wan to"))
	e.HandleEvent(event(1.0, true, true, "I want to write."))

	if got := e.doc.String(); got != "I want to write. " {
		t.Fatalf("document = %q, want %q", got, "I want to write. ")
	}
	spans := e.doc.Spans()
	if len(spans) != 1 {
		t.Fatalf("expected single span, got %d", len(spans))
	}
	if spans[0].Provisional {
		t.Fatal("speech-final span still marked provisional")
	}
}

func TestProvisionalMarkingAndReplacement(t *testing.T) {
	e, _ := newTestEngine(t, &stubCompleter{})
	openEngine(t, e)

	e.HandleEvent(event(1.0, false, false, "hel"))
	spans := e.doc.Spans()
	if len(spans) != 1 || !spans[0].Provisional {
		t.Fatalf("provisional event not marked: %+v", spans)
	}

	e.HandleEvent(event(1.0, false, false, "hello wor"))
	if got := e.doc.String(); got != "hello wor" {
		t.Fatalf("document = %q after revision", got)
	}
	if len(e.doc.Spans()) != 1 {
		t.Fatalf("revision duplicated spans: %+v", e.doc.Spans())
	}
}

func TestSeparateUtterancesAppend(t *testing.T) {
	e, _ := newTestEngine(t, &stubCompleter{})
	openEngine(t, e)

	e.HandleEvent(event(1.0, true, true, "First sentence."))
	e.HandleEvent(event(3.0, true, true, "Second sentence."))

	if got := e.doc.String(); got != "First sentence. Second sentence. " {
		t.Fatalf("document = %q", got)
	}
	if len(e.doc.Spans()) != 2 {
		t.Fatalf("expected two spans, got %d", len(e.doc.Spans()))
	}
}

func TestProvisionalEventsNeverClassifyAsCommand(t *testing.T) {
	e, _ := newTestEngine(t, &stubCompleter{})
	openEngine(t, e)
	e.ArmCommandMode(base.Add(500 * time.Millisecond))

	e.HandleEvent(event(1.0, false, false, "fix the name"))
	spans := e.doc.Spans()
	if len(spans) != 1 || spans[0].Command {
		t.Fatalf("provisional event flipped classification: %+v", spans)
	}
	if !e.sess.commandArmed() {
		t.Fatal("command mode cleared by provisional event")
	}
}

func TestUtteranceBeforeTriggerIsDictation(t *testing.T) {
	e, _ := newTestEngine(t, &stubCompleter{reply: "unused"})
	openEngine(t, e)
	// Armed after this utterance's speech began.
	e.ArmCommandMode(base.Add(5 * time.Second))

	e.HandleEvent(event(1.0, true, true, "plain dictation"))

	if got := e.doc.String(); got != "plain dictation " {
		t.Fatalf("document = %q", got)
	}
	if !e.sess.commandArmed() {
		t.Fatal("command mode cleared without a command-classified speech-final")
	}
}

func TestCommandDispatchReplacesPreviousUtterance(t *testing.T) {
	stub := &stubCompleter{reply: "I want to write."}
	e, n := newTestEngine(t, stub)
	openEngine(t, e)

	e.HandleEvent(event(1.0, true, true, "I want to wrote."))
	e.ArmCommandMode(base.Add(2 * time.Second))
	e.HandleEvent(event(3.0, true, true, "change wrote to write"))
	waitIdle(t, e)

	if got := e.doc.String(); got != "I want to write. " {
		t.Fatalf("document = %q, want %q", got, "I want to write. ")
	}
	last := stub.lastUserMessage(t)
	if !strings.Contains(last, "I want to wrote.") || !strings.Contains(last, "change wrote to write") {
		t.Fatalf("collaborator prompt missing content or command: %q", last)
	}
	if e.sess.commandArmed() {
		t.Fatal("command mode not cleared after speech-final command")
	}
	applied, failed := n.counts()
	if applied != 1 || failed != 0 {
		t.Fatalf("applied=%d failed=%d", applied, failed)
	}
}

func TestCommandTextDoesNotRemainInDocument(t *testing.T) {
	stub := &stubCompleter{reply: "corrected"}
	e, _ := newTestEngine(t, stub)
	openEngine(t, e)

	e.HandleEvent(event(1.0, true, true, "original text"))
	e.ArmCommandMode(base.Add(2 * time.Second))
	e.HandleEvent(event(3.0, true, true, "rewrite it"))
	waitIdle(t, e)

	if got := e.doc.String(); strings.Contains(got, "rewrite it") {
		t.Fatalf("command text leaked into document: %q", got)
	}
}

func TestEditFailureLeavesRegionUntouched(t *testing.T) {
	stub := &stubCompleter{err: errors.New("backend down")}
	e, n := newTestEngine(t, stub)
	openEngine(t, e)

	e.HandleEvent(event(1.0, true, true, "keep this text"))
	e.ArmCommandMode(base.Add(2 * time.Second))
	e.HandleEvent(event(3.0, true, true, "break something"))
	waitIdle(t, e)

	if got := e.doc.String(); got != "keep this text " {
		t.Fatalf("failed edit mutated document: %q", got)
	}
	if !e.Active() {
		t.Fatal("session deactivated by collaborator failure")
	}
	applied, failed := n.counts()
	if applied != 0 || failed != 1 {
		t.Fatalf("applied=%d failed=%d", applied, failed)
	}
}

func TestEmptyCompletionIsFailure(t *testing.T) {
	stub := &stubCompleter{reply: "   "}
	e, n := newTestEngine(t, stub)
	openEngine(t, e)

	e.HandleEvent(event(1.0, true, true, "keep this"))
	e.ArmCommandMode(base.Add(2 * time.Second))
	e.HandleEvent(event(3.0, true, true, "do nothing"))
	waitIdle(t, e)

	if got := e.doc.String(); got != "keep this " {
		t.Fatalf("empty completion mutated document: %q", got)
	}
	if _, failed := n.counts(); failed != 1 {
		t.Fatal("empty completion not surfaced as failure")
	}
}

func TestStaleEditResultDiscardedAfterStop(t *testing.T) {
	gate := make(chan struct{})
	stub := &stubCompleter{reply: "stale result", gate: gate}
	e, n := newTestEngine(t, stub)
	openEngine(t, e)

	e.HandleEvent(event(1.0, true, true, "dictated text"))
	e.ArmCommandMode(base.Add(2 * time.Second))
	e.HandleEvent(event(3.0, true, true, "edit it"))

	e.Stop()
	close(gate)
	waitIdle(t, e)

	if got := e.doc.String(); strings.Contains(got, "stale result") {
		t.Fatalf("stale result applied: %q", got)
	}
	if applied, _ := n.counts(); applied != 0 {
		t.Fatal("stale result reported as applied")
	}
}

func TestSecondCommandRejectedWhileEditInFlight(t *testing.T) {
	gate := make(chan struct{})
	stub := &stubCompleter{reply: "first", gate: gate}
	e, n := newTestEngine(t, stub)
	openEngine(t, e)

	e.HandleEvent(event(1.0, true, true, "some text"))
	e.ArmCommandMode(base.Add(2 * time.Second))
	e.HandleEvent(event(3.0, true, true, "first command"))

	e.ArmCommandMode(base.Add(4 * time.Second))
	e.HandleEvent(event(5.0, true, true, "second command"))

	if !n.hasNote("command dropped") {
		t.Fatal("second command not rejected while busy")
	}
	close(gate)
	waitIdle(t, e)
}

func TestStopClearsCommandModeAndDeactivates(t *testing.T) {
	e, _ := newTestEngine(t, &stubCompleter{})
	openEngine(t, e)
	e.ArmCommandMode(time.Time{})

	e.Stop()

	if e.Active() {
		t.Fatal("session still active after stop")
	}
	if e.sess.commandArmed() {
		t.Fatal("stop did not clear command mode")
	}
}

func TestTransportDeathResetsSession(t *testing.T) {
	e, n := newTestEngine(t, &stubCompleter{})
	openEngine(t, e)
	e.ArmCommandMode(time.Time{})

	e.HandleClosed(errors.New("process exited"))

	if e.Active() {
		t.Fatal("session still active after transport death")
	}
	if e.sess.commandArmed() {
		t.Fatal("command mode survived transport death")
	}
	if !n.hasNote("recognizer terminated") {
		t.Fatal("transport death not surfaced to user")
	}
}

func TestEventsIgnoredWhileInactive(t *testing.T) {
	e, _ := newTestEngine(t, &stubCompleter{})

	e.HandleEvent(event(1.0, true, true, "should not appear"))

	if got := e.doc.String(); got != "" {
		t.Fatalf("inactive engine mutated document: %q", got)
	}
}

func TestSelectionOverridesAnchorAndLineStart(t *testing.T) {
	stub := &stubCompleter{reply: "cleaned"}
	e, _ := newTestEngine(t, stub)
	openEngine(t, e)

	e.doc.InsertAt(0, "alpha beta gamma")
	e.SetAnchor(0)
	e.Select(6, 10) // "beta"

	if err := e.FixLast(); err != nil {
		t.Fatalf("FixLast failed: %v", err)
	}
	waitIdle(t, e)

	if got := stub.lastUserMessage(t); got != "beta" {
		t.Fatalf("selection ignored, content = %q", got)
	}
	if got := e.doc.String(); got != "alpha cleaned gamma" {
		t.Fatalf("document = %q", got)
	}
}

func TestAnchorFallbackForCommandRegion(t *testing.T) {
	stub := &stubCompleter{reply: "WORLD"}
	e, _ := newTestEngine(t, stub)
	openEngine(t, e)

	e.doc.InsertAt(0, "hello world")
	e.SetAnchor(6)
	e.ArmCommandMode(base.Add(500 * time.Millisecond))
	e.HandleEvent(event(1.0, true, true, "uppercase it"))
	waitIdle(t, e)

	if got := stub.lastUserMessage(t); !strings.Contains(got, "world") {
		t.Fatalf("anchor fallback region wrong, content prompt = %q", got)
	}
	if got := e.doc.String(); got != "hello WORLD " {
		t.Fatalf("document = %q", got)
	}
}

func TestFixLastUsesLineStartFallback(t *testing.T) {
	stub := &stubCompleter{reply: "clean line"}
	e, _ := newTestEngine(t, stub)
	openEngine(t, e)

	e.doc.InsertAt(0, "first line\nso um second line")

	if err := e.FixLast(); err != nil {
		t.Fatalf("FixLast failed: %v", err)
	}
	waitIdle(t, e)

	if got := stub.lastUserMessage(t); got != "so um second line" {
		t.Fatalf("line-start fallback wrong, content = %q", got)
	}
	if got := e.doc.String(); got != "first line\nclean line" {
		t.Fatalf("document = %q", got)
	}
}

func TestFixLastWithEmptyRegionIsNoop(t *testing.T) {
	stub := &stubCompleter{reply: "unused"}
	e, n := newTestEngine(t, stub)
	openEngine(t, e)

	if err := e.FixLast(); err != nil {
		t.Fatalf("FixLast failed: %v", err)
	}
	if !n.hasNote("no content to fix") {
		t.Fatal("empty region not surfaced")
	}
	stub.mu.Lock()
	calls := len(stub.calls)
	stub.mu.Unlock()
	if calls != 0 {
		t.Fatal("collaborator called for empty region")
	}
}

func TestFixLastBusy(t *testing.T) {
	gate := make(chan struct{})
	stub := &stubCompleter{reply: "done", gate: gate}
	e, _ := newTestEngine(t, stub)
	openEngine(t, e)

	e.doc.InsertAt(0, "some dictated text")
	if err := e.FixLast(); err != nil {
		t.Fatalf("first FixLast failed: %v", err)
	}
	if err := e.FixLast(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(gate)
	waitIdle(t, e)
}

type upperFilter struct{}

func (upperFilter) Apply(_ context.Context, text string) (string, error) {
	return strings.ToUpper(text), nil
}

type failingFilter struct{}

func (failingFilter) Apply(context.Context, string) (string, error) {
	return "", errors.New("filter broken")
}

func TestFilterAppliedToSpeechFinalText(t *testing.T) {
	e, _ := newTestEngine(t, &stubCompleter{})
	e.SetFilter(upperFilter{})
	openEngine(t, e)

	e.HandleEvent(event(1.0, false, false, "hello"))
	e.HandleEvent(event(1.0, true, true, "hello"))

	if got := e.doc.String(); got != "HELLO " {
		t.Fatalf("document = %q", got)
	}
}

func TestFilterFailurePassesTextThrough(t *testing.T) {
	e, _ := newTestEngine(t, &stubCompleter{})
	e.SetFilter(failingFilter{})
	openEngine(t, e)

	e.HandleEvent(event(1.0, true, true, "hello"))

	if got := e.doc.String(); got != "hello " {
		t.Fatalf("document = %q", got)
	}
}
