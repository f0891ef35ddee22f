// Package engine implements the streaming transcript reconciliation and
// command-dispatch core. It consumes recognition events from a transport,
// keeps the document's text and span bookkeeping consistent across
// provisional revisions, classifies spoken correction commands, and
// dispatches edit operations against the language-model collaborators.
//
// All state is guarded by a single mutex; transport callbacks, control
// operations, and edit-result application are serialized through it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxedlabs/voxed/internal/config"
	"github.com/voxedlabs/voxed/internal/document"
	"github.com/voxedlabs/voxed/internal/edit"
	"github.com/voxedlabs/voxed/internal/transport"
)

// Notifier receives engine side effects for broadcast to collaborators.
// Methods are called with the engine lock held; implementations must not
// call back into the engine.
type Notifier interface {
	Note(level, message string)
	SpansChanged(generation uint64, point int, spans []document.Span)
	SpeechFinal(utterance float64, text string, command bool)
	EditApplied(generation uint64, start, end int, text string)
	EditFailed(generation uint64, start, end int, err error)
}

// TranscriptFilter rewrites finalized utterance text before insertion.
type TranscriptFilter interface {
	Apply(ctx context.Context, text string) (string, error)
}

// ErrBusy is returned when an edit operation is already in flight.
var ErrBusy = errors.New("edit already in flight")

// Engine owns the document and the dictation session state.
type Engine struct {
	log       *slog.Logger
	editor    *edit.Editor
	notifier  Notifier
	separator string
	clock     func() time.Time

	mu       sync.Mutex
	sess     session
	track    tracker
	doc      *document.Document
	filter   TranscriptFilter
	editBusy bool

	eventCount  metric.Int64Counter
	editCount   metric.Int64Counter
	editFailure metric.Int64Counter
}

// New builds an engine with an empty document.
func New(editor *edit.Editor, notifier Notifier, cfg config.DictationConfig, logger *slog.Logger) *Engine {
	e := &Engine{
		log:       logger.With(slog.String("component", "engine")),
		editor:    editor,
		notifier:  notifier,
		separator: cfg.TrailingSeparator,
		clock:     time.Now,
		doc:       document.New(),
	}
	if e.separator == "" {
		e.separator = " "
	}

	meter := otel.Meter("github.com/voxedlabs/voxed/engine")
	var err error
	if e.eventCount, err = meter.Int64Counter("voxed.engine.events",
		metric.WithDescription("Recognition events processed")); err != nil {
		e.log.Warn("metric registration failed", slog.String("error", err.Error()))
	}
	if e.editCount, err = meter.Int64Counter("voxed.engine.edits",
		metric.WithDescription("Edit operations dispatched")); err != nil {
		e.log.Warn("metric registration failed", slog.String("error", err.Error()))
	}
	if e.editFailure, err = meter.Int64Counter("voxed.engine.edit_failures",
		metric.WithDescription("Edit operations that failed or were rejected")); err != nil {
		e.log.Warn("metric registration failed", slog.String("error", err.Error()))
	}
	return e
}

// SetFilter installs an optional transcript filter applied to plain
// speech-final utterances before insertion.
func (e *Engine) SetFilter(f TranscriptFilter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filter = f
}

// Open activates the dictation session. The caller starts the transport
// separately and routes its callbacks here.
func (e *Engine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.active {
		return errors.New("dictation already active")
	}
	e.sess.open()
	e.log.Info("dictation session opened", slog.Uint64("generation", e.sess.generation))
	return nil
}

// Stop deactivates the session and resets all of its state, including any
// armed command-mode timer. Provisional markers are cleared since nothing
// will revise them. In-flight edit results become stale and are discarded
// when they arrive.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	if !e.sess.active {
		return
	}
	e.sess.reset()
	e.track.reset()
	e.doc.ClearMark()
	for _, s := range e.doc.Spans() {
		if s.Provisional {
			_ = e.doc.SetSpanFlags(s.ID, false, s.Command)
		}
	}
	e.notifier.SpansChanged(e.sess.generation, e.doc.Point(), e.doc.Spans())
	e.log.Info("dictation session stopped")
}

// Active reports whether a dictation session is open.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.active
}

// ArmCommandMode marks the following utterance as a spoken command. A zero
// timestamp means "now". The armed state clears when a command-classified
// utterance reaches speech-final, or when dictation stops.
func (e *Engine) ArmCommandMode(at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if at.IsZero() {
		at = e.clock()
	}
	e.sess.commandModeStart = at
	e.log.Debug("command mode armed", slog.Time("at", at))
}

// SetAnchor overrides the start-of-region fallback used when no selection
// and no prior utterance is available.
func (e *Engine) SetAnchor(pos int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sess.anchor = pos
	e.sess.anchorSet = true
}

func (e *Engine) ClearAnchor() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sess.anchorSet = false
}

// Select activates an explicit selection, which wins over anchor and
// line-start fallbacks during region resolution.
func (e *Engine) Select(start, end int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doc.SetMark(start)
	e.doc.SetPoint(end)
}

func (e *Engine) ClearSelection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doc.ClearMark()
}

// HandleReady implements transport.Handler. It records the dictation start
// time used to convert utterance offsets to wall-clock time.
func (e *Engine) HandleReady() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sess.dictationStart = e.clock()
	e.notifier.Note("info", "recognizer ready")
	e.log.Info("recognizer ready", slog.Time("dictation_start", e.sess.dictationStart))
}

// HandleClosed implements transport.Handler. Unrecoverable transport death
// ends dictation mode and resets all state.
func (e *Engine) HandleClosed(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.notifier.Note("error", fmt.Sprintf("recognizer terminated: %v", err))
		e.log.Warn("transport closed", slog.String("error", err.Error()))
	}
	e.stopLocked()
}

// HandleEvent implements transport.Handler. Processing is synchronous: all
// span bookkeeping for one event completes before the next is applied.
func (e *Engine) HandleEvent(ev transport.RecognitionEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.sess.active {
		return
	}
	e.count(e.eventCount)

	command := classify(e.sess.commandModeStart, e.sess.dictationStart, ev)

	text := ev.Transcript
	if strings.TrimSpace(text) == "" && !ev.SpeechFinal {
		return
	}

	if ev.SpeechFinal && !command && e.filter != nil && text != "" {
		filtered, err := e.filter.Apply(context.Background(), text)
		if err != nil {
			e.log.Warn("transcript filter failed", slog.String("error", err.Error()))
		} else {
			text = filtered
		}
	}

	pos, _ := e.track.reconcile(e.doc, ev)

	var span *document.Span
	if text != "" {
		insert := text
		if ev.SpeechFinal && !command {
			insert += e.separator
		}
		span = e.doc.InsertSpanAt(pos, insert, ev.UtteranceStart, !ev.SpeechFinal, command)
		e.track.record(span, ev.UtteranceStart)
	}
	e.notifier.SpansChanged(e.sess.generation, e.doc.Point(), e.doc.Spans())

	if !ev.SpeechFinal {
		return
	}
	e.notifier.SpeechFinal(ev.UtteranceStart, text, command)

	if command {
		e.sess.commandModeStart = time.Time{}
		if span != nil {
			e.dispatchCommand(span, strings.TrimSpace(text))
		}
	}
}

// dispatchCommand consumes the command span and launches the edit call.
// Called with the lock held.
func (e *Engine) dispatchCommand(cmdSpan *document.Span, command string) {
	cmdStart, _ := e.doc.DeleteSpan(cmdSpan.ID)
	e.track.dropCurrent()

	fallback := -1
	if prev, ok := e.doc.Span(e.track.prevID); ok {
		fallback = prev.Start
	}
	start, end, ok := resolveRegion(e.doc, &e.sess, fallback, cmdStart)
	e.notifier.SpansChanged(e.sess.generation, e.doc.Point(), e.doc.Spans())
	if !ok {
		e.notifier.Note("warn", "no content to edit")
		return
	}
	if e.editBusy {
		e.count(e.editFailure)
		e.notifier.Note("warn", "edit already in flight; command dropped")
		return
	}

	content := e.doc.Text(start, end)
	e.editBusy = true
	e.count(e.editCount)
	gen := e.sess.generation
	go e.runEdit(gen, start, end, content, command)
}

// runEdit performs the blocking collaborator call off the event path and
// applies the result. A generation mismatch means the session was stopped
// or reset while the call was outstanding; the result is discarded.
func (e *Engine) runEdit(gen uint64, start, end int, content, command string) {
	result, err := e.editor.MakeEdits(context.Background(), content, command)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.editBusy = false
	if gen != e.sess.generation {
		e.log.Info("discarding stale edit result", slog.Uint64("generation", gen))
		return
	}
	if err != nil {
		e.count(e.editFailure)
		e.notifier.EditFailed(gen, start, end, err)
		e.log.Warn("edit failed", slog.String("error", err.Error()))
		return
	}
	e.doc.Replace(start, end, result+e.separator)
	e.notifier.EditApplied(gen, start, end, result)
	e.notifier.SpansChanged(gen, e.doc.Point(), e.doc.Spans())
}

// FixLast resolves the current region and runs the general disfluency
// cleanup against it. Independent of the recognition stream.
func (e *Engine) FixLast() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start, end, ok := resolveRegion(e.doc, &e.sess, -1, e.doc.Point())
	if !ok {
		e.notifier.Note("warn", "no content to fix")
		return nil
	}
	if e.editBusy {
		e.notifier.Note("warn", "edit already in flight")
		return ErrBusy
	}

	// Mark the region provisional while the call is outstanding.
	var marked []int
	for _, s := range e.doc.Spans() {
		if s.Start < end && s.End > start && !s.Provisional {
			_ = e.doc.SetSpanFlags(s.ID, true, s.Command)
			marked = append(marked, s.ID)
		}
	}
	e.notifier.SpansChanged(e.sess.generation, e.doc.Point(), e.doc.Spans())

	content := e.doc.Text(start, end)
	e.editBusy = true
	e.count(e.editCount)
	gen := e.sess.generation
	go e.runFix(gen, start, end, content, marked)
	return nil
}

func (e *Engine) runFix(gen uint64, start, end int, content string, marked []int) {
	result, err := e.editor.FixContent(context.Background(), content)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.editBusy = false
	if gen != e.sess.generation {
		e.log.Info("discarding stale fix result", slog.Uint64("generation", gen))
		return
	}
	if err != nil {
		e.count(e.editFailure)
		for _, id := range marked {
			if s, ok := e.doc.Span(id); ok {
				_ = e.doc.SetSpanFlags(id, false, s.Command)
			}
		}
		e.notifier.EditFailed(gen, start, end, err)
		e.notifier.SpansChanged(gen, e.doc.Point(), e.doc.Spans())
		e.log.Warn("fix failed", slog.String("error", err.Error()))
		return
	}
	e.doc.Replace(start, end, result)
	e.notifier.EditApplied(gen, start, end, result)
	e.notifier.SpansChanged(gen, e.doc.Point(), e.doc.Spans())
}

func (e *Engine) count(c metric.Int64Counter) {
	if c != nil {
		c.Add(context.Background(), 1)
	}
}
