// Package dictation is the bus-facing control surface for the engine. It
// subscribes to the ctrl.dictation.* subjects, owns the recognition
// transport session, and broadcasts engine effects (notes, span
// snapshots, speech-final notifications, edit outcomes) for editor
// frontends.
package dictation

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voxedlabs/voxed/internal/bus"
	"github.com/voxedlabs/voxed/internal/config"
	"github.com/voxedlabs/voxed/internal/document"
	"github.com/voxedlabs/voxed/internal/engine"
	"github.com/voxedlabs/voxed/internal/journal"
	"github.com/voxedlabs/voxed/internal/protocol"
	"github.com/voxedlabs/voxed/internal/transport"
)

type Service struct {
	cfg       config.DictationConfig
	bus       *bus.Client
	engine    *engine.Engine
	transport transport.Transport
	journal   *journal.Journal
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	subs   []*nats.Subscription

	mu      sync.Mutex
	session transport.Session
}

func NewService(parent context.Context, cfg config.DictationConfig, tr transport.Transport, jr *journal.Journal, busClient *bus.Client, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		bus:       busClient,
		transport: tr,
		journal:   jr,
		logger:    logger.With(slog.String("component", "dictation")),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Bind attaches the engine. The service is the engine's Notifier, so the
// two are constructed before being linked.
func (s *Service) Bind(eng *engine.Engine) {
	s.engine = eng
}

func (s *Service) Start() error {
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectCtrlStart:       s.handleStart,
		protocol.SubjectCtrlStop:        s.handleStop,
		protocol.SubjectCtrlCommandMode: s.handleCommandMode,
		protocol.SubjectCtrlFix:         s.handleFix,
	}
	for subject, handler := range handlers {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			for _, prior := range s.subs {
				_ = prior.Drain()
			}
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.stopStream()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
}

func (s *Service) Healthy() bool {
	return len(s.subs) == 4
}

func (s *Service) handleStart(*nats.Msg) {
	if err := s.engine.Open(); err != nil {
		s.Note("warn", err.Error())
		return
	}
	session, err := s.transport.Start(s.ctx, streamHandler{s})
	if err != nil {
		s.logger.Error("failed to start transport", slogError(err))
		s.engine.Stop()
		s.Note("error", "failed to start recognizer: "+err.Error())
		return
	}
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	if err := s.journal.EnsureSession(s.ctx, s.cfg.SessionID); err != nil {
		s.logger.Warn("journal session", slogError(err))
	}
	if err := s.journal.Append(s.ctx, journal.Entry{SessionID: s.cfg.SessionID, Type: journal.TypeSessionStart}); err != nil {
		s.logger.Warn("journal append", slogError(err))
	}
	s.Note("info", "dictation started")
}

func (s *Service) handleStop(*nats.Msg) {
	s.stopStream()
	s.engine.Stop()
	if err := s.journal.Append(s.ctx, journal.Entry{SessionID: s.cfg.SessionID, Type: journal.TypeSessionStop}); err != nil {
		s.logger.Warn("journal append", slogError(err))
	}
	s.Note("info", "dictation stopped")
}

func (s *Service) handleCommandMode(msg *nats.Msg) {
	var cm protocol.CommandMode
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &cm); err != nil {
			s.logger.Warn("invalid command-mode message", slogError(err))
			return
		}
	}
	s.engine.ArmCommandMode(cm.Timestamp)
	s.Note("info", "command mode armed")
}

func (s *Service) handleFix(*nats.Msg) {
	if err := s.engine.FixLast(); err != nil {
		s.Note("warn", err.Error())
	}
}

func (s *Service) stopStream() {
	s.mu.Lock()
	session := s.session
	s.session = nil
	s.mu.Unlock()
	if session != nil {
		if err := session.Close(); err != nil {
			s.logger.Warn("closing transport session", slogError(err))
		}
	}
}

// streamHandler routes transport callbacks into the engine and clears the
// session handle when the stream dies.
type streamHandler struct {
	s *Service
}

func (h streamHandler) HandleReady() {
	h.s.engine.HandleReady()
}

func (h streamHandler) HandleEvent(ev transport.RecognitionEvent) {
	h.s.engine.HandleEvent(ev)
}

func (h streamHandler) HandleClosed(err error) {
	h.s.engine.HandleClosed(err)
	h.s.mu.Lock()
	h.s.session = nil
	h.s.mu.Unlock()
}

// The methods below implement engine.Notifier. They are called with the
// engine lock held and must not call back into the engine.

func (s *Service) Note(level, message string) {
	note := protocol.Note{
		SessionID: s.cfg.SessionID,
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectNote, note); err != nil {
		s.logger.Warn("publish note", slogError(err))
	}
}

func (s *Service) SpansChanged(generation uint64, point int, spans []document.Span) {
	update := protocol.SpanUpdate{
		SessionID:  s.cfg.SessionID,
		Generation: generation,
		Point:      point,
		Spans:      make([]protocol.Span, 0, len(spans)),
		Timestamp:  time.Now().UTC(),
	}
	for _, sp := range spans {
		update.Spans = append(update.Spans, protocol.Span{
			Start:       sp.Start,
			End:         sp.End,
			Utterance:   sp.Utterance,
			Provisional: sp.Provisional,
			Command:     sp.Command,
		})
	}
	if err := s.bus.PublishJSON(protocol.SubjectSpans, update); err != nil {
		s.logger.Warn("publish span update", slogError(err))
	}
}

func (s *Service) SpeechFinal(utterance float64, text string, command bool) {
	msg := protocol.SpeechFinalized{
		SessionID: s.cfg.SessionID,
		Utterance: utterance,
		Text:      text,
		Command:   command,
		Timestamp: time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectSpeechFinal, msg); err != nil {
		s.logger.Warn("publish speech final", slogError(err))
	}
	if err := s.journal.RecordUtterance(s.ctx, s.cfg.SessionID, journal.UtterancePayload{
		Utterance: utterance,
		Text:      text,
		Command:   command,
	}); err != nil {
		s.logger.Warn("journal utterance", slogError(err))
	}
}

func (s *Service) EditApplied(generation uint64, start, end int, text string) {
	result := protocol.EditResult{
		SessionID:  s.cfg.SessionID,
		Generation: generation,
		Start:      start,
		End:        end,
		Text:       text,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectEditApplied, result); err != nil {
		s.logger.Warn("publish edit result", slogError(err))
	}
	if err := s.journal.RecordEdit(s.ctx, s.cfg.SessionID, true, journal.EditPayload{
		Generation: generation,
		Start:      start,
		End:        end,
	}); err != nil {
		s.logger.Warn("journal edit", slogError(err))
	}
}

func (s *Service) EditFailed(generation uint64, start, end int, err error) {
	result := protocol.EditResult{
		SessionID:  s.cfg.SessionID,
		Generation: generation,
		Start:      start,
		End:        end,
		Error:      err.Error(),
		Timestamp:  time.Now().UTC(),
	}
	if pubErr := s.bus.PublishJSON(protocol.SubjectEditFailed, result); pubErr != nil {
		s.logger.Warn("publish edit result", slogError(pubErr))
	}
	if jErr := s.journal.RecordEdit(s.ctx, s.cfg.SessionID, false, journal.EditPayload{
		Generation: generation,
		Start:      start,
		End:        end,
		Error:      err.Error(),
	}); jErr != nil {
		s.logger.Warn("journal edit", slogError(jErr))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
