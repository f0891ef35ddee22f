package protocol

import "time"

// AudioFrame represents PCM audio data streamed from editor frontends for
// transports that feed a remote recognizer directly.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Note is a user-facing notification broadcast on the bus.
type Note struct {
	SessionID string    `json:"session_id,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Span mirrors an engine text span for rendering collaborators.
type Span struct {
	Start       int     `json:"start"`
	End         int     `json:"end"`
	Utterance   float64 `json:"utterance"`
	Provisional bool    `json:"provisional"`
	Command     bool    `json:"command"`
}

// SpanUpdate is a snapshot of the engine's span list after a mutation.
// Rendering collaborators use it to refresh provisional/command highlighting.
type SpanUpdate struct {
	SessionID  string    `json:"session_id"`
	Generation uint64    `json:"generation"`
	Point      int       `json:"point"`
	Spans      []Span    `json:"spans"`
	Timestamp  time.Time `json:"timestamp"`
}

// SpeechFinalized announces that an utterance reached speech-final.
type SpeechFinalized struct {
	SessionID string    `json:"session_id"`
	Utterance float64   `json:"utterance"`
	Text      string    `json:"text"`
	Command   bool      `json:"command"`
	Timestamp time.Time `json:"timestamp"`
}

// EditResult reports the outcome of a dispatched edit or fix operation.
type EditResult struct {
	SessionID  string    `json:"session_id"`
	Generation uint64    `json:"generation"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Text       string    `json:"text,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// CommandMode arms command mode; a zero timestamp means "now".
type CommandMode struct {
	Timestamp time.Time `json:"timestamp,omitempty"`
}

const (
	SubjectAudioFramePrefix = "audio.frame"

	SubjectNote        = "dictation.note"
	SubjectSpans       = "dictation.spans"
	SubjectSpeechFinal = "dictation.speech.final"
	SubjectEditApplied = "dictation.edit.applied"
	SubjectEditFailed  = "dictation.edit.failed"

	SubjectCtrlStart       = "ctrl.dictation.start"
	SubjectCtrlStop        = "ctrl.dictation.stop"
	SubjectCtrlCommandMode = "ctrl.dictation.command"
	SubjectCtrlFix         = "ctrl.dictation.fix"

	SubjectPresenceAnnounce  = "ctrl.presence.announce"
	SubjectPresenceHeartbeat = "ctrl.presence.heartbeat"
)
