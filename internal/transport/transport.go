// Package transport delivers speech recognition events to the engine.
//
// Two transports are provided: an exec transport that spawns a recognizer
// CLI and frames its line-oriented stdout, and a Deepgram transport that
// holds a streaming WebSocket session fed by PCM frames from the bus. Both
// emit the same RecognitionEvent stream.
package transport

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// RecognitionEvent is one message from the speech recognizer. Events sharing
// an UtteranceStart are revisions of the same utterance; a later event with
// the same key supersedes the text of the earlier one.
type RecognitionEvent struct {
	// UtteranceStart is the speech-time offset in seconds and the stable
	// key for "which utterance this belongs to".
	UtteranceStart float64

	// IsFinal marks the terminal representation of one recognition window.
	IsFinal bool

	// SpeechFinal marks the entire utterance as complete. It is
	// monotonically the last event for that utterance.
	SpeechFinal bool

	// Transcript is the best-alternative transcript text.
	Transcript string
}

// Handler receives transport callbacks. Calls are made from the transport's
// read goroutine, one at a time, preserving event order.
type Handler interface {
	// HandleReady signals the recognizer is listening.
	HandleReady()

	// HandleEvent delivers one decoded recognition event.
	HandleEvent(ev RecognitionEvent)

	// HandleClosed reports that the transport terminated. err is nil for a
	// clean shutdown initiated through Session.Close.
	HandleClosed(err error)
}

// Transport opens recognition sessions.
type Transport interface {
	Start(ctx context.Context, h Handler) (Session, error)
}

// Session is a live recognition stream.
type Session interface {
	Close() error
}

var droppedLines = func() metric.Int64Counter {
	c, err := otel.Meter("github.com/voxedlabs/voxed/transport").Int64Counter(
		"voxed.transport.dropped_lines",
		metric.WithDescription("Recognizer payloads dropped as malformed"))
	if err != nil {
		return nil
	}
	return c
}()

func countDropped() {
	if droppedLines != nil {
		droppedLines.Add(context.Background(), 1)
	}
}
