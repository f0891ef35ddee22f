package transport

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ReadyLine is printed by the recognizer CLI once it is listening.
const ReadyLine = "Press Enter to stop recording"

// payloadPrefix marks transcription payload lines on the recognizer stdout.
const payloadPrefix = "Output: "

// LineKind classifies one line of recognizer output.
type LineKind int

const (
	// LineIgnored is any line that is neither a readiness signal nor a
	// well-formed payload.
	LineIgnored LineKind = iota
	// LineReady is the readiness signal.
	LineReady
	// LineEvent is a decoded transcription payload.
	LineEvent
)

// payloadMessage is the recognizer's JSON payload shape. Only the first
// alternative is consumed.
type payloadMessage struct {
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
	Start       float64 `json:"start"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
}

// ParseLine classifies one line of recognizer output. A malformed payload
// line yields (LineIgnored, non-nil error): the line is dropped and the
// stream continues.
func ParseLine(line string) (RecognitionEvent, LineKind, error) {
	if line == ReadyLine {
		return RecognitionEvent{}, LineReady, nil
	}
	payload, ok := strings.CutPrefix(line, payloadPrefix)
	if !ok {
		return RecognitionEvent{}, LineIgnored, nil
	}

	var msg payloadMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return RecognitionEvent{}, LineIgnored, fmt.Errorf("decode transcription payload: %w", err)
	}

	transcript := ""
	if len(msg.Channel.Alternatives) > 0 {
		transcript = msg.Channel.Alternatives[0].Transcript
	}

	return RecognitionEvent{
		UtteranceStart: msg.Start,
		IsFinal:        msg.IsFinal,
		SpeechFinal:    msg.SpeechFinal,
		Transcript:     transcript,
	}, LineEvent, nil
}
