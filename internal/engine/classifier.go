package engine

import (
	"time"

	"github.com/voxedlabs/voxed/internal/transport"
)

// classify reports whether ev is a spoken command. Only final events are
// evaluated; provisional events carry unreliable timing and never flip
// classification. An event is a command iff command mode was armed before
// the utterance's speech began.
func classify(commandModeStart, dictationStart time.Time, ev transport.RecognitionEvent) bool {
	if !ev.IsFinal || commandModeStart.IsZero() {
		return false
	}
	utteranceTime := dictationStart.Add(time.Duration(ev.UtteranceStart * float64(time.Second)))
	return commandModeStart.Before(utteranceTime)
}
