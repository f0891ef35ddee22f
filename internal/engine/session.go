package engine

import "time"

// session is the dictation lifecycle state. The generation counter tags
// async edit results so responses arriving after a stop or reset can be
// detected and discarded.
type session struct {
	active           bool
	dictationStart   time.Time
	commandModeStart time.Time // zero while command mode is not armed
	anchor           int
	anchorSet        bool
	generation       uint64
}

func (s *session) open() {
	s.active = true
	s.generation++
}

// reset clears everything, including an armed command-mode timer, and
// bumps the generation so in-flight edit results are discarded.
func (s *session) reset() {
	s.active = false
	s.dictationStart = time.Time{}
	s.commandModeStart = time.Time{}
	s.anchor = 0
	s.anchorSet = false
	s.generation++
}

func (s *session) commandArmed() bool {
	return !s.commandModeStart.IsZero()
}
