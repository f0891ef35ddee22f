package engine

import (
	"github.com/voxedlabs/voxed/internal/document"
	"github.com/voxedlabs/voxed/internal/transport"
)

// tracker remembers the span of the in-progress utterance and the one
// before it. Span ids are revalidated against the document on every use;
// an edit may have destroyed the span since it was recorded.
type tracker struct {
	curID        int
	curUtterance float64
	prevID       int
}

// reconcile decides whether ev continues the current utterance. A same-key
// event supersedes the prior text: the prior span is deleted and its start
// offset becomes the insertion position. A new key demotes the current
// span to "previous" and inserts at the point.
func (t *tracker) reconcile(doc *document.Document, ev transport.RecognitionEvent) (pos int, replaced bool) {
	if t.curID != 0 && t.curUtterance == ev.UtteranceStart {
		if start, ok := doc.DeleteSpan(t.curID); ok {
			return start, true
		}
		return doc.Point(), false
	}
	if t.curID != 0 {
		t.prevID = t.curID
	}
	return doc.Point(), false
}

func (t *tracker) record(s *document.Span, utterance float64) {
	t.curID = s.ID
	t.curUtterance = utterance
}

// dropCurrent forgets the in-progress span without touching "previous".
// Used when the command span is consumed by a dispatch.
func (t *tracker) dropCurrent() {
	t.curID = 0
	t.curUtterance = 0
}

func (t *tracker) reset() {
	*t = tracker{}
}
