package engine

import "github.com/voxedlabs/voxed/internal/document"

// resolveRegion computes the content region ending at end. An active
// selection overrides everything else. Otherwise the start falls back
// through fallbackStart (a prior-utterance insertion offset, negative when
// unavailable), the session anchor, and the start of the line containing
// end.
func resolveRegion(doc *document.Document, sess *session, fallbackStart, end int) (int, int, bool) {
	if s, e, ok := doc.Selection(); ok {
		return s, e, s < e
	}
	start := fallbackStart
	if start < 0 {
		if sess.anchorSet {
			start = sess.anchor
		} else {
			start = doc.LineStart(end)
		}
	}
	if start > end {
		start = end
	}
	return start, end, start < end
}
