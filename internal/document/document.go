// Package document implements the engine-owned document model: a rune
// buffer with an explicit insertion point, an optional mark (selection),
// and an ordered list of text spans tagging runs of inserted transcript
// text. Rendering collaborators never mutate this state; they consume span
// snapshots published on the bus.
package document

import "fmt"

// Span is a run of inserted text tagged with the recognition event that
// produced it. Offsets are rune offsets into the document.
type Span struct {
	ID          int
	Start       int
	End         int
	Utterance   float64
	Provisional bool
	Command     bool
}

// Document is a mutable text buffer. It is not safe for concurrent use; the
// engine serializes all access.
type Document struct {
	text   []rune
	point  int
	mark   int
	marked bool

	spans  []*Span
	nextID int
}

func New() *Document {
	return &Document{nextID: 1}
}

func (d *Document) Len() int { return len(d.text) }

func (d *Document) String() string { return string(d.text) }

// Text returns the document text in [start, end), clamped to bounds.
func (d *Document) Text(start, end int) string {
	start, end = d.clampRange(start, end)
	return string(d.text[start:end])
}

func (d *Document) Point() int { return d.point }

func (d *Document) SetPoint(p int) {
	d.point = clamp(p, 0, len(d.text))
}

// SetMark activates a selection between the mark and the point.
func (d *Document) SetMark(p int) {
	d.mark = clamp(p, 0, len(d.text))
	d.marked = true
}

func (d *Document) ClearMark() {
	d.marked = false
}

// Selection returns the active selection bounds, ordered, if a mark is set.
func (d *Document) Selection() (start, end int, ok bool) {
	if !d.marked {
		return 0, 0, false
	}
	if d.mark <= d.point {
		return d.mark, d.point, true
	}
	return d.point, d.mark, true
}

// LineStart returns the offset of the first character of the line
// containing pos.
func (d *Document) LineStart(pos int) int {
	pos = clamp(pos, 0, len(d.text))
	for i := pos - 1; i >= 0; i-- {
		if d.text[i] == '\n' {
			return i + 1
		}
	}
	return 0
}

// InsertAt inserts plain text at pos, shifting the point, mark, and spans
// at or after pos.
func (d *Document) InsertAt(pos int, text string) {
	pos = clamp(pos, 0, len(d.text))
	runes := []rune(text)
	if len(runes) == 0 {
		return
	}
	out := make([]rune, 0, len(d.text)+len(runes))
	out = append(out, d.text[:pos]...)
	out = append(out, runes...)
	out = append(out, d.text[pos:]...)
	d.text = out
	d.shift(pos, len(runes))
}

// InsertSpanAt inserts text at pos and records a span covering it.
func (d *Document) InsertSpanAt(pos int, text string, utterance float64, provisional, command bool) *Span {
	pos = clamp(pos, 0, len(d.text))
	d.InsertAt(pos, text)
	s := &Span{
		ID:          d.nextID,
		Start:       pos,
		End:         pos + len([]rune(text)),
		Utterance:   utterance,
		Provisional: provisional,
		Command:     command,
	}
	d.nextID++
	d.insertSpanOrdered(s)
	return s
}

// Delete removes [start, end). Spans fully inside the range are destroyed;
// spans overlapping it are truncated; later spans shift left. The point and
// mark collapse into the deleted range.
func (d *Document) Delete(start, end int) {
	start, end = d.clampRange(start, end)
	if start == end {
		return
	}
	n := end - start
	d.text = append(d.text[:start], d.text[end:]...)

	kept := d.spans[:0]
	for _, s := range d.spans {
		switch {
		case s.End <= start:
			// untouched
		case s.Start >= end:
			s.Start -= n
			s.End -= n
		case s.Start >= start && s.End <= end:
			continue // destroyed
		default:
			s.Start = collapseOffset(s.Start, start, end)
			s.End = collapseOffset(s.End, start, end)
			if s.Start >= s.End {
				continue
			}
		}
		kept = append(kept, s)
	}
	d.spans = kept

	d.point = collapseOffset(d.point, start, end)
	if d.marked {
		d.mark = collapseOffset(d.mark, start, end)
	}
}

// DeleteSpan removes the span's text range and the span record itself.
// It reports whether the span was still tracked.
func (d *Document) DeleteSpan(id int) (start int, ok bool) {
	s, ok := d.Span(id)
	if !ok {
		return 0, false
	}
	start = s.Start
	d.Delete(s.Start, s.End)
	// Delete destroys fully-covered spans, including this one.
	return start, true
}

// Replace substitutes [start, end) with text. Spans inside the region are
// destroyed; the point moves to the end of the replacement.
func (d *Document) Replace(start, end int, text string) {
	start, end = d.clampRange(start, end)
	d.Delete(start, end)
	d.InsertAt(start, text)
	d.point = start + len([]rune(text))
}

// Span returns the live span with the given id.
func (d *Document) Span(id int) (*Span, bool) {
	for _, s := range d.spans {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Spans returns a snapshot of the span list ordered by start offset.
func (d *Document) Spans() []Span {
	out := make([]Span, len(d.spans))
	for i, s := range d.spans {
		out[i] = *s
	}
	return out
}

// SetSpanFlags updates the provisional/command flags on a live span.
func (d *Document) SetSpanFlags(id int, provisional, command bool) error {
	s, ok := d.Span(id)
	if !ok {
		return fmt.Errorf("span %d no longer exists", id)
	}
	s.Provisional = provisional
	s.Command = command
	return nil
}

func (d *Document) insertSpanOrdered(s *Span) {
	idx := len(d.spans)
	for i, existing := range d.spans {
		if existing.Start > s.Start {
			idx = i
			break
		}
	}
	d.spans = append(d.spans, nil)
	copy(d.spans[idx+1:], d.spans[idx:])
	d.spans[idx] = s
}

// shift moves the point, mark, and spans at or after pos right by n.
func (d *Document) shift(pos, n int) {
	for _, s := range d.spans {
		if s.Start >= pos {
			s.Start += n
		}
		if s.End > pos {
			s.End += n
		}
	}
	if d.point >= pos {
		d.point += n
	}
	if d.marked && d.mark >= pos {
		d.mark += n
	}
}

func (d *Document) clampRange(start, end int) (int, int) {
	start = clamp(start, 0, len(d.text))
	end = clamp(end, 0, len(d.text))
	if start > end {
		start, end = end, start
	}
	return start, end
}

func collapseOffset(off, start, end int) int {
	switch {
	case off <= start:
		return off
	case off >= end:
		return off - (end - start)
	default:
		return start
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
