// Package chunker turns a tree-sitter parse tree and a token budget into an
// ordered, gap-free sequence of syntactically-aligned chunks.
package chunker

// Span is a half-open byte interval [Start, End) over an immutable source
// buffer. It carries no reference to the buffer itself — callers extract
// against whichever buffer the span was computed from.
type Span struct {
	Start int
	End   int
	// Meta is opaque payload a caller may attach and read back; the chunker
	// itself never inspects it.
	Meta any
}

// NewSpan returns the span [start, end). It does not validate start <= end —
// callers that need Span(a,b) ⊕ Span(c,d) = Span(a,d) semantics rely on that.
func NewSpan(start, end int) Span {
	return Span{Start: start, End: end}
}

// Len returns End - Start.
func (s Span) Len() int {
	return s.End - s.Start
}

// Empty reports whether the span covers zero bytes.
func (s Span) Empty() bool {
	return s.End == s.Start
}

// Extract returns the sub-slice of buf covered by the span.
func (s Span) Extract(buf []byte) []byte {
	return buf[s.Start:s.End]
}

// ExtractLines returns the source lines that overlap the span, joined with
// "\n". Unlike Extract this snaps outward to whole lines: if Start/End fall
// mid-line, the entire containing line is included.
func (s Span) ExtractLines(buf []byte) string {
	if s.Start >= s.End {
		return ""
	}
	lineStart := lineStartBefore(buf, s.Start)
	lineEnd := lineEndAfter(buf, s.End)
	return string(buf[lineStart:lineEnd])
}

// lineStartBefore returns the byte offset of the start of the line
// containing pos.
func lineStartBefore(buf []byte, pos int) int {
	for i := pos - 1; i >= 0; i-- {
		if buf[i] == '\n' {
			return i + 1
		}
	}
	return 0
}

// lineEndAfter returns the byte offset just past the end of the line
// containing pos-1 (i.e. the newline itself, if present).
func lineEndAfter(buf []byte, pos int) int {
	for i := pos - 1; i < len(buf); i++ {
		if buf[i] == '\n' {
			return i + 1
		}
	}
	return len(buf)
}

// Concat implements Span(a,b) ⊕ Span(c,d) = Span(a,d). There is no
// validation that b == c — callers that rely on contiguity must ensure it
// themselves.
func (s Span) Concat(other Span) Span {
	return Span{Start: s.Start, End: other.End}
}

// Shift returns the span moved by offset bytes.
func (s Span) Shift(offset int) Span {
	return Span{Start: s.Start + offset, End: s.End + offset, Meta: s.Meta}
}
