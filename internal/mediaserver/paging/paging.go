// Package paging maps a caller-driven window onto a sequence of
// independently paged listings.
//
// Servers list seasons and episodes separately from shows. Concatenating
// the per-type listings in parent-first order and cutting windows out of
// the concatenation keeps every parent ahead of its children.
package paging

// Span is the part of one segment a window covers
type Span struct {
	Segment int // Index into the totals slice
	Start   int // Offset within the segment
	Size    int
}

// Split cuts [start, start+size) out of segments with the given totals.
// hasMore reports whether anything lies beyond the window.
func Split(totals []int, start, size int) (spans []Span, hasMore bool) {
	if size <= 0 {
		return nil, false
	}
	end := start + size
	offset, total := 0, 0
	for i, n := range totals {
		segStart, segEnd := offset, offset+n
		offset = segEnd
		total += n

		from, to := max(start, segStart), min(end, segEnd)
		if from < to {
			spans = append(spans, Span{Segment: i, Start: from - segStart, Size: to - from})
		}
	}
	return spans, end < total
}
