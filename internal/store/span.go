package store

import "time"

// Span is a half-open time range [Start, End).
type Span struct {
	Start time.Time
	End   time.Time
}

// Spans tiles [from, to] with windows of length size every step. The last
// window is the first one whose end reaches to; windows are never clipped.
func Spans(from, to time.Time, size, step time.Duration) []Span {
	if size <= 0 || step <= 0 || to.Before(from) {
		return nil
	}

	var out []Span
	for start := from; !start.After(to); start = start.Add(step) {
		end := start.Add(size)
		out = append(out, Span{Start: start, End: end})
		if !end.Before(to) {
			break
		}
	}
	return out
}
