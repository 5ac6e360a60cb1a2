package plasma

import (
	"time"
)

// DetectCadence returns the most frequent gap between consecutive samples.
// Ties go to the smallest gap. ok is false when there are fewer than two
// samples. samples must already be sorted.
func DetectCadence(samples []Sample) (cadence time.Duration, ok bool) {
	if len(samples) < 2 {
		return 0, false
	}

	counts := make(map[time.Duration]int, len(samples))
	for i := 1; i < len(samples); i++ {
		counts[samples[i].Time.Sub(samples[i-1].Time)]++
	}

	best := -1
	for gap, n := range counts {
		if n > best || (n == best && gap < cadence) {
			cadence, best = gap, n
		}
	}
	return cadence, true
}

// Resample brings sorted samples onto the canonical 5-minute cadence.
//
// Policy by modal interval m:
//   - fewer than two rows: returned unchanged
//   - m < 5min: averaged into 5-minute buckets anchored at the first row
//   - m == 5min: returned unchanged
//   - m > 5min: *SparseDataError, nothing is interpolated
//
// The result never aliases the input.
func Resample(samples []Sample) ([]Sample, error) {
	cadence, ok := DetectCadence(samples)
	switch {
	case !ok || cadence == CanonicalCadence:
		return append([]Sample(nil), samples...), nil
	case cadence > CanonicalCadence:
		return nil, &SparseDataError{Interval: cadence}
	}
	return bucketMeans(samples, CanonicalCadence), nil
}

// bucketAcc accumulates per-field sums for one bucket.
type bucketAcc struct {
	start time.Time
	sum   [4]float64
	n     [4]int
}

func (b *bucketAcc) add(s Sample) {
	for i, f := range [4]Float{s.Np, s.Vp, s.Tp, s.Alpha} {
		if f.Valid {
			b.sum[i] += f.Value
			b.n[i]++
		}
	}
}

// mean returns the bucket row, or false when any field had no values.
func (b *bucketAcc) mean() (Sample, bool) {
	var m [4]Float
	for i := range m {
		if b.n[i] == 0 {
			return Sample{}, false
		}
		m[i] = Of(b.sum[i] / float64(b.n[i]))
	}
	return Sample{Time: b.start, Np: m[0], Vp: m[1], Tp: m[2], Alpha: m[3]}, true
}

// bucketMeans groups sorted samples into left-closed intervals of width
// anchored at the first sample. Buckets that end up with a field lacking
// any value are not materialized.
func bucketMeans(samples []Sample, width time.Duration) []Sample {
	if len(samples) == 0 {
		return nil
	}

	origin := samples[0].Time
	out := make([]Sample, 0, len(samples))

	var cur *bucketAcc
	flush := func() {
		if cur == nil {
			return
		}
		if row, ok := cur.mean(); ok {
			out = append(out, row)
		}
	}

	for _, s := range samples {
		idx := s.Time.Sub(origin) / width
		start := origin.Add(idx * width)
		if cur == nil || !cur.start.Equal(start) {
			flush()
			cur = &bucketAcc{start: start}
		}
		cur.add(s)
	}
	flush()

	return out
}
