package plasma

import (
	"gonum.org/v1/gonum/stat"
)

// rollingWindow is the centered window length for speed variability. Three
// 5-minute rows span 15 minutes.
const rollingWindow = 3

// Derive computes the physics features for every resampled row and keeps
// only rows where all four are present.
func Derive(samples []Sample) []DerivedRow {
	vpStd := rollingStd(samples)

	out := make([]DerivedRow, 0, len(samples))
	for i, s := range samples {
		apr := div(s.Alpha, s.Np)
		row := DerivedRow{
			Time:             s.Time,
			AlphaProtonRatio: apr,
			VpStd15Min:       vpStd[i],
			AlphaOverVpStd:   div(apr, vpStd[i]),
			AlphaTpRatio:     div(s.Alpha, s.Tp),
		}
		if row.Complete() {
			out = append(out, row)
		}
	}
	return out
}

// rollingStd returns the sample standard deviation (n-1) of Vp over the
// centered window {i-1, i, i+1}. Edges, and windows holding a missing
// speed, are missing.
func rollingStd(samples []Sample) []Float {
	out := make([]Float, len(samples))
	half := rollingWindow / 2
	buf := make([]float64, 0, rollingWindow)

	for i := half; i < len(samples)-half; i++ {
		buf = buf[:0]
		for j := i - half; j <= i+half; j++ {
			if !samples[j].Vp.Valid {
				break
			}
			buf = append(buf, samples[j].Vp.Value)
		}
		if len(buf) < rollingWindow {
			continue
		}
		out[i] = Of(stat.StdDev(buf, nil))
	}
	return out
}

// Aggregate averages each derived field across rows. An empty input gives
// an all-missing vector.
func Aggregate(rows []DerivedRow) FeatureVector {
	if len(rows) == 0 {
		return FeatureVector{}
	}

	cols := [4][]float64{}
	for i := range cols {
		cols[i] = make([]float64, 0, len(rows))
	}
	for _, r := range rows {
		if !r.Complete() {
			continue
		}
		cols[0] = append(cols[0], r.AlphaProtonRatio.Value)
		cols[1] = append(cols[1], r.VpStd15Min.Value)
		cols[2] = append(cols[2], r.AlphaOverVpStd.Value)
		cols[3] = append(cols[3], r.AlphaTpRatio.Value)
	}
	if len(cols[0]) == 0 {
		return FeatureVector{}
	}

	var m [4]Float
	for i, c := range cols {
		m[i] = Of(stat.Mean(c, nil))
	}
	// Means of finite values can still overflow; keep the vector all-or-nothing.
	for _, f := range m {
		if !f.Valid {
			return FeatureVector{}
		}
	}

	return FeatureVector{
		AlphaProtonRatio: m[0],
		VpStd15Min:       m[1],
		AlphaOverVpStd:   m[2],
		AlphaTpRatio:     m[3],
	}
}
