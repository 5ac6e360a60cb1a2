package plasma

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

const tsLayout = "2006-01-02 15:04:05"

// steady returns a quiet solar wind row.
func steady(ts time.Time) RawSample {
	return RawSample{
		Timestamp:         ts.Format(tsLayout),
		ProtonDensity:     Of(5),
		ProtonSpeed:       Of(400),
		ProtonTemperature: Of(1e5),
		AlphaDensity:      Of(0.05),
	}
}

func makeWindow(n int, step time.Duration, mod func(i int, s *RawSample)) RawWindow {
	w := RawWindow{Columns: append([]string(nil), RequiredColumns...)}
	for i := 0; i < n; i++ {
		s := steady(t0.Add(time.Duration(i) * step))
		if mod != nil {
			mod(i, &s)
		}
		w.Samples = append(w.Samples, s)
	}
	return w
}

func assertAllMissing(t *testing.T, fv FeatureVector) {
	t.Helper()
	for i, f := range fv.Fields() {
		assert.False(t, f.Valid, "field %s should be missing", FeatureNames[i])
	}
	assert.True(t, fv.Missing())
	assert.False(t, fv.Complete())
}

// =============================================================================
// Validator
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		missing []string
	}{
		{"all present", RequiredColumns, nil},
		{"extra columns ignored", append([]string{"flag", "bulk_speed"}, RequiredColumns...), nil},
		{"no timestamp", []string{ColProtonDensity, ColProtonSpeed, ColProtonTemperature, ColAlphaDensity}, []string{ColTimestamp}},
		{"only timestamp", []string{ColTimestamp}, []string{ColProtonDensity, ColProtonSpeed, ColProtonTemperature, ColAlphaDensity}},
		{"empty", nil, RequiredColumns},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(RawWindow{Columns: tt.columns})
			if tt.missing == nil {
				assert.NoError(t, err)
				return
			}
			var se *SchemaError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.missing, se.Missing)
			assert.ErrorIs(t, err, ErrSchema)
			assert.Contains(t, err.Error(), "≤5-minute")
		})
	}
}

func TestExtractFeatures_SchemaErrorBeforeComputation(t *testing.T) {
	w := makeWindow(10, 10*time.Minute, nil)
	w.Columns = []string{ColTimestamp, ColProtonSpeed}

	_, err := ExtractFeatures(w)
	assert.ErrorIs(t, err, ErrSchema)
	assert.NotErrorIs(t, err, ErrSparseData)
}

// =============================================================================
// Timestamp Normalizer
// =============================================================================

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-05-10 12:00:00", t0, true},
		{"2024-05-10T12:00:00Z", t0, true},
		{" 2024-05-10T14:00:00+02:00 ", t0, true},
		{"2024/05/10 12:00:00", t0, true},
		{"", time.Time{}, false},
		{"not a time", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %v", got)
				assert.Equal(t, time.UTC, got.Location())
			}
		})
	}
}

func TestNormalize_DropsAndSortsStable(t *testing.T) {
	raw := []RawSample{
		{Timestamp: t0.Add(10 * time.Minute).Format(tsLayout), ProtonDensity: Of(3)},
		{Timestamp: "garbage", ProtonDensity: Of(99)},
		{Timestamp: t0.Format(tsLayout), ProtonDensity: Of(1)},
		{Timestamp: t0.Add(5 * time.Minute).Format(tsLayout), ProtonDensity: Of(2)},
		{Timestamp: t0.Format(tsLayout), ProtonDensity: Of(1.5)},
	}

	got := Normalize(raw)
	require.Len(t, got, 4)

	var np []float64
	for _, s := range got {
		np = append(np, s.Np.Value)
	}
	assert.Equal(t, []float64{1, 1.5, 2, 3}, np)
}

func TestNormalize_AllInvalid(t *testing.T) {
	got := Normalize([]RawSample{{Timestamp: "x"}, {Timestamp: ""}})
	assert.Empty(t, got)

	w := RawWindow{Columns: RequiredColumns, Samples: []RawSample{{Timestamp: "x"}, {Timestamp: "y"}}}
	fv, err := ExtractFeatures(w)
	require.NoError(t, err)
	assertAllMissing(t, fv)
}

// =============================================================================
// Cadence Resampler
// =============================================================================

func samplesAt(offsets ...time.Duration) []Sample {
	out := make([]Sample, len(offsets))
	for i, d := range offsets {
		out[i] = Sample{Time: t0.Add(d), Np: Of(5), Vp: Of(400), Tp: Of(1e5), Alpha: Of(0.05)}
	}
	return out
}

func TestDetectCadence(t *testing.T) {
	m := time.Minute

	_, ok := DetectCadence(nil)
	assert.False(t, ok)
	_, ok = DetectCadence(samplesAt(0))
	assert.False(t, ok)

	c, ok := DetectCadence(samplesAt(0, 5*m, 10*m, 12*m, 17*m))
	require.True(t, ok)
	assert.Equal(t, 5*m, c)

	// Tie between 1m and 2m goes to the smaller gap.
	c, ok = DetectCadence(samplesAt(0, 2*m, 3*m, 5*m, 6*m))
	require.True(t, ok)
	assert.Equal(t, m, c)
}

func TestResample_CanonicalIsNoOp(t *testing.T) {
	in := samplesAt(0, 5*time.Minute, 10*time.Minute, 15*time.Minute)
	in[2].Vp = Of(450)

	out, err := Resample(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// No aliasing of the caller's slice.
	out[0].Np = Of(-1)
	assert.Equal(t, 5.0, in[0].Np.Value)
}

func TestResample_TooFewRowsPassThrough(t *testing.T) {
	in := samplesAt(0)
	out, err := Resample(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestResample_Sparse(t *testing.T) {
	_, err := Resample(samplesAt(0, 10*time.Minute, 20*time.Minute, 30*time.Minute))

	var se *SparseDataError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 10*time.Minute, se.Interval)
	assert.ErrorIs(t, err, ErrSparseData)
	assert.Contains(t, err.Error(), "interval ≈ 600s")
}

func TestResample_BucketsAnchoredAtFirstRow(t *testing.T) {
	m := time.Minute
	in := samplesAt(2*m, 3*m, 4*m, 5*m, 6*m, 7*m, 8*m)
	for i := range in {
		in[i].Vp = Of(float64(400 + i*10))
	}

	out, err := Resample(in)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.True(t, out[0].Time.Equal(t0.Add(2*m)))
	assert.True(t, out[1].Time.Equal(t0.Add(7*m)))
	assert.InDelta(t, 420.0, out[0].Vp.Value, 1e-9) // mean of 400..440
	assert.InDelta(t, 455.0, out[1].Vp.Value, 1e-9) // mean of 450, 460
}

func TestResample_EmptyAndPartialBuckets(t *testing.T) {
	m := time.Minute
	in := samplesAt(0, m, 2*m, 3*m, 4*m, 11*m, 12*m, 13*m, 16*m)
	// Bucket [10m,15m) loses every alpha value; the mean skips missing values
	// but a field with none at all drops the bucket.
	in[5].Alpha, in[6].Alpha, in[7].Alpha = Missing, Missing, Missing
	// Bucket [0,5m) keeps a partially missing density.
	in[1].Np = Missing
	in[2].Np = Of(9)

	out, err := Resample(in)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.True(t, out[0].Time.Equal(t0))
	assert.InDelta(t, (5+9+5+5)/4.0, out[0].Np.Value, 1e-12)
	assert.True(t, out[1].Time.Equal(t0.Add(15*m)))
}

// =============================================================================
// Feature Derivator
// =============================================================================

func TestDerive_RollingStdEdgesAndGaps(t *testing.T) {
	in := samplesAt(0, 5*time.Minute, 10*time.Minute, 15*time.Minute, 20*time.Minute)
	speeds := []float64{400, 410, 430, 420, 400}
	for i, v := range speeds {
		in[i].Vp = Of(v)
	}

	std := rollingStd(in)
	require.Len(t, std, 5)
	assert.False(t, std[0].Valid)
	assert.False(t, std[4].Valid)
	assert.InDelta(t, math.Sqrt(700.0/3), std[1].Value, 1e-9)
	assert.InDelta(t, 10.0, std[2].Value, 1e-9)
	assert.InDelta(t, math.Sqrt(700.0/3), std[3].Value, 1e-9)

	in[1].Vp = Missing
	std = rollingStd(in)
	assert.False(t, std[1].Valid)
	assert.False(t, std[2].Valid)
	assert.True(t, std[3].Valid)
}

func TestDerive_DropsIncompleteRows(t *testing.T) {
	in := samplesAt(0, 5*time.Minute, 10*time.Minute, 15*time.Minute, 20*time.Minute, 25*time.Minute)
	for i := range in {
		in[i].Vp = Of(400 + float64(i%2)*20)
	}
	in[2].Np = Of(0)             // alpha_proton_ratio missing
	in[3].Tp = Of(0)             // alpha_tp_ratio missing
	in[4].Alpha = Of(math.NaN()) // upstream NaN

	rows := Derive(in)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Time.Equal(in[1].Time))
	assert.True(t, rows[0].Complete())
}

func TestDerive_OverflowBecomesMissing(t *testing.T) {
	in := samplesAt(0, 5*time.Minute, 10*time.Minute)
	in[1].Vp = Of(410)
	in[1].Alpha = Of(1e300)
	in[1].Tp = Of(1e-300)

	assert.Empty(t, Derive(in))
}

// =============================================================================
// Window Aggregator
// =============================================================================

func TestAggregate(t *testing.T) {
	assertAllMissing(t, Aggregate(nil))

	rows := []DerivedRow{
		{AlphaProtonRatio: Of(0.01), VpStd15Min: Of(10), AlphaOverVpStd: Of(0.001), AlphaTpRatio: Of(4e-7)},
		{AlphaProtonRatio: Of(0.03), VpStd15Min: Of(20), AlphaOverVpStd: Of(0.0015), AlphaTpRatio: Of(6e-7)},
	}
	fv := Aggregate(rows)
	require.True(t, fv.Complete())
	assert.InDelta(t, 0.02, fv.AlphaProtonRatio.Value, 1e-15)
	assert.InDelta(t, 15.0, fv.VpStd15Min.Value, 1e-12)
	assert.InDelta(t, 0.00125, fv.AlphaOverVpStd.Value, 1e-15)
	assert.InDelta(t, 5e-7, fv.AlphaTpRatio.Value, 1e-18)
}

// =============================================================================
// End to end
// =============================================================================

func TestExtractFeatures_CanonicalCadenceFinite(t *testing.T) {
	speeds := []float64{400, 410, 430, 420, 400}
	w := makeWindow(len(speeds), 5*time.Minute, func(i int, s *RawSample) {
		s.ProtonSpeed = Of(speeds[i])
	})

	fv, err := ExtractFeatures(w)
	require.NoError(t, err)
	require.True(t, fv.Complete())

	s1 := math.Sqrt(700.0 / 3)
	assert.InDelta(t, 0.01, fv.AlphaProtonRatio.Value, 1e-12)
	assert.InDelta(t, (s1+10+s1)/3, fv.VpStd15Min.Value, 1e-9)
	assert.InDelta(t, (0.01/s1+0.001+0.01/s1)/3, fv.AlphaOverVpStd.Value, 1e-12)
	assert.InDelta(t, 5e-7, fv.AlphaTpRatio.Value, 1e-15)

	for _, v := range fv.Values() {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
}

func TestExtractFeatures_SparseRejected(t *testing.T) {
	w := makeWindow(12, 10*time.Minute, nil)
	_, err := ExtractFeatures(w)
	assert.ErrorIs(t, err, ErrSparseData)
}

func TestExtractFeatures_FewerThanThreeRows(t *testing.T) {
	for n := 0; n < 3; n++ {
		w := makeWindow(n, 5*time.Minute, func(i int, s *RawSample) {
			s.ProtonSpeed = Of(400 + float64(i)*7)
		})
		fv, err := ExtractFeatures(w)
		require.NoError(t, err)
		assertAllMissing(t, fv)
	}
}

func TestExtractFeatures_ConstantSpeedOneMinute(t *testing.T) {
	w := makeWindow(20, time.Minute, nil)

	res, err := Extract(w)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, res.Trace.Cadence)
	assert.True(t, res.Trace.Resampled)
	require.Len(t, res.Canonical, 4)
	for _, s := range res.Canonical {
		assert.Equal(t, 400.0, s.Vp.Value)
		assert.InDelta(t, 0.01, s.Alpha.Value/s.Np.Value, 1e-15)
	}
	assert.Equal(t, 0, res.Trace.DerivedRows)
	assert.True(t, res.Insufficient())
	assertAllMissing(t, res.Features)
}

func TestExtractFeatures_SingleRowZeroDensity(t *testing.T) {
	w := makeWindow(1, time.Minute, func(_ int, s *RawSample) {
		s.ProtonDensity = Of(0)
	})
	fv, err := ExtractFeatures(w)
	require.NoError(t, err)
	assertAllMissing(t, fv)
}

func TestExtractFeatures_UnparsableTimestampInterleaved(t *testing.T) {
	speeds := []float64{400, 410, 430, 420, 400}
	clean := makeWindow(len(speeds), 5*time.Minute, func(i int, s *RawSample) {
		s.ProtonSpeed = Of(speeds[i])
	})

	dirty := clean
	dirty.Samples = nil
	for i, s := range clean.Samples {
		dirty.Samples = append(dirty.Samples, s)
		if i == 2 {
			bad := steady(t0)
			bad.Timestamp = "corrupt-record"
			bad.ProtonSpeed = Of(9999)
			dirty.Samples = append(dirty.Samples, bad)
		}
	}

	res, err := Extract(dirty)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Trace.DroppedRows)
	assert.Equal(t, CanonicalCadence, res.Trace.Cadence)
	assert.False(t, res.Trace.Resampled)

	want, err := ExtractFeatures(clean)
	require.NoError(t, err)
	assert.Equal(t, want, res.Features)
}

func TestExtract_OutOfOrderInput(t *testing.T) {
	speeds := []float64{400, 410, 430, 420, 400}
	w := makeWindow(len(speeds), 5*time.Minute, func(i int, s *RawSample) {
		s.ProtonSpeed = Of(speeds[i])
	})
	want, err := ExtractFeatures(w)
	require.NoError(t, err)

	shuffled := w
	shuffled.Samples = []RawSample{w.Samples[3], w.Samples[0], w.Samples[4], w.Samples[2], w.Samples[1]}
	got, err := Extract(shuffled)
	require.NoError(t, err)
	assert.Equal(t, want, got.Features)
	assert.True(t, got.Start.Equal(t0))
	assert.True(t, got.End.Equal(t0.Add(20*time.Minute)))
}

func TestExtract_DerivationIsIdempotent(t *testing.T) {
	w := makeWindow(45, time.Minute, func(i int, s *RawSample) {
		s.ProtonSpeed = Of(400 + 15*math.Sin(float64(i)/3))
		s.AlphaDensity = Of(0.04 + 0.002*float64(i%4))
	})

	res, err := Extract(w)
	require.NoError(t, err)
	require.True(t, res.Features.Complete())

	again := Aggregate(Derive(res.Canonical))
	assert.Equal(t, res.Features, again)
}

// =============================================================================
// Float
// =============================================================================

func TestFloat(t *testing.T) {
	assert.False(t, Of(math.NaN()).Valid)
	assert.False(t, Of(math.Inf(-1)).Valid)
	assert.Equal(t, 2.5, Of(2.5).Or(0))
	assert.Equal(t, -1.0, Missing.Or(-1))
	assert.Equal(t, "NaN", Missing.String())

	fv := FeatureVector{AlphaProtonRatio: Of(0.01), VpStd15Min: Of(12.5)}
	b, err := json.Marshal(fv)
	require.NoError(t, err)
	assert.JSONEq(t, `{"alpha_proton_ratio":0.01,"vp_std_15min":12.5,"alpha_over_vpstd":null,"alpha_tp_ratio":null}`, string(b))

	var back FeatureVector
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, fv, back)
}

func TestErrorsAreDistinct(t *testing.T) {
	var err error = &SparseDataError{Interval: 7 * time.Minute}
	assert.False(t, errors.Is(err, ErrSchema))
	assert.Contains(t, err.Error(), "420s")
}

func TestSampleRaw(t *testing.T) {
	s := Sample{
		Time: time.Date(2024, 5, 10, 12, 5, 0, 0, time.UTC),
		Np:   Of(4.2),
		Vp:   Of(512),
		Tp:   Missing,
	}
	raw := s.Raw()
	assert.Equal(t, "2024-05-10T12:05:00Z", raw.Timestamp)
	assert.Equal(t, Of(512), raw.ProtonSpeed)
	assert.False(t, raw.ProtonTemperature.Valid)

	back := Normalize([]RawSample{raw})
	require.Len(t, back, 1)
	assert.Equal(t, s, back[0])
}
