package plasma

import (
	"time"
)

// Trace records row counts as the window moves through the stages.
type Trace struct {
	RawRows       int           // Rows supplied by the caller
	ValidRows     int           // Rows with a parseable timestamp
	DroppedRows   int           // Rows dropped for bad timestamps
	Cadence       time.Duration // Modal interval, zero when undetectable
	Resampled     bool          // True when 5-minute bucketing ran
	CanonicalRows int           // Rows after resampling
	DerivedRows   int           // Rows surviving derivation
}

// Result is the full outcome of one pipeline run.
type Result struct {
	Features  FeatureVector
	Trace     Trace
	Start     time.Time // First valid timestamp, zero if none
	End       time.Time // Last valid timestamp, zero if none
	Canonical []Sample  // Rows fed to the derivator
}

// Insufficient reports whether the window produced no usable features.
// This is the "not enough data" signal, not an error.
func (r *Result) Insufficient() bool {
	return r.Features.Missing()
}

// ExtractFeatures reduces w to a single feature vector. It fails only with
// *SchemaError or *SparseDataError; every other shortfall yields an
// all-missing vector.
func ExtractFeatures(w RawWindow) (FeatureVector, error) {
	res, err := Extract(w)
	if err != nil {
		return FeatureVector{}, err
	}
	return res.Features, nil
}

// Extract runs the pipeline and keeps the intermediate bookkeeping.
func Extract(w RawWindow) (*Result, error) {
	if err := Validate(w); err != nil {
		return nil, err
	}

	res := &Result{Trace: Trace{RawRows: len(w.Samples)}}

	normalized := Normalize(w.Samples)
	res.Trace.ValidRows = len(normalized)
	res.Trace.DroppedRows = len(w.Samples) - len(normalized)
	if len(normalized) > 0 {
		res.Start = normalized[0].Time
		res.End = normalized[len(normalized)-1].Time
	}

	if cadence, ok := DetectCadence(normalized); ok {
		res.Trace.Cadence = cadence
		res.Trace.Resampled = cadence < CanonicalCadence
	}

	resampled, err := Resample(normalized)
	if err != nil {
		return nil, err
	}
	res.Canonical = resampled
	res.Trace.CanonicalRows = len(resampled)

	derived := Derive(resampled)
	res.Trace.DerivedRows = len(derived)

	res.Features = Aggregate(derived)
	return res, nil
}
