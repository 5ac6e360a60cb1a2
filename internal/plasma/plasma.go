// Package plasma reduces a window of solar wind plasma telemetry into the
// four-field feature vector used by the CME classifier.
//
// Pipeline stages (strictly sequential, each a pure function):
//   - Validate:  required field names are present
//   - Normalize: parse timestamps, drop unparsable rows, stable sort
//   - Resample:  detect modal cadence, average onto 5-minute buckets
//   - Derive:    alpha/proton ratio, 15-minute speed variability, ratios
//   - Aggregate: mean of every surviving derived row
//
// Nothing in this package performs I/O or keeps state between calls.
package plasma

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// =============================================================================
// Field Names
// =============================================================================

const (
	ColTimestamp         = "timestamp"
	ColProtonDensity     = "proton_density"
	ColProtonSpeed       = "proton_speed"
	ColProtonTemperature = "proton_temperature"
	ColAlphaDensity      = "alpha_density"
)

// RequiredColumns lists the field names every raw window must carry, in the
// order they are reported when missing.
var RequiredColumns = []string{
	ColTimestamp,
	ColProtonDensity,
	ColProtonSpeed,
	ColProtonTemperature,
	ColAlphaDensity,
}

// FeatureNames is the column order expected by the classifier.
var FeatureNames = [4]string{
	"alpha_proton_ratio",
	"vp_std_15min",
	"alpha_over_vpstd",
	"alpha_tp_ratio",
}

// CanonicalCadence is the sampling interval the classifier was trained on.
const CanonicalCadence = 5 * time.Minute

// =============================================================================
// Float - optional measurement value
// =============================================================================

// Float is a measurement that may be missing. The zero value is missing.
type Float struct {
	Value float64
	Valid bool
}

// Missing is the absent value.
var Missing = Float{}

// Of wraps v, treating NaN and ±Inf as missing.
func Of(v float64) Float {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Missing
	}
	return Float{Value: v, Valid: true}
}

// Get returns the value and whether it is present.
func (f Float) Get() (float64, bool) {
	return f.Value, f.Valid
}

// Or returns the value, or def when missing.
func (f Float) Or(def float64) float64 {
	if !f.Valid {
		return def
	}
	return f.Value
}

func (f Float) String() string {
	if !f.Valid {
		return "NaN"
	}
	return strconv.FormatFloat(f.Value, 'g', -1, 64)
}

// MarshalJSON encodes missing values as null.
func (f Float) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// UnmarshalJSON accepts a number or null.
func (f *Float) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Missing
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Of(v)
	return nil
}

// div returns num/den, missing when either operand is missing, den is zero,
// or the quotient overflows.
func div(num, den Float) Float {
	if !num.Valid || !den.Valid || den.Value == 0 {
		return Missing
	}
	return Of(num.Value / den.Value)
}

// =============================================================================
// Rows
// =============================================================================

// RawSample is one measurement row as received, before timestamp parsing.
type RawSample struct {
	Timestamp         string
	ProtonDensity     Float // Np, cm^-3
	ProtonSpeed       Float // Vp, km/s
	ProtonTemperature Float // Tp, K
	AlphaDensity      Float // Alpha, cm^-3
}

// RawWindow is a caller-supplied window in arrival order. Columns names the
// fields present in the source the samples were read from.
type RawWindow struct {
	Columns []string
	Samples []RawSample
}

// Sample is a row with a parsed timestamp. Resampled rows use the same type.
type Sample struct {
	Time  time.Time
	Np    Float
	Vp    Float
	Tp    Float
	Alpha Float
}

// Raw converts s back to a RawSample with an RFC 3339 UTC timestamp.
func (s Sample) Raw() RawSample {
	return RawSample{
		Timestamp:         s.Time.UTC().Format(time.RFC3339Nano),
		ProtonDensity:     s.Np,
		ProtonSpeed:       s.Vp,
		ProtonTemperature: s.Tp,
		AlphaDensity:      s.Alpha,
	}
}

// DerivedRow holds the per-row physics features.
type DerivedRow struct {
	Time             time.Time
	AlphaProtonRatio Float
	VpStd15Min       Float
	AlphaOverVpStd   Float
	AlphaTpRatio     Float
}

// Complete reports whether all four derived fields are present.
func (r DerivedRow) Complete() bool {
	return r.AlphaProtonRatio.Valid && r.VpStd15Min.Valid &&
		r.AlphaOverVpStd.Valid && r.AlphaTpRatio.Valid
}

// FeatureVector is the single aggregated row handed to the classifier.
// It is either fully populated or fully missing.
type FeatureVector struct {
	AlphaProtonRatio Float `json:"alpha_proton_ratio"`
	VpStd15Min       Float `json:"vp_std_15min"`
	AlphaOverVpStd   Float `json:"alpha_over_vpstd"`
	AlphaTpRatio     Float `json:"alpha_tp_ratio"`
}

// Fields returns the four fields in classifier order.
func (v FeatureVector) Fields() [4]Float {
	return [4]Float{v.AlphaProtonRatio, v.VpStd15Min, v.AlphaOverVpStd, v.AlphaTpRatio}
}

// Values returns the four raw values in classifier order. Missing fields
// come back as NaN.
func (v FeatureVector) Values() [4]float64 {
	var out [4]float64
	for i, f := range v.Fields() {
		out[i] = f.Or(math.NaN())
	}
	return out
}

// Complete reports whether every field is present.
func (v FeatureVector) Complete() bool {
	for _, f := range v.Fields() {
		if !f.Valid {
			return false
		}
	}
	return true
}

// Missing reports whether any field is absent. Under the aggregator's
// contract this means every field is absent.
func (v FeatureVector) Missing() bool {
	return !v.Complete()
}
