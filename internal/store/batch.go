// Package store persists plasma samples and window features in ClickHouse.
//
// Writes use the ch-go native protocol with columnar batches (LZ4).
// Window reads use clickhouse-go/v2 so results scan straight into Go types.
package store

import (
	"time"

	"github.com/ClickHouse/ch-go/proto"

	"github.com/KI7MT/ki7mt-swis-lab/internal/classify"
	"github.com/KI7MT/ki7mt-swis-lab/internal/plasma"
)

// SchemaVersion is the current swis schema version.
const SchemaVersion = 1

// SamplesDDL creates the raw plasma table. %s is the fully qualified name.
const SamplesDDL = `CREATE TABLE IF NOT EXISTS %s (
	timestamp          DateTime64(3, 'UTC'),
	proton_density     Nullable(Float64),
	proton_speed       Nullable(Float64),
	proton_temperature Nullable(Float64),
	alpha_density      Nullable(Float64),
	source_file        LowCardinality(String)
) ENGINE = ReplacingMergeTree
ORDER BY timestamp`

// FeaturesDDL creates the window feature table. %s is the fully qualified name.
const FeaturesDDL = `CREATE TABLE IF NOT EXISTS %s (
	window_start       DateTime64(3, 'UTC'),
	window_end         DateTime64(3, 'UTC'),
	source             LowCardinality(String),
	raw_rows           UInt32,
	derived_rows       UInt32,
	cadence_s          Float64,
	alpha_proton_ratio Nullable(Float64),
	vp_std_15min       Nullable(Float64),
	alpha_over_vpstd   Nullable(Float64),
	alpha_tp_ratio     Nullable(Float64),
	probability        Nullable(Float64),
	label              LowCardinality(String),
	created_at         DateTime DEFAULT now()
) ENGINE = ReplacingMergeTree(created_at)
ORDER BY (source, window_start, window_end)`

func newNullFloat() *proto.ColNullable[float64] {
	return proto.NewColNullable[float64](new(proto.ColFloat64))
}

func nullable(f plasma.Float) proto.Nullable[float64] {
	if !f.Valid {
		return proto.Null[float64]()
	}
	return proto.NewNullable(f.Value)
}

// =============================================================================
// SampleBatch - raw plasma rows
// =============================================================================

// SampleBatch holds column data for native insert into the raw table.
// Rows whose timestamp does not parse are skipped by AddSample.
type SampleBatch struct {
	Timestamp         *proto.ColDateTime64
	ProtonDensity     *proto.ColNullable[float64]
	ProtonSpeed       *proto.ColNullable[float64]
	ProtonTemperature *proto.ColNullable[float64]
	AlphaDensity      *proto.ColNullable[float64]
	SourceFile        *proto.ColStr
}

func NewSampleBatch() *SampleBatch {
	return &SampleBatch{
		Timestamp:         new(proto.ColDateTime64).WithPrecision(proto.PrecisionMilli),
		ProtonDensity:     newNullFloat(),
		ProtonSpeed:       newNullFloat(),
		ProtonTemperature: newNullFloat(),
		AlphaDensity:      newNullFloat(),
		SourceFile:        new(proto.ColStr),
	}
}

func (b *SampleBatch) Reset() {
	b.Timestamp.Reset()
	b.ProtonDensity.Reset()
	b.ProtonSpeed.Reset()
	b.ProtonTemperature.Reset()
	b.AlphaDensity.Reset()
	b.SourceFile.Reset()
}

func (b *SampleBatch) Len() int {
	return b.Timestamp.Rows()
}

func (b *SampleBatch) Input() proto.Input {
	return proto.Input{
		{Name: plasma.ColTimestamp, Data: b.Timestamp},
		{Name: plasma.ColProtonDensity, Data: b.ProtonDensity},
		{Name: plasma.ColProtonSpeed, Data: b.ProtonSpeed},
		{Name: plasma.ColProtonTemperature, Data: b.ProtonTemperature},
		{Name: plasma.ColAlphaDensity, Data: b.AlphaDensity},
		{Name: "source_file", Data: b.SourceFile},
	}
}

// AddSample appends s and reports whether its timestamp parsed.
func (b *SampleBatch) AddSample(s plasma.RawSample, sourceFile string) bool {
	ts, ok := plasma.ParseTimestamp(s.Timestamp)
	if !ok {
		return false
	}
	b.Timestamp.Append(ts)
	b.ProtonDensity.Append(nullable(s.ProtonDensity))
	b.ProtonSpeed.Append(nullable(s.ProtonSpeed))
	b.ProtonTemperature.Append(nullable(s.ProtonTemperature))
	b.AlphaDensity.Append(nullable(s.AlphaDensity))
	b.SourceFile.Append(sourceFile)
	return true
}

// =============================================================================
// FeatureBatch - one row per extracted window
// =============================================================================

// FeatureRecord is one window outcome ready for storage.
type FeatureRecord struct {
	Source     string
	Start      time.Time
	End        time.Time
	Result     *plasma.Result
	Prediction *classify.Prediction // nil when not classified
}

// FeatureBatch holds column data for native insert into the feature table.
type FeatureBatch struct {
	WindowStart      *proto.ColDateTime64
	WindowEnd        *proto.ColDateTime64
	Source           *proto.ColStr
	RawRows          *proto.ColUInt32
	DerivedRows      *proto.ColUInt32
	CadenceSeconds   *proto.ColFloat64
	AlphaProtonRatio *proto.ColNullable[float64]
	VpStd15Min       *proto.ColNullable[float64]
	AlphaOverVpStd   *proto.ColNullable[float64]
	AlphaTpRatio     *proto.ColNullable[float64]
	Probability      *proto.ColNullable[float64]
	Label            *proto.ColStr
}

func NewFeatureBatch() *FeatureBatch {
	return &FeatureBatch{
		WindowStart:      new(proto.ColDateTime64).WithPrecision(proto.PrecisionMilli),
		WindowEnd:        new(proto.ColDateTime64).WithPrecision(proto.PrecisionMilli),
		Source:           new(proto.ColStr),
		RawRows:          new(proto.ColUInt32),
		DerivedRows:      new(proto.ColUInt32),
		CadenceSeconds:   new(proto.ColFloat64),
		AlphaProtonRatio: newNullFloat(),
		VpStd15Min:       newNullFloat(),
		AlphaOverVpStd:   newNullFloat(),
		AlphaTpRatio:     newNullFloat(),
		Probability:      newNullFloat(),
		Label:            new(proto.ColStr),
	}
}

func (b *FeatureBatch) Reset() {
	b.WindowStart.Reset()
	b.WindowEnd.Reset()
	b.Source.Reset()
	b.RawRows.Reset()
	b.DerivedRows.Reset()
	b.CadenceSeconds.Reset()
	b.AlphaProtonRatio.Reset()
	b.VpStd15Min.Reset()
	b.AlphaOverVpStd.Reset()
	b.AlphaTpRatio.Reset()
	b.Probability.Reset()
	b.Label.Reset()
}

func (b *FeatureBatch) Len() int {
	return b.WindowStart.Rows()
}

func (b *FeatureBatch) Input() proto.Input {
	return proto.Input{
		{Name: "window_start", Data: b.WindowStart},
		{Name: "window_end", Data: b.WindowEnd},
		{Name: "source", Data: b.Source},
		{Name: "raw_rows", Data: b.RawRows},
		{Name: "derived_rows", Data: b.DerivedRows},
		{Name: "cadence_s", Data: b.CadenceSeconds},
		{Name: plasma.FeatureNames[0], Data: b.AlphaProtonRatio},
		{Name: plasma.FeatureNames[1], Data: b.VpStd15Min},
		{Name: plasma.FeatureNames[2], Data: b.AlphaOverVpStd},
		{Name: plasma.FeatureNames[3], Data: b.AlphaTpRatio},
		{Name: "probability", Data: b.Probability},
		{Name: "label", Data: b.Label},
	}
}

// AddResult appends one window. Start/End fall back to the result's
// observed bounds when zero.
func (b *FeatureBatch) AddResult(r FeatureRecord) {
	start, end := r.Start, r.End
	if start.IsZero() {
		start = r.Result.Start
	}
	if end.IsZero() {
		end = r.Result.End
	}

	fv := r.Result.Features
	b.WindowStart.Append(start)
	b.WindowEnd.Append(end)
	b.Source.Append(r.Source)
	b.RawRows.Append(uint32(r.Result.Trace.RawRows))
	b.DerivedRows.Append(uint32(r.Result.Trace.DerivedRows))
	b.CadenceSeconds.Append(r.Result.Trace.Cadence.Seconds())
	b.AlphaProtonRatio.Append(nullable(fv.AlphaProtonRatio))
	b.VpStd15Min.Append(nullable(fv.VpStd15Min))
	b.AlphaOverVpStd.Append(nullable(fv.AlphaOverVpStd))
	b.AlphaTpRatio.Append(nullable(fv.AlphaTpRatio))

	if r.Prediction != nil {
		b.Probability.Append(proto.NewNullable(r.Prediction.Probability))
		b.Label.Append(string(r.Prediction.Label))
		return
	}
	b.Probability.Append(proto.Null[float64]())
	if r.Result.Insufficient() {
		b.Label.Append("insufficient")
	} else {
		b.Label.Append("")
	}
}
