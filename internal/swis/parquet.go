package swis

import (
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/KI7MT/ki7mt-swis-lab/internal/plasma"
)

// ParquetBatchSize is the number of rows decoded per read call.
const ParquetBatchSize = 1024

// parquetSample matches the archive schema. Timestamps stay strings so the
// archive holds exactly what the instrument feed delivered.
type parquetSample struct {
	Timestamp         string   `parquet:"timestamp"`
	ProtonDensity     *float64 `parquet:"proton_density,optional"`
	ProtonSpeed       *float64 `parquet:"proton_speed,optional"`
	ProtonTemperature *float64 `parquet:"proton_temperature,optional"`
	AlphaDensity      *float64 `parquet:"alpha_density,optional"`
}

func toPtr(f plasma.Float) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

func fromPtr(p *float64) plasma.Float {
	if p == nil {
		return plasma.Missing
	}
	return plasma.Of(*p)
}

// ReadParquet loads a window from a Parquet file. Columns are taken from
// the file schema; when a required one is absent no rows are decoded.
func ReadParquet(r io.ReaderAt, size int64) (plasma.RawWindow, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return plasma.RawWindow{}, fmt.Errorf("parquet open: %w", err)
	}

	var w plasma.RawWindow
	for _, field := range pf.Schema().Fields() {
		w.Columns = append(w.Columns, field.Name())
	}
	if plasma.Validate(w) != nil {
		// Reported by the pipeline with the full column list.
		return w, nil
	}

	reader := parquet.NewGenericReader[parquetSample](pf)
	defer reader.Close()

	w.Samples = make([]plasma.RawSample, 0, int(reader.NumRows()))
	rows := make([]parquetSample, ParquetBatchSize)
	for {
		clear(rows)
		n, err := reader.Read(rows)
		for i := 0; i < n; i++ {
			w.Samples = append(w.Samples, plasma.RawSample{
				Timestamp:         rows[i].Timestamp,
				ProtonDensity:     fromPtr(rows[i].ProtonDensity),
				ProtonSpeed:       fromPtr(rows[i].ProtonSpeed),
				ProtonTemperature: fromPtr(rows[i].ProtonTemperature),
				AlphaDensity:      fromPtr(rows[i].AlphaDensity),
			})
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return plasma.RawWindow{}, fmt.Errorf("parquet read: %w", err)
		}
		if n == 0 {
			break
		}
	}

	return w, nil
}

// WriteParquet writes samples using the archive schema.
func WriteParquet(out io.Writer, samples []plasma.RawSample) error {
	pw := parquet.NewGenericWriter[parquetSample](out)

	rows := make([]parquetSample, 0, ParquetBatchSize)
	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if _, err := pw.Write(rows); err != nil {
			return err
		}
		rows = rows[:0]
		return nil
	}

	for _, s := range samples {
		rows = append(rows, parquetSample{
			Timestamp:         s.Timestamp,
			ProtonDensity:     toPtr(s.ProtonDensity),
			ProtonSpeed:       toPtr(s.ProtonSpeed),
			ProtonTemperature: toPtr(s.ProtonTemperature),
			AlphaDensity:      toPtr(s.AlphaDensity),
		})
		if len(rows) == cap(rows) {
			if err := flush(); err != nil {
				return fmt.Errorf("parquet write: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		return fmt.Errorf("parquet write: %w", err)
	}

	return pw.Close()
}
