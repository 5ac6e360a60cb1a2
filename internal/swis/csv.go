package swis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/KI7MT/ki7mt-swis-lab/internal/plasma"
)

const utf8BOM = "\ufeff"

// ReadCSV parses a header-led CSV window. Columns other than the five
// plasma fields are ignored; cells that are empty or not numbers become
// missing values. A header that lacks required fields is not an error here,
// plasma.Validate reports it.
func ReadCSV(r io.Reader) (plasma.RawWindow, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return plasma.RawWindow{}, nil
	}
	if err != nil {
		return plasma.RawWindow{}, fmt.Errorf("read header: %w", err)
	}

	w := plasma.RawWindow{Columns: make([]string, len(header))}
	idx := map[string]int{}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, utf8BOM))
		w.Columns[i] = h
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}

	col := func(rec []string, name string) (string, bool) {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return "", false
		}
		return rec[i], true
	}
	num := func(rec []string, name string) plasma.Float {
		s, ok := col(rec, name)
		if !ok {
			return plasma.Missing
		}
		return ParseFloat(s)
	}

	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return plasma.RawWindow{}, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}

		ts, _ := col(rec, plasma.ColTimestamp)
		w.Samples = append(w.Samples, plasma.RawSample{
			Timestamp:         ts,
			ProtonDensity:     num(rec, plasma.ColProtonDensity),
			ProtonSpeed:       num(rec, plasma.ColProtonSpeed),
			ProtonTemperature: num(rec, plasma.ColProtonTemperature),
			AlphaDensity:      num(rec, plasma.ColAlphaDensity),
		})
	}

	return w, nil
}

// ParseFloat converts a cell to an optional value. Empty, unparsable, NaN
// and infinite cells are missing.
func ParseFloat(s string) plasma.Float {
	s = strings.TrimSpace(s)
	if s == "" {
		return plasma.Missing
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return plasma.Missing
	}
	return plasma.Of(v)
}

// WriteCSV writes samples with the canonical header.
func WriteCSV(w io.Writer, samples []plasma.RawSample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(plasma.RequiredColumns); err != nil {
		return err
	}

	cell := func(f plasma.Float) string {
		if !f.Valid {
			return ""
		}
		return strconv.FormatFloat(f.Value, 'g', -1, 64)
	}
	for _, s := range samples {
		rec := []string{
			s.Timestamp,
			cell(s.ProtonDensity),
			cell(s.ProtonSpeed),
			cell(s.ProtonTemperature),
			cell(s.AlphaDensity),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
