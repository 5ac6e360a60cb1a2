package plasma

import (
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Validate checks that every required field name is present in w.Columns.
func Validate(w RawWindow) error {
	present := make(map[string]struct{}, len(w.Columns))
	for _, c := range w.Columns {
		present[c] = struct{}{}
	}

	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := present[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}
	return nil
}

// ParseTimestamp parses s with permissive date/time detection. Timestamps
// without a zone are taken as UTC. The result is always in UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// Normalize parses every timestamp, drops rows whose timestamp does not
// parse, and returns the rest sorted ascending. Equal timestamps keep their
// input order.
func Normalize(raw []RawSample) []Sample {
	out := make([]Sample, 0, len(raw))
	for _, r := range raw {
		t, ok := ParseTimestamp(r.Timestamp)
		if !ok {
			continue
		}
		out = append(out, Sample{
			Time:  t,
			Np:    r.ProtonDensity,
			Vp:    r.ProtonSpeed,
			Tp:    r.ProtonTemperature,
			Alpha: r.AlphaDensity,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}
