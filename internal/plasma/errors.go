package plasma

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinels for errors.Is matching.
var (
	ErrSchema     = errors.New("plasma: missing required fields")
	ErrSparseData = errors.New("plasma: data too sparse")
)

// SchemaError reports required fields absent from a raw window.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return "Please ensure your data contains all the following columns:\n\n" +
		strings.Join(RequiredColumns, "\n") +
		"\n\nMissing: " + strings.Join(e.Missing, ", ") +
		"\n\nEach row should represent ≤5-minute interval measurements."
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// SparseDataError reports a modal sampling interval coarser than the
// canonical cadence.
type SparseDataError struct {
	Interval time.Duration
}

func (e *SparseDataError) Error() string {
	return fmt.Sprintf("Your data is too sparse (interval ≈ %ds). Please provide higher-resolution data (≤5min).",
		int64(e.Interval/time.Second))
}

func (e *SparseDataError) Is(target error) bool {
	return target == ErrSparseData
}
