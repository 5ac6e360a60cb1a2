// Package swis reads and writes solar wind plasma windows on disk.
//
// SWIS is the Solar Wind Ion Spectrometer on Aditya-L1. Its L2 moments are
// distributed as CSV; archived windows are kept as Parquet. Files may be
// gzip (.gz) or zstd (.zst) compressed.
package swis

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/KI7MT/ki7mt-swis-lab/internal/plasma"
)

// Format identifies an on-disk window layout.
type Format int

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatParquet
)

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatParquet:
		return "parquet"
	default:
		return "unknown"
	}
}

// DetectFormat determines the layout from the file name, looking through
// a trailing compression extension.
func DetectFormat(path string) Format {
	base := strings.ToLower(filepath.Base(path))
	base = strings.TrimSuffix(base, ".gz")
	base = strings.TrimSuffix(base, ".zst")

	switch filepath.Ext(base) {
	case ".csv", ".txt":
		return FormatCSV
	case ".parquet":
		return FormatParquet
	default:
		return FormatUnknown
	}
}

// OutputName replaces the format and compression extensions of path's base
// name with ext (".parquet", ".csv").
func OutputName(path, ext string) string {
	base := filepath.Base(path)
	for _, suffix := range []string{".gz", ".zst"} {
		if strings.HasSuffix(strings.ToLower(base), suffix) {
			base = base[:len(base)-len(suffix)]
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + ext
}

// Open returns a reader over the decompressed contents of path.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		gz, err := pgzip.NewReaderN(f, 256*1024, runtime.NumCPU())
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip %s: %w", filepath.Base(path), err)
		}
		return &stackedCloser{Reader: gz, closers: []io.Closer{gz, f}}, nil

	case ".zst":
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd %s: %w", filepath.Base(path), err)
		}
		rc := dec.IOReadCloser()
		return &stackedCloser{Reader: rc, closers: []io.Closer{rc, f}}, nil
	}

	return f, nil
}

// stackedCloser closes a decompressor and the file underneath it.
type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ReadFile loads a whole window from path.
func ReadFile(path string) (plasma.RawWindow, error) {
	switch DetectFormat(path) {
	case FormatCSV:
		rc, err := Open(path)
		if err != nil {
			return plasma.RawWindow{}, err
		}
		defer rc.Close()
		return ReadCSV(rc)

	case FormatParquet:
		if ext := strings.ToLower(filepath.Ext(path)); ext != ".parquet" {
			return plasma.RawWindow{}, fmt.Errorf("%s: compressed parquet is not supported", filepath.Base(path))
		}
		f, err := os.Open(path)
		if err != nil {
			return plasma.RawWindow{}, err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return plasma.RawWindow{}, err
		}
		return ReadParquet(f, info.Size())
	}

	return plasma.RawWindow{}, fmt.Errorf("%s: unknown format", filepath.Base(path))
}
