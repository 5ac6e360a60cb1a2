// swis-convert - SWIS moment files to Parquet
//
// Converts CSV / TXT moment files (optionally .gz or .zst) into Parquet
// archives with nullable float columns. With -resample the archive holds the
// canonical 5-minute series instead of the raw rows.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/swis-convert ./cmd/swis-convert

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/KI7MT/ki7mt-swis-lab/internal/common"
	"github.com/KI7MT/ki7mt-swis-lab/internal/plasma"
	"github.com/KI7MT/ki7mt-swis-lab/internal/swis"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

// convertFile writes src as Parquet into outDir and returns the output path
// and row count.
func convertFile(src, outDir string, resample bool) (string, int, error) {
	w, err := swis.ReadFile(src)
	if err != nil {
		return "", 0, err
	}
	if err := plasma.Validate(w); err != nil {
		return "", 0, err
	}

	rows := w.Samples
	if resample {
		res, err := plasma.Extract(w)
		if err != nil {
			return "", 0, err
		}
		rows = make([]plasma.RawSample, len(res.Canonical))
		for i, s := range res.Canonical {
			rows[i] = s.Raw()
		}
	}

	dst := filepath.Join(outDir, swis.OutputName(src, ".parquet"))
	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", 0, err
	}
	if err := swis.WriteParquet(f, rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", 0, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", 0, err
	}
	return dst, len(rows), nil
}

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	outDir := flag.String("out", cfg.ParquetDir(), "Output directory")
	resample := flag.Bool("resample", false, "Write the canonical 5-minute series instead of raw rows")
	workers := flag.Int("workers", runtime.NumCPU(), "Number of parallel file workers")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", cfg.LogFormat, "Log format (console, json)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "swis-convert v%s - SWIS CSV to Parquet Converter\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] files...\n\n", os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := common.MustLogger(*logLevel, *logFormat)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Warn("shutdown requested")
		cancel()
	}()

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		logger.Fatal("cannot create output directory", zap.String("dir", *outDir), zap.Error(err))
	}

	var files []string
	for _, f := range flag.Args() {
		if swis.DetectFormat(f) != swis.FormatCSV {
			logger.Warn("skipping (not a CSV family file)", zap.String("file", f))
			continue
		}
		files = append(files, f)
	}
	logger.Info("converting", zap.Int("files", len(files)), zap.Int("workers", *workers), zap.String("out", *outDir))

	startTime := time.Now()
	stats := common.NewStats()

	sem := make(chan struct{}, max(*workers, 1))
	var wg sync.WaitGroup

	for _, filePath := range files {
		if ctx.Err() != nil {
			break
		}

		sem <- struct{}{}
		wg.Add(1)

		go func(fp string) {
			defer wg.Done()
			defer func() { <-sem }()

			dst, n, err := convertFile(fp, *outDir, *resample)
			if err != nil {
				stats.AddRejected()
				logger.Error("convert failed", zap.String("file", fp), zap.Error(err))
				return
			}
			stats.AddRows(uint64(n))
			stats.AddProcessed()
			logger.Info("converted", zap.String("file", filepath.Base(fp)), zap.String("out", dst), zap.Int("rows", n))
		}(filePath)
	}

	wg.Wait()

	snap := stats.Snapshot()
	logger.Info("conversion complete",
		zap.Uint64("files", snap.WindowsProcessed),
		zap.Uint64("failed", snap.WindowsRejected),
		zap.Uint64("rows", snap.RowsRead),
		zap.Duration("elapsed", time.Since(startTime).Round(time.Millisecond)),
	)
	if snap.WindowsRejected > 0 {
		os.Exit(1)
	}
}
