// swis-ingest - SWIS plasma moment ingestion into ClickHouse
//
// Loads SWIS moment files into the raw plasma table so windows can be
// re-extracted later with swis-scan. Supported inputs:
//   - CSV / TXT, optionally .gz (parallel pgzip) or .zst
//   - Parquet archives written by swis-convert
//
// Rows with unparseable timestamps are skipped; missing values are stored as NULL.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/swis-ingest ./cmd/swis-ingest

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/KI7MT/ki7mt-swis-lab/internal/common"
	"github.com/KI7MT/ki7mt-swis-lab/internal/plasma"
	"github.com/KI7MT/ki7mt-swis-lab/internal/store"
	"github.com/KI7MT/ki7mt-swis-lab/internal/swis"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

const batchLimit = 50000

// discoverFiles lists readable inputs in dir, sorted by name.
func discoverFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || swis.DetectFormat(e.Name()) == swis.FormatUnknown {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// ingestFile appends w to batch, flushing through flush whenever the batch
// reaches limit. It returns rows added and rows skipped.
func ingestFile(w plasma.RawWindow, source string, batch *store.SampleBatch, limit int, flush func() error) (int, int, error) {
	added, skipped := 0, 0
	for _, s := range w.Samples {
		if !batch.AddSample(s, source) {
			skipped++
			continue
		}
		added++
		if batch.Len() >= limit {
			if err := flush(); err != nil {
				return added, skipped, err
			}
		}
	}
	return added, skipped, nil
}

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	chHost := flag.String("ch-host", cfg.ClickHouseAddr(), "ClickHouse address")
	chDB := flag.String("ch-db", cfg.ClickHouseDatabase, "ClickHouse database")
	chTable := flag.String("ch-table", cfg.RawTable, "ClickHouse raw plasma table")
	sourceDir := flag.String("source-dir", cfg.SWISDataDir(), "SWIS data source directory")
	truncate := flag.Bool("truncate", false, "Truncate table before insert")
	createTables := flag.Bool("create", false, "Create the swis tables if missing")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", cfg.LogFormat, "Log format (console, json)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "swis-ingest v%s - SWIS Plasma Moment Ingester\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] [files...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Ingests SWIS moment files into ClickHouse. With no files, every\n")
		fmt.Fprintf(os.Stderr, "supported file in -source-dir is loaded.\n\n")
		fmt.Fprintf(os.Stderr, "Supported formats: .csv .txt (+ .gz .zst), .parquet\n\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	logger := common.MustLogger(*logLevel, *logFormat)
	defer logger.Sync()

	logger.Info("SWIS ingest", zap.String("version", Version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Warn("shutdown requested")
		cancel()
	}()

	opts := store.Options{
		Addr:         *chHost,
		Database:     *chDB,
		User:         cfg.ClickHouseUser,
		Password:     cfg.ClickHousePassword,
		RawTable:     *chTable,
		FeatureTable: cfg.FeatureTable,
	}

	logger.Info("connecting to ClickHouse", zap.String("addr", *chHost))
	writer, err := store.Dial(ctx, opts)
	if err != nil {
		logger.Fatal("ClickHouse connection failed", zap.Error(err))
	}
	defer writer.Close()

	tableFQN := opts.RawFQN()
	logger.Info("target table", zap.String("table", tableFQN))

	if *createTables {
		if err := writer.EnsureSchema(ctx); err != nil {
			logger.Fatal("create tables failed", zap.Error(err))
		}
	}

	if *truncate {
		logger.Info("truncating table", zap.String("table", tableFQN))
		if err := writer.Truncate(ctx, tableFQN); err != nil {
			logger.Warn("truncate failed", zap.Error(err))
		}
	}

	files := flag.Args()
	if len(files) == 0 {
		files, err = discoverFiles(*sourceDir)
		if err != nil {
			logger.Fatal("cannot read source directory", zap.String("dir", *sourceDir), zap.Error(err))
		}
	}
	if len(files) == 0 {
		logger.Fatal("no files to process")
	}
	logger.Info("found files", zap.Int("count", len(files)))

	startTime := time.Now()
	stats := common.NewStats()
	stats.StartReporter(logger, 5*time.Second)
	defer stats.StopReporter()

	batch := store.NewSampleBatch()
	inserted := 0
	flush := func() error {
		n := batch.Len()
		if err := writer.InsertSamples(ctx, batch); err != nil {
			return err
		}
		inserted += n
		batch.Reset()
		return nil
	}

	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		name := filepath.Base(path)

		w, err := swis.ReadFile(path)
		if err != nil {
			logger.Error("read failed", zap.String("file", name), zap.Error(err))
			stats.AddRejected()
			continue
		}
		if err := plasma.Validate(w); err != nil {
			logger.Error("skipping file", zap.String("file", name), zap.Error(err))
			stats.AddRejected()
			continue
		}

		added, skipped, err := ingestFile(w, name, batch, batchLimit, flush)
		stats.AddRows(uint64(added))
		if err != nil {
			logger.Fatal("insert failed", zap.String("file", name), zap.Int("inserted", inserted), zap.Error(err))
		}
		stats.AddProcessed()
		logger.Info("parsed file",
			zap.String("file", name),
			zap.Int("rows", added),
			zap.Int("skipped", skipped),
		)
	}

	// Final flush
	if batch.Len() > 0 {
		if err := flush(); err != nil {
			logger.Fatal("final insert failed", zap.Error(err))
		}
	}

	elapsed := time.Since(startTime)
	snap := stats.Snapshot()
	logger.Info("ingest complete",
		zap.Uint64("files", snap.WindowsProcessed),
		zap.Uint64("files_skipped", snap.WindowsRejected),
		zap.Int("rows", inserted),
		zap.Duration("elapsed", elapsed.Round(time.Millisecond)),
		zap.Float64("rows_per_sec", float64(inserted)/elapsed.Seconds()),
	)
}
