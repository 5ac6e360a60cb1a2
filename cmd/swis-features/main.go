// swis-features - Solar wind feature extraction and CME screening
//
// Reads SWIS plasma moment files (CSV, CSV.gz, CSV.zst, Parquet), reduces
// each file to the four window features and, when a model is configured,
// labels the window CME / Non-CME. One JSON line per file goes to stdout.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/swis-features ./cmd/swis-features

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/KI7MT/ki7mt-swis-lab/internal/classify"
	"github.com/KI7MT/ki7mt-swis-lab/internal/common"
	"github.com/KI7MT/ki7mt-swis-lab/internal/plasma"
	"github.com/KI7MT/ki7mt-swis-lab/internal/store"
	"github.com/KI7MT/ki7mt-swis-lab/internal/swis"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

func loadModel(path string) (classify.Classifier, float64, error) {
	if path == "" {
		return nil, 0, nil
	}
	m, err := classify.LoadLogistic(path)
	if err != nil {
		return nil, 0, err
	}
	return m, m.DecisionThreshold(), nil
}

func logTrace(logger *zap.Logger, ev *swis.Evaluation) {
	res := ev.Result
	if res == nil {
		logger.Warn("window rejected", zap.String("file", ev.Source), zap.Error(ev.Err))
		return
	}

	logger.Debug("pipeline trace",
		zap.String("file", ev.Source),
		zap.Int("raw_rows", res.Trace.RawRows),
		zap.Int("dropped_rows", res.Trace.DroppedRows),
		zap.Duration("cadence", res.Trace.Cadence),
		zap.Bool("resampled", res.Trace.Resampled),
		zap.Int("canonical_rows", res.Trace.CanonicalRows),
		zap.Int("derived_rows", res.Trace.DerivedRows),
	)

	fields := []zap.Field{zap.String("file", ev.Source), zap.String("outcome", ev.Outcome().String())}
	for i, f := range res.Features.Fields() {
		fields = append(fields, zap.Stringer(plasma.FeatureNames[i], f))
	}
	if p := ev.Prediction; p != nil {
		fields = append(fields,
			zap.Float64("probability", p.Probability),
			zap.String("label", string(p.Label)),
		)
	}
	if ev.Err != nil {
		logger.Warn("window evaluated", append(fields, zap.Error(ev.Err))...)
		return
	}
	logger.Info("window evaluated", fields...)
}

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	modelPath := flag.String("model", cfg.ModelPath, "Logistic model YAML (empty: features only)")
	threshold := flag.Float64("threshold", cfg.Threshold, "CME probability threshold (0: model default)")
	storeResults := flag.Bool("store", false, "Insert results into the ClickHouse feature table")
	chHost := flag.String("ch-host", cfg.ClickHouseAddr(), "ClickHouse address")
	chDB := flag.String("ch-db", cfg.ClickHouseDatabase, "ClickHouse database")
	chTable := flag.String("ch-table", cfg.FeatureTable, "ClickHouse feature table")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", cfg.LogFormat, "Log format (console, json)")
	showVersion := flag.Bool("version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "swis-features v%s - Solar Wind Feature Extractor\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] files...\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Each file is one observation window. Required columns:\n")
		fmt.Fprintf(os.Stderr, "  timestamp, proton_density, proton_speed, proton_temperature, alpha_density\n")
		fmt.Fprintf(os.Stderr, "Rows should be at 5-minute cadence or finer.\n\n")
		fmt.Fprintf(os.Stderr, "Exit status is 1 when any file is rejected or fails.\n\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("swis-features v%s\n", Version)
		os.Exit(0)
	}

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

	model, modelThreshold, err := loadModel(*modelPath)
	if err != nil {
		logger.Fatal("model load failed", zap.String("path", *modelPath), zap.Error(err))
	}
	if *threshold == 0 {
		*threshold = modelThreshold
	}
	if model != nil {
		logger.Info("model loaded", zap.String("path", *modelPath), zap.Float64("threshold", *threshold))
	}

	var (
		writer *store.Writer
		batch  = store.NewFeatureBatch()
	)
	if *storeResults {
		opts := store.Options{
			Addr:         *chHost,
			Database:     *chDB,
			User:         cfg.ClickHouseUser,
			Password:     cfg.ClickHousePassword,
			RawTable:     cfg.RawTable,
			FeatureTable: *chTable,
		}
		writer, err = store.Dial(ctx, opts)
		if err != nil {
			logger.Fatal("ClickHouse connection failed", zap.Error(err))
		}
		defer writer.Close()
	}

	stats := common.NewStats()
	startTime := time.Now()
	enc := json.NewEncoder(os.Stdout)
	failed := false

	for _, path := range flag.Args() {
		if ctx.Err() != nil {
			break
		}

		w, err := swis.ReadFile(path)
		if err != nil {
			logger.Error("read failed", zap.String("file", path), zap.Error(err))
			stats.AddRejected()
			failed = true
			if encErr := enc.Encode(swis.Report{Source: path, Outcome: swis.OutcomeFailed.String(), Error: err.Error()}); encErr != nil {
				logger.Fatal("write report", zap.Error(encErr))
			}
			continue
		}
		stats.AddRows(uint64(len(w.Samples)))

		ev := swis.Evaluate(path, w, model, *threshold)
		logTrace(logger, ev)

		switch ev.Outcome() {
		case swis.OutcomeComplete:
			stats.AddProcessed()
		case swis.OutcomeInsufficient:
			stats.AddInsufficient()
		default:
			stats.AddRejected()
			failed = true
		}

		if err := enc.Encode(ev.Report()); err != nil {
			logger.Fatal("write report", zap.Error(err))
		}

		if writer != nil && ev.Result != nil {
			batch.AddResult(store.FeatureRecord{
				Source:     filepath.Base(path),
				Result:     ev.Result,
				Prediction: ev.Prediction,
			})
		}
	}

	if writer != nil && batch.Len() > 0 {
		if err := writer.InsertFeatures(ctx, batch); err != nil {
			logger.Fatal("insert failed", zap.Error(err))
		}
		logger.Info("stored windows", zap.Int("rows", batch.Len()), zap.String("table", *chDB+"."+*chTable))
	}

	snap := stats.Snapshot()
	logger.Info("done",
		zap.Uint64("windows", snap.Windows()),
		zap.Uint64("complete", snap.WindowsProcessed),
		zap.Uint64("insufficient", snap.WindowsInsufficient),
		zap.Uint64("rejected", snap.WindowsRejected),
		zap.Uint64("rows", snap.RowsRead),
		zap.Duration("elapsed", time.Since(startTime).Round(time.Millisecond)),
	)

	if failed || errors.Is(ctx.Err(), context.Canceled) {
		os.Exit(1)
	}
}
