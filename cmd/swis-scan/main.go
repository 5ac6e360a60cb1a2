// swis-scan - Sliding-window feature extraction over stored SWIS data
//
// Walks the raw plasma table in fixed windows, runs feature extraction and
// optional CME classification on each, and writes one row per window to the
// feature table. ReplacingMergeTree(created_at) on (source, window_start,
// window_end) keeps the latest run when a range is rescanned.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/swis-scan ./cmd/swis-scan

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/KI7MT/ki7mt-swis-lab/internal/classify"
	"github.com/KI7MT/ki7mt-swis-lab/internal/common"
	"github.com/KI7MT/ki7mt-swis-lab/internal/plasma"
	"github.com/KI7MT/ki7mt-swis-lab/internal/store"
	"github.com/KI7MT/ki7mt-swis-lab/internal/swis"
)

var Version = "1.0.0"

const (
	sourceTag  = "swis-scan"
	batchLimit = 1000 // windows per insert
)

// parseBound parses a -from/-to value. Empty means unset.
func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, ok := plasma.ParseTimestamp(s)
	if !ok {
		return time.Time{}, fmt.Errorf("cannot parse time %q", s)
	}
	return t, nil
}

// scanRange resolves the scan range, filling unset bounds from the table.
func scanRange(from, to, first, last time.Time) (time.Time, time.Time, error) {
	if from.IsZero() {
		from = first
	}
	if to.IsZero() {
		to = last
	}
	if from.IsZero() || to.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("no data stored and no explicit range")
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("range end %s before start %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	return from, to, nil
}

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	chHost := flag.String("ch-host", cfg.ClickHouseAddr(), "ClickHouse address")
	chDB := flag.String("ch-db", cfg.ClickHouseDatabase, "ClickHouse database")
	rawTable := flag.String("raw-table", cfg.RawTable, "Raw plasma table")
	featureTable := flag.String("feature-table", cfg.FeatureTable, "Window feature table")
	fromStr := flag.String("from", "", "Scan start (default: first stored sample)")
	toStr := flag.String("to", "", "Scan end (default: last stored sample)")
	window := flag.Duration("window", time.Hour, "Window length")
	step := flag.Duration("step", 15*time.Minute, "Window step")
	modelPath := flag.String("model", cfg.ModelPath, "Logistic model YAML (empty: features only)")
	threshold := flag.Float64("threshold", cfg.Threshold, "CME probability threshold (0: model default)")
	dryRun := flag.Bool("dry-run", false, "Evaluate windows but skip the insert")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", cfg.LogFormat, "Log format (console, json)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "swis-scan v%s - SWIS Window Scanner\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Extracts features for every -window long span, advancing by -step,\n")
		fmt.Fprintf(os.Stderr, "between -from and -to, and stores them in -feature-table.\n\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	logger := common.MustLogger(*logLevel, *logFormat)
	defer logger.Sync()

	from, err := parseBound(*fromStr)
	if err != nil {
		logger.Fatal("bad -from", zap.Error(err))
	}
	to, err := parseBound(*toStr)
	if err != nil {
		logger.Fatal("bad -to", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Warn("shutdown requested")
		cancel()
	}()

	var model classify.Classifier
	if *modelPath != "" {
		m, err := classify.LoadLogistic(*modelPath)
		if err != nil {
			logger.Fatal("model load failed", zap.Error(err))
		}
		model = m
		if *threshold == 0 {
			*threshold = m.DecisionThreshold()
		}
	}

	opts := store.Options{
		Addr:         *chHost,
		Database:     *chDB,
		User:         cfg.ClickHouseUser,
		Password:     cfg.ClickHousePassword,
		RawTable:     *rawTable,
		FeatureTable: *featureTable,
	}

	logger.Info("connecting to ClickHouse", zap.String("addr", *chHost))
	reader, err := store.Open(ctx, opts)
	if err != nil {
		logger.Fatal("ClickHouse connection failed", zap.Error(err))
	}
	defer reader.Close()

	first, last, stored, err := reader.Bounds(ctx)
	if err != nil {
		logger.Fatal("bounds query failed", zap.Error(err))
	}
	logger.Info("raw table",
		zap.String("table", opts.RawFQN()),
		zap.Uint64("rows", stored),
		zap.Time("first", first),
		zap.Time("last", last),
	)

	from, to, err = scanRange(from, to, first, last)
	if err != nil {
		logger.Fatal("scan range", zap.Error(err))
	}
	spans := store.Spans(from, to, *window, *step)
	logger.Info("scan plan",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Duration("window", *window),
		zap.Duration("step", *step),
		zap.Int("windows", len(spans)),
	)

	var writer *store.Writer
	if !*dryRun {
		writer, err = store.Dial(ctx, opts)
		if err != nil {
			logger.Fatal("ClickHouse connection failed", zap.Error(err))
		}
		defer writer.Close()
	}

	stats := common.NewStats()
	stats.StartReporter(logger, 5*time.Second)
	defer stats.StopReporter()

	startTime := time.Now()
	batch := store.NewFeatureBatch()
	var inserted uint64
	flush := func() {
		if writer == nil || batch.Len() == 0 {
			batch.Reset()
			return
		}
		if err := writer.InsertFeatures(ctx, batch); err != nil {
			logger.Fatal("insert failed", zap.Uint64("inserted", inserted), zap.Error(err))
		}
		inserted += uint64(batch.Len())
		batch.Reset()
	}

	for _, span := range spans {
		if ctx.Err() != nil {
			logger.Warn("interrupted", zap.Uint64("inserted", inserted))
			break
		}

		w, err := reader.LoadWindow(ctx, span.Start, span.End)
		if err != nil {
			logger.Fatal("load window failed", zap.Time("start", span.Start), zap.Error(err))
		}
		stats.AddRows(uint64(len(w.Samples)))

		ev := swis.Evaluate(sourceTag, w, model, *threshold)
		switch ev.Outcome() {
		case swis.OutcomeComplete:
			stats.AddProcessed()
		case swis.OutcomeInsufficient:
			stats.AddInsufficient()
		default:
			stats.AddRejected()
			logger.Warn("window skipped",
				zap.Time("start", span.Start),
				zap.String("outcome", ev.Outcome().String()),
				zap.Error(ev.Err),
			)
			continue
		}

		if p := ev.Prediction; p != nil && p.Label == classify.LabelCME {
			logger.Info("CME candidate",
				zap.Time("start", span.Start),
				zap.Time("end", span.End),
				zap.Float64("probability", p.Probability),
			)
		}

		batch.AddResult(store.FeatureRecord{
			Source:     sourceTag,
			Start:      span.Start,
			End:        span.End,
			Result:     ev.Result,
			Prediction: ev.Prediction,
		})
		if batch.Len() >= batchLimit {
			flush()
		}
	}
	flush()

	snap := stats.Snapshot()
	logger.Info("scan complete",
		zap.Uint64("windows", snap.Windows()),
		zap.Uint64("complete", snap.WindowsProcessed),
		zap.Uint64("insufficient", snap.WindowsInsufficient),
		zap.Uint64("skipped", snap.WindowsRejected),
		zap.Uint64("inserted", inserted),
		zap.Duration("elapsed", time.Since(startTime).Round(time.Millisecond)),
	)
	if !*dryRun {
		logger.Info(fmt.Sprintf("Run OPTIMIZE TABLE %s FINAL to merge rescans.", opts.FeatureFQN()))
	}
}
