package common

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Stats holds atomic counters for run telemetry
type Stats struct {
	RowsRead            uint64 // Raw rows handed to the pipeline
	WindowsProcessed    uint64 // Windows that produced a complete vector
	WindowsInsufficient uint64 // Windows that produced an all-missing vector
	WindowsRejected     uint64 // Windows failing with schema or sparse errors

	// Internal state for reporter
	running  atomic.Bool
	stopCh   chan struct{}
	interval time.Duration
	lastRows uint64
	lastTime time.Time

	// Moving average window for rows/sec
	rateWindow []float64
	rateIndex  int
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	RowsRead            uint64
	WindowsProcessed    uint64
	WindowsInsufficient uint64
	WindowsRejected     uint64
}

// Windows returns the total number of windows seen.
func (s Snapshot) Windows() uint64 {
	return s.WindowsProcessed + s.WindowsInsufficient + s.WindowsRejected
}

// NewStats creates a new Stats instance
func NewStats() *Stats {
	return &Stats{
		stopCh:     make(chan struct{}),
		interval:   2 * time.Second,
		rateWindow: make([]float64, 5),
	}
}

func (s *Stats) AddRows(count uint64) {
	atomic.AddUint64(&s.RowsRead, count)
}

func (s *Stats) AddProcessed() {
	atomic.AddUint64(&s.WindowsProcessed, 1)
}

func (s *Stats) AddInsufficient() {
	atomic.AddUint64(&s.WindowsInsufficient, 1)
}

func (s *Stats) AddRejected() {
	atomic.AddUint64(&s.WindowsRejected, 1)
}

// Snapshot atomically reads every counter.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		RowsRead:            atomic.LoadUint64(&s.RowsRead),
		WindowsProcessed:    atomic.LoadUint64(&s.WindowsProcessed),
		WindowsInsufficient: atomic.LoadUint64(&s.WindowsInsufficient),
		WindowsRejected:     atomic.LoadUint64(&s.WindowsRejected),
	}
}

// StartReporter logs progress to logger every interval until StopReporter.
func (s *Stats) StartReporter(logger *zap.Logger, interval time.Duration) {
	if s.running.Load() {
		return // Already running
	}
	if interval > 0 {
		s.interval = interval
	}

	s.running.Store(true)
	s.lastTime = time.Now()
	s.lastRows = 0

	go s.reporterLoop(logger)
}

// StopReporter stops the background reporter goroutine
func (s *Stats) StopReporter() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	close(s.stopCh)
}

func (s *Stats) reporterLoop(logger *zap.Logger) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.report(logger, time.Now())
		}
	}
}

// rate updates the moving average with the rows seen since the last call
// and returns the instantaneous and smoothed rows/sec.
func (s *Stats) rate(now time.Time, rows uint64) (float64, float64) {
	elapsed := now.Sub(s.lastTime).Seconds()
	if elapsed < 0.001 {
		return 0, 0
	}

	current := float64(rows-s.lastRows) / elapsed
	s.rateWindow[s.rateIndex] = current
	s.rateIndex = (s.rateIndex + 1) % len(s.rateWindow)

	var sum float64
	var n int
	for _, r := range s.rateWindow {
		if r > 0 {
			sum += r
			n++
		}
	}
	smoothed := 0.0
	if n > 0 {
		smoothed = sum / float64(n)
	}

	s.lastRows = rows
	s.lastTime = now
	return current, smoothed
}

func (s *Stats) report(logger *zap.Logger, now time.Time) {
	snap := s.Snapshot()
	current, smoothed := s.rate(now, snap.RowsRead)

	logger.Info("progress",
		zap.Uint64("windows", snap.Windows()),
		zap.Uint64("processed", snap.WindowsProcessed),
		zap.Uint64("insufficient", snap.WindowsInsufficient),
		zap.Uint64("rejected", snap.WindowsRejected),
		zap.Uint64("rows", snap.RowsRead),
		zap.Float64("rows_per_sec", current),
		zap.Float64("rows_per_sec_avg", smoothed),
	)
}

// Reset resets all counters (useful for testing or restarting)
func (s *Stats) Reset() {
	atomic.StoreUint64(&s.RowsRead, 0)
	atomic.StoreUint64(&s.WindowsProcessed, 0)
	atomic.StoreUint64(&s.WindowsInsufficient, 0)
	atomic.StoreUint64(&s.WindowsRejected, 0)
	s.lastRows = 0
	s.lastTime = time.Now()

	for i := range s.rateWindow {
		s.rateWindow[i] = 0
	}
	s.rateIndex = 0
}
