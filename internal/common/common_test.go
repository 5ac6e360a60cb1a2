package common

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// isolate clears every config variable for the test and restores it after.
func isolate(t *testing.T) {
	t.Helper()
	for k := range defaults {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestDefaultConfig(t *testing.T) {
	isolate(t)

	cfg := DefaultConfig()
	assert.Equal(t, "localhost", cfg.ClickHouseHost)
	assert.Equal(t, 9000, cfg.ClickHousePort)
	assert.Equal(t, "swis", cfg.ClickHouseDatabase)
	assert.Equal(t, "plasma_raw", cfg.RawTable)
	assert.Equal(t, "window_features", cfg.FeatureTable)
	assert.Equal(t, "localhost:9000", cfg.ClickHouseAddr())
	assert.Equal(t, "/var/lib/ki7mt-swis-lab/swis", cfg.SWISDataDir())
	assert.Zero(t, cfg.Threshold)
	assert.Empty(t, cfg.ModelPath)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("CLICKHOUSE_HOST", "ch.lab")
	t.Setenv("CLICKHOUSE_PORT", "19000")
	t.Setenv("SWIS_THRESHOLD", "0.6")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "ch.lab:19000", cfg.ClickHouseAddr())
	assert.Equal(t, 0.6, cfg.Threshold)
	assert.Empty(t, cfg.ConfigFile)
}

func TestLoadConfig_FileAndDotEnv(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	yaml := "clickhouse_database: aditya\nswis_raw_table: l2_moments\nlog_format: json\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "swis.yaml"), []byte(yaml), 0o644))
	require.NoError(t, os.WriteFile(".env", []byte("SWIS_RAW_TABLE=from_dotenv\nSWIS_MODEL_PATH=/models/cme.yaml\n"), 0o644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "swis.yaml"), cfg.ConfigFile)
	assert.Equal(t, "aditya", cfg.ClickHouseDatabase)
	assert.Equal(t, "json", cfg.LogFormat)
	// Environment (including .env) outranks the file.
	assert.Equal(t, "from_dotenv", cfg.RawTable)
	assert.Equal(t, "/models/cme.yaml", cfg.ModelPath)
}

func TestLoadConfig_BadThreshold(t *testing.T) {
	isolate(t)
	t.Setenv("SWIS_THRESHOLD", "1.5")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"console", "json", ""} {
		logger, err := NewLogger("debug", format)
		require.NoError(t, err, format)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	}

	_, err := NewLogger("loud", "console")
	assert.Error(t, err)
	_, err = NewLogger("info", "xml")
	assert.Error(t, err)

	assert.NotNil(t, MustLogger("loud", "xml"))
}

func TestStats(t *testing.T) {
	s := NewStats()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddRows(12)
			s.AddProcessed()
		}()
	}
	wg.Wait()
	s.AddInsufficient()
	s.AddRejected()

	snap := s.Snapshot()
	assert.Equal(t, uint64(96), snap.RowsRead)
	assert.Equal(t, uint64(8), snap.WindowsProcessed)
	assert.Equal(t, uint64(10), snap.Windows())

	s.Reset()
	assert.Equal(t, Snapshot{}, s.Snapshot())
}

func TestStats_Report(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	s := NewStats()
	s.lastTime = time.Unix(0, 0)
	s.AddRows(100)
	s.AddProcessed()
	s.report(logger, time.Unix(2, 0))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, uint64(1), fields["windows"])
	assert.Equal(t, 50.0, fields["rows_per_sec"])
	assert.Equal(t, 50.0, fields["rows_per_sec_avg"])

	s.StartReporter(logger, time.Hour)
	s.StartReporter(logger, time.Hour)
	s.StopReporter()
	s.StopReporter()
}
