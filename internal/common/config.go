// Package common provides shared utilities for KI7MT SWIS Lab applications.
package common

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ConfigName is the base name of the optional config file (swis.yaml).
const ConfigName = "swis"

// Config holds common configuration for all applications.
type Config struct {
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	RawTable           string
	FeatureTable       string
	DataDir            string
	LogLevel           string
	LogFormat          string
	ModelPath          string  // empty disables classification
	Threshold          float64 // zero defers to the model's own threshold
	ConfigFile         string  // file the values were read from, if any
}

var defaults = map[string]any{
	"CLICKHOUSE_HOST":     "localhost",
	"CLICKHOUSE_PORT":     9000,
	"CLICKHOUSE_DATABASE": "swis",
	"CLICKHOUSE_USER":     "default",
	"CLICKHOUSE_PASSWORD": "",
	"SWIS_RAW_TABLE":      "plasma_raw",
	"SWIS_FEATURE_TABLE":  "window_features",
	"KI7MT_DATA_DIR":      "/var/lib/ki7mt-swis-lab",
	"LOG_LEVEL":           "info",
	"LOG_FORMAT":          "console",
	"SWIS_MODEL_PATH":     "",
	"SWIS_THRESHOLD":      0.0,
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	return v
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		ClickHouseHost:     v.GetString("CLICKHOUSE_HOST"),
		ClickHousePort:     v.GetInt("CLICKHOUSE_PORT"),
		ClickHouseDatabase: v.GetString("CLICKHOUSE_DATABASE"),
		ClickHouseUser:     v.GetString("CLICKHOUSE_USER"),
		ClickHousePassword: v.GetString("CLICKHOUSE_PASSWORD"),
		RawTable:           v.GetString("SWIS_RAW_TABLE"),
		FeatureTable:       v.GetString("SWIS_FEATURE_TABLE"),
		DataDir:            v.GetString("KI7MT_DATA_DIR"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		LogFormat:          v.GetString("LOG_FORMAT"),
		ModelPath:          v.GetString("SWIS_MODEL_PATH"),
		Threshold:          v.GetFloat64("SWIS_THRESHOLD"),
		ConfigFile:         v.ConfigFileUsed(),
	}
}

// DefaultConfig returns defaults overlaid with the process environment.
func DefaultConfig() *Config {
	return fromViper(newViper())
}

// LoadConfig builds the configuration from, lowest to highest priority:
// built-in defaults, swis.yaml (searched in dirs, then ".", then the data
// dir) and the environment. A .env file in the working directory is loaded
// into the environment first without overriding variables already set.
func LoadConfig(dirs ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := newViper()
	v.SetConfigName(ConfigName)
	for _, d := range dirs {
		v.AddConfigPath(d)
	}
	v.AddConfigPath(".")
	v.AddConfigPath(v.GetString("KI7MT_DATA_DIR"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := fromViper(v)
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("SWIS_THRESHOLD %v out of range [0,1]", cfg.Threshold)
	}
	return cfg, nil
}

// ClickHouseAddr returns host:port for the native protocol.
func (c *Config) ClickHouseAddr() string {
	return fmt.Sprintf("%s:%d", c.ClickHouseHost, c.ClickHousePort)
}

// SWISDataDir returns the SWIS data directory path.
func (c *Config) SWISDataDir() string {
	return filepath.Join(c.DataDir, "swis")
}

// ParquetDir returns the directory swis-convert writes to by default.
func (c *Config) ParquetDir() string {
	return filepath.Join(c.DataDir, "swis", "parquet")
}
