package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/KI7MT/ki7mt-swis-lab/internal/plasma"
)

// Options addresses the ClickHouse server and the two swis tables.
type Options struct {
	Addr         string // host:port of the native protocol
	Database     string
	User         string
	Password     string
	RawTable     string
	FeatureTable string
}

func (o Options) RawFQN() string {
	return fmt.Sprintf("%s.%s", o.Database, o.RawTable)
}

func (o Options) FeatureFQN() string {
	return fmt.Sprintf("%s.%s", o.Database, o.FeatureTable)
}

// =============================================================================
// Writer - ch-go native inserts
// =============================================================================

// Writer inserts columnar batches over a single native connection.
type Writer struct {
	conn *ch.Client
	opts Options
}

// Dial connects a Writer with LZ4 compression.
func Dial(ctx context.Context, opts Options) (*Writer, error) {
	conn, err := ch.Dial(ctx, ch.Options{
		Address:     opts.Addr,
		Database:    opts.Database,
		User:        opts.User,
		Password:    opts.Password,
		Compression: ch.CompressionLZ4,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse dial %s: %w", opts.Addr, err)
	}
	return &Writer{conn: conn, opts: opts}, nil
}

// EnsureSchema creates both tables when absent.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	for _, q := range []string{
		fmt.Sprintf(SamplesDDL, w.opts.RawFQN()),
		fmt.Sprintf(FeaturesDDL, w.opts.FeatureFQN()),
	} {
		if err := w.conn.Do(ctx, ch.Query{Body: q}); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// InsertSamples writes the batch to the raw table. An empty batch is a no-op.
func (w *Writer) InsertSamples(ctx context.Context, batch *SampleBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	query := fmt.Sprintf("INSERT INTO %s (timestamp, proton_density, proton_speed, proton_temperature, alpha_density, source_file) VALUES", w.opts.RawFQN())
	return w.conn.Do(ctx, ch.Query{
		Body:  query,
		Input: batch.Input(),
	})
}

// InsertFeatures writes the batch to the feature table. An empty batch is a no-op.
func (w *Writer) InsertFeatures(ctx context.Context, batch *FeatureBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	query := fmt.Sprintf("INSERT INTO %s (window_start, window_end, source, raw_rows, derived_rows, cadence_s, alpha_proton_ratio, vp_std_15min, alpha_over_vpstd, alpha_tp_ratio, probability, label) VALUES", w.opts.FeatureFQN())
	return w.conn.Do(ctx, ch.Query{
		Body:  query,
		Input: batch.Input(),
	})
}

// Truncate empties a table given its fully qualified name.
func (w *Writer) Truncate(ctx context.Context, tableFQN string) error {
	return w.conn.Do(ctx, ch.Query{Body: fmt.Sprintf("TRUNCATE TABLE %s", tableFQN)})
}

func (w *Writer) Close() error {
	return w.conn.Close()
}

// =============================================================================
// Reader - clickhouse-go/v2 window queries
// =============================================================================

// Reader pulls time windows back out of the raw table.
type Reader struct {
	conn driver.Conn
	opts Options
}

// Open connects a Reader and pings the server.
func Open(ctx context.Context, opts Options) (*Reader, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.User,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open %s: %w", opts.Addr, err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping %s: %w", opts.Addr, err)
	}
	return &Reader{conn: conn, opts: opts}, nil
}

// rawSample converts one stored row. NULL columns become missing values.
func rawSample(ts time.Time, np, vp, tp, alpha *float64) plasma.RawSample {
	return plasma.RawSample{
		Timestamp:         ts.UTC().Format(time.RFC3339Nano),
		ProtonDensity:     fromNullable(np),
		ProtonSpeed:       fromNullable(vp),
		ProtonTemperature: fromNullable(tp),
		AlphaDensity:      fromNullable(alpha),
	}
}

func fromNullable(p *float64) plasma.Float {
	if p == nil {
		return plasma.Missing
	}
	return plasma.Of(*p)
}

// LoadWindow returns samples with from <= timestamp < to, ordered by time.
// The window always carries the canonical column set.
func (r *Reader) LoadWindow(ctx context.Context, from, to time.Time) (plasma.RawWindow, error) {
	query := fmt.Sprintf(`SELECT timestamp, proton_density, proton_speed, proton_temperature, alpha_density
FROM %s
WHERE timestamp >= ? AND timestamp < ?
ORDER BY timestamp`, r.opts.RawFQN())

	rows, err := r.conn.Query(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return plasma.RawWindow{}, fmt.Errorf("load window: %w", err)
	}
	defer rows.Close()

	w := plasma.RawWindow{Columns: append([]string(nil), plasma.RequiredColumns...)}
	for rows.Next() {
		var (
			ts                time.Time
			np, vp, tp, alpha *float64
		)
		if err := rows.Scan(&ts, &np, &vp, &tp, &alpha); err != nil {
			return plasma.RawWindow{}, fmt.Errorf("scan window row: %w", err)
		}
		w.Samples = append(w.Samples, rawSample(ts, np, vp, tp, alpha))
	}
	if err := rows.Err(); err != nil {
		return plasma.RawWindow{}, fmt.Errorf("load window: %w", err)
	}
	return w, nil
}

// Bounds returns the first and last stored timestamps and the row count.
// Both times are zero when the table is empty.
func (r *Reader) Bounds(ctx context.Context) (first, last time.Time, rows uint64, err error) {
	query := fmt.Sprintf("SELECT min(timestamp), max(timestamp), count() FROM %s", r.opts.RawFQN())
	if err = r.conn.QueryRow(ctx, query).Scan(&first, &last, &rows); err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("bounds: %w", err)
	}
	if rows == 0 {
		return time.Time{}, time.Time{}, 0, nil
	}
	return first.UTC(), last.UTC(), rows, nil
}

func (r *Reader) Close() error {
	return r.conn.Close()
}
