package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"taengine/internal/model"
	"taengine/internal/series"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("sqlite: not found")

// Reader provides read-only access to stored bars and evaluation runs.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadBars loads the bars of symbol with from <= ts <= to, ordered by
// timestamp. Zero bounds are open.
func (r *Reader) ReadBars(ctx context.Context, symbol string, from, to time.Time) (*model.BarSeries, error) {
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if !from.IsZero() {
		lo = from.Unix()
	}
	if !to.IsZero() {
		hi = to.Unix()
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, symbol, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var (
		bars  []model.Bar
		times []time.Time
	)
	for rows.Next() {
		var b model.Bar
		var ts int64
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		bars = append(bars, b)
		times = append(times, time.Unix(ts, 0).UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s, err := model.FromBars(bars)
	if err != nil {
		return nil, err
	}
	return s.WithTimes(times)
}

// Symbols lists the symbols with stored bars.
func (r *Reader) Symbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReadRun loads the stored snapshot of one node of one run.
func (r *Reader) ReadRun(ctx context.Context, runID, node string) (*series.Snapshot, *series.Result, error) {
	var data string
	err := r.db.QueryRowContext(ctx,
		`SELECT snapshot FROM indicator_runs WHERE run_id = ? AND node = ?`, runID, node,
	).Scan(&data)
	return decodeRun(data, err, runID+"/"+node)
}

// LatestRun loads the newest stored snapshot of symbol/node.
func (r *Reader) LatestRun(ctx context.Context, symbol, node string) (*series.Snapshot, *series.Result, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `
		SELECT snapshot FROM indicator_runs
		WHERE symbol = ? AND node = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, symbol, node).Scan(&data)
	return decodeRun(data, err, symbol+"/"+node)
}

func decodeRun(data string, err error, what string) (*series.Snapshot, *series.Result, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: run %s", ErrNotFound, what)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite read run: %w", err)
	}
	return series.UnmarshalSnapshot([]byte(data))
}

// ReadValues loads one stored output of a run in bar order.
func (r *Reader) ReadValues(ctx context.Context, runID, node, output string) ([]float64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT value FROM indicator_values
		WHERE run_id = ? AND node = ? AND output = ?
		ORDER BY bar ASC
	`, runID, node, output)
	if err != nil {
		return nil, fmt.Errorf("sqlite query values: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: values %s/%s/%s", ErrNotFound, runID, node, output)
	}
	return out, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
