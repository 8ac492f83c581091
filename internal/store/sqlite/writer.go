package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"taengine/internal/model"
	"taengine/internal/series"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 16
	defaultFlushDelay = 200 * time.Millisecond
	defaultKeepRuns   = 100
)

// ErrNoTimes is returned when bars without timestamps are written.
var ErrNoTimes = errors.New("sqlite: bars carry no timestamps")

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath   string // path to SQLite database file, e.g. "data/bars.db"
	KeepRuns int    // evaluation runs kept per symbol/node (0 = default)
}

// Writer is a single-connection SQLite writer.
type Writer struct {
	db       *sql.DB
	keepRuns int
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	keep := cfg.KeepRuns
	if keep <= 0 {
		keep = defaultKeepRuns
	}
	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db, keepRuns: keep}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			volume REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS indicator_runs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT    NOT NULL,
			node        TEXT    NOT NULL,
			symbol      TEXT    NOT NULL DEFAULT '',
			bars        INTEGER NOT NULL,
			primary_out TEXT    NOT NULL,
			last_signal TEXT    NOT NULL,
			snapshot    TEXT    NOT NULL,
			created_at  INTEGER NOT NULL,
			UNIQUE (run_id, node)
		);

		CREATE TABLE IF NOT EXISTS indicator_values (
			run_id TEXT    NOT NULL,
			node   TEXT    NOT NULL,
			bar    INTEGER NOT NULL,
			ts     INTEGER,
			output TEXT    NOT NULL,
			value  REAL    NOT NULL,
			PRIMARY KEY (run_id, node, output, bar)
		);

		CREATE INDEX IF NOT EXISTS idx_runs_symbol_node ON indicator_runs (symbol, node, created_at);
	`)
	return err
}

// WriteBars upserts every bar of s under symbol in one transaction.
func (w *Writer) WriteBars(ctx context.Context, symbol string, s *model.BarSeries) (int, error) {
	times := s.Times()
	if times == nil && s.Len() > 0 {
		return 0, ErrNoTimes
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	for i := 0; i < s.Len(); i++ {
		b := s.Bar(i)
		if _, err := stmt.ExecContext(ctx, symbol, times[i].Unix(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("sqlite insert bar %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return s.Len(), nil
}

// LastBarTime returns the last stored bar timestamp for symbol.
// ok is false if no bars exist.
func (w *Writer) LastBarTime(ctx context.Context, symbol string) (t time.Time, ok bool, err error) {
	var ts sql.NullInt64
	err = w.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM bars WHERE symbol = ?`, symbol,
	).Scan(&ts)
	if err != nil || !ts.Valid {
		return time.Time{}, false, err
	}
	return time.Unix(ts.Int64, 0).UTC(), true, nil
}

// RunRecord is one node result of one evaluation run.
type RunRecord struct {
	RunID  string
	Node   string
	Symbol string
	Times  []time.Time // optional, stored next to per-bar values
	Result *series.Result
}

// SaveResult stores the run's snapshot and its per-bar values.
func (w *Writer) SaveResult(ctx context.Context, rec RunRecord) error {
	return w.SaveResults(ctx, []RunRecord{rec})
}

// SaveResults stores several records in one transaction, then prunes each
// touched symbol/node down to KeepRuns runs.
func (w *Writer) SaveResults(ctx context.Context, recs []RunRecord) error {
	if err := w.insertRuns(ctx, recs); err != nil {
		return err
	}
	w.prune(recs)
	return nil
}

func (w *Writer) insertRuns(ctx context.Context, recs []RunRecord) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	runStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO indicator_runs (run_id, node, symbol, bars, primary_out, last_signal, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer runStmt.Close()

	valStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO indicator_values (run_id, node, bar, ts, output, value)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer valStmt.Close()

	for _, rec := range recs {
		if err := insertRun(ctx, runStmt, valStmt, rec); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func insertRun(ctx context.Context, runStmt, valStmt *sql.Stmt, rec RunRecord) error {
	snap := rec.Result.Snapshot()
	snap.RunID, snap.Node, snap.Symbol = rec.RunID, rec.Node, rec.Symbol
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := runStmt.ExecContext(ctx, rec.RunID, rec.Node, rec.Symbol, snap.Bars, snap.Primary,
		snap.LastSignal.String(), string(data), snap.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("sqlite insert run %s/%s: %w", rec.RunID, rec.Node, err)
	}

	hasTimes := len(rec.Times) == snap.Bars
	for _, out := range snap.Outputs {
		for i, v := range out.Values {
			var ts any
			if hasTimes {
				ts = rec.Times[i].Unix()
			}
			if _, err := valStmt.ExecContext(ctx, rec.RunID, rec.Node, i, ts, out.Name, v); err != nil {
				return fmt.Errorf("sqlite insert value %s[%d]: %w", out.Name, i, err)
			}
		}
	}
	return nil
}

// Run reads records from recCh and inserts them in batched transactions.
// Flushes every batch of records OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or recCh is closed. On cancellation the
// records already queued on recCh are drained into the final flush.
func (w *Writer) Run(ctx context.Context, recCh <-chan RunRecord, onCommit func(n int, d time.Duration, err error)) {
	batch := make([]RunRecord, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// ctx may already be done on shutdown; the final flush still commits.
		err := w.insertRuns(context.Background(), batch)
		if err != nil {
			log.Printf("[sqlite] run batch insert error: %v", err)
		} else {
			w.prune(batch)
		}
		if onCommit != nil {
			onCommit(len(batch), time.Since(start), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case rec, ok := <-recCh:
					if !ok {
						break drain
					}
					batch = append(batch, rec)
				default:
					break drain
				}
			}
			flush()
			return

		case rec, ok := <-recCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (w *Writer) prune(batch []RunRecord) {
	seen := make(map[[2]string]bool)
	for _, rec := range batch {
		key := [2]string{rec.Symbol, rec.Node}
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := w.PruneRuns(context.Background(), rec.Symbol, rec.Node, w.keepRuns); err != nil {
			log.Printf("[sqlite] prune runs warning: %v", err)
		}
	}
}

// PruneRuns keeps the newest keep runs of symbol/node and deletes the rest
// together with their values.
func (w *Writer) PruneRuns(ctx context.Context, symbol, node string, keep int) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		DELETE FROM indicator_values
		WHERE node = ? AND run_id IN (
			SELECT run_id FROM indicator_runs
			WHERE symbol = ? AND node = ?
			ORDER BY created_at DESC, id DESC
			LIMIT -1 OFFSET ?
		)`, node, symbol, node, keep)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prune values: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		DELETE FROM indicator_runs
		WHERE id IN (
			SELECT id FROM indicator_runs
			WHERE symbol = ? AND node = ?
			ORDER BY created_at DESC, id DESC
			LIMIT -1 OFFSET ?
		)`, symbol, node, keep)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prune runs: %w", err)
	}
	return tx.Commit()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
