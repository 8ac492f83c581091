// cmd/importbars loads OHLCV bars from a CSV file into the SQLite bar store.
// Rows at or before the newest stored bar of the symbol are skipped, so the
// same file can be imported repeatedly.
//
// Usage:
//
//	go run ./cmd/importbars -csv data/acme.csv -symbol ACME
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"taengine/config"
	"taengine/internal/barload"
	"taengine/internal/logger"
	"taengine/internal/model"
	sqlitestore "taengine/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	csvPath := flag.String("csv", "", "CSV file with time,open,high,low,close[,volume] columns")
	symbol := flag.String("symbol", "", "Symbol to store the bars under")
	filter := flag.String("filter", "", "Only import rows whose symbol column matches")
	dbPath := flag.String("db", cfg.SQLitePath, "Path to SQLite database")
	decimals := flag.Int("decimals", -1, "Round prices to this many decimals (-1 keeps input precision)")
	skipInvalid := flag.Bool("skip-invalid", false, "Skip malformed rows instead of failing")
	flag.Parse()

	log := logger.Init("importbars", logger.ParseLevel(cfg.LogLevel))
	if *csvPath == "" || *symbol == "" {
		flag.Usage()
		os.Exit(2)
	}

	opts := barload.DefaultOptions()
	opts.Symbol = *filter
	opts.Decimals = int32(*decimals)
	opts.SkipInvalid = *skipInvalid
	bars, err := barload.Load(*csvPath, opts)
	if err != nil {
		log.Error("csv load failed", slog.String("file", *csvPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
	if err != nil {
		log.Error("sqlite open failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer w.Close()

	ctx := context.Background()
	bars, err = newerThanStored(ctx, w, *symbol, bars)
	if err != nil {
		log.Error("read last bar failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	n, err := w.WriteBars(ctx, *symbol, bars)
	if err != nil {
		log.Error("write bars failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("bars imported", slog.String("symbol", *symbol), slog.Int("rows", n), slog.String("db", *dbPath))
}

// newerThanStored drops the leading bars already covered by the store.
func newerThanStored(ctx context.Context, w *sqlitestore.Writer, symbol string, bars *model.BarSeries) (*model.BarSeries, error) {
	last, ok, err := w.LastBarTime(ctx, symbol)
	if err != nil || !ok || bars.Times() == nil {
		return bars, err
	}
	times := bars.Times()
	i := 0
	for i < len(times) && !times[i].After(last) {
		i++
	}
	return bars.Slice(i, len(times))
}
