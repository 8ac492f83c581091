// cmd/backtest evaluates an indicator plan over historical bars, from a CSV
// file or the SQLite bar store, and prints the last value and signal counts
// of every node.
//
// Usage:
//
//	go run ./cmd/backtest -csv data/acme.csv -plan "fast=EMA:9,slow=SMA:5<-fast,rsi=RSI:14"
//	go run ./cmd/backtest -symbol ACME -from 2024-01-01 -persist
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"taengine/config"
	"taengine/internal/barload"
	"taengine/internal/indengine"
	"taengine/internal/logger"
	"taengine/internal/model"
	"taengine/internal/resample"
	sig "taengine/internal/signal"
	redisstore "taengine/internal/store/redis"
	sqlitestore "taengine/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	dbPath := flag.String("db", cfg.SQLitePath, "Path to SQLite database")
	symbol := flag.String("symbol", "", "Symbol to read from the bar store (or label for -csv)")
	csvPath := flag.String("csv", "", "Read bars from this CSV file instead of SQLite")
	benchCSV := flag.String("benchmark", "", "CSV file with benchmark bars for RS nodes")
	plan := flag.String("plan", "", "Indicator plan: name=TYPE:PERIOD[<-source],... (default INDICATOR_PLAN)")
	input := flag.String("input", "", "Default price view: close, open, high, low, median, typical, weighted, full_typical")
	policy := flag.String("policy", "", "Window warm-up policy: partial or zero_fill")
	fromStr := flag.String("from", "", "First bar date (YYYY-MM-DD), store only")
	toStr := flag.String("to", "", "Last bar date (YYYY-MM-DD), store only")
	tfStr := flag.String("tf", "", "Resample bars to this timeframe before evaluating (e.g. 5m, 3600)")
	persist := flag.Bool("persist", false, "Save the run to SQLite")
	publish := flag.Bool("redis", false, "Publish the run to REDIS_ADDR")
	flag.Parse()

	log := logger.Init("backtest", logger.ParseLevel(cfg.LogLevel))
	fail := func(msg string, err error) {
		log.Error(msg, slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	bars, err := loadBars(ctx, *csvPath, *dbPath, *symbol, *fromStr, *toStr)
	if err != nil {
		fail("load bars failed", err)
	}
	var bench *model.BarSeries
	if *benchCSV != "" {
		if bench, err = barload.Load(*benchCSV, barload.DefaultOptions()); err != nil {
			fail("load benchmark failed", err)
		}
	}
	if *tfStr != "" {
		tf, err := resample.ParseTimeframe(*tfStr)
		if err != nil {
			fail("invalid -tf", err)
		}
		if bars, err = resample.Bars(bars, tf); err != nil {
			fail("resample failed", err)
		}
		if bench != nil {
			if bench, err = resample.Bars(bench, tf); err != nil {
				fail("resample benchmark failed", err)
			}
		}
		log.Info("bars resampled", slog.String("tf", tf.String()), slog.Int("bars", bars.Len()))
	}

	engineCfg, err := indengine.ConfigFrom(cfg)
	if err != nil {
		fail("invalid configuration", err)
	}

	var sinks []indengine.Sink
	if *persist {
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
		if err != nil {
			fail("sqlite open failed", err)
		}
		defer w.Close()
		sinks = append(sinks, indengine.NewSQLiteSink(w, nil))
	}
	if *publish {
		rw, err := redisstore.New(redisstore.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			fail("redis connection failed", err)
		}
		defer rw.Close()
		sinks = append(sinks, indengine.NewRedisSink(rw, nil))
	}

	svc := indengine.New(engineCfg, indengine.WithSinks(sinks...), indengine.WithLogger(log))
	start := time.Now()
	ev, err := svc.Evaluate(ctx, indengine.Request{
		Symbol:    *symbol,
		Bars:      bars,
		Benchmark: bench,
		Plan:      *plan,
		Input:     *input,
		Policy:    *policy,
	})
	if err != nil {
		fail("evaluation failed", err)
	}
	printSummary(ev, time.Since(start))
}

func loadBars(ctx context.Context, csvPath, dbPath, symbol, fromStr, toStr string) (*model.BarSeries, error) {
	if csvPath != "" {
		return barload.Load(csvPath, barload.DefaultOptions())
	}
	if symbol == "" {
		return nil, fmt.Errorf("either -csv or -symbol is required")
	}
	from, err := parseDate(fromStr)
	if err != nil {
		return nil, err
	}
	to, err := parseDate(toStr)
	if err != nil {
		return nil, err
	}
	r, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	bars, err := r.ReadBars(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}
	if bars.Len() == 0 {
		return nil, fmt.Errorf("no bars stored for %s", symbol)
	}
	return bars, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func printSummary(ev *indengine.Evaluation, elapsed time.Duration) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BACKTEST COMPLETE                       ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  Run:      %-49s ║\n", ev.RunID)
	fmt.Printf("║  Bars:     %-49d ║\n", ev.Bars)
	fmt.Printf("║  Nodes:    %-49d ║\n", len(ev.Order))
	fmt.Printf("║  Elapsed:  %-49s ║\n", elapsed.Round(time.Microsecond))
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")

	for _, name := range ev.Order {
		r := ev.Results[name]
		fmt.Printf("\n%s (%s)  last signal: %s\n", name, ev.Indicators[name], r.LastSignal())

		last := r.Last()
		keys := make([]string, 0, len(last))
		for k := range last {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%.4f", k, last[k]))
		}
		fmt.Printf("  last:    %s\n", strings.Join(parts, " "))

		counts := r.SignalCounts()
		fmt.Printf("  signals: BUY=%d SELL=%d NEUTRAL=%d\n", counts[sig.Buy], counts[sig.Sell], counts[sig.Neutral])
	}
}
