// cmd/taserver serves indicator graph evaluations over HTTP and websocket,
// persisting every run to SQLite and publishing snapshots to Redis.
//
// Usage:
//
//	HTTP_ADDR=:8080 REDIS_ADDR=localhost:6379 go run ./cmd/taserver
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"taengine/config"
	"taengine/internal/gateway"
	"taengine/internal/indengine"
	"taengine/internal/logger"
	"taengine/internal/metrics"
	redisstore "taengine/internal/store/redis"
	sqlitestore "taengine/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	log := logger.Init("taserver", logger.ParseLevel(cfg.LogLevel))

	engineCfg, err := indengine.ConfigFrom(cfg)
	if err != nil {
		log.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	engineCfg.MaxBars = 1_000_000

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	// SQLite: bars for symbol requests, run history for every evaluation.
	writer, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Error("sqlite open failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer writer.Close()
	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Error("sqlite reader open failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer reader.Close()
	health.EnableSQLite()

	// The queue outlives ctx so requests still in flight during shutdown are
	// committed before the writer closes.
	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()
	queue := indengine.NewSQLiteQueue(queueCtx, writer, 4096, prom)
	sinks := []indengine.Sink{queue}

	var (
		rdb     *goredis.Client
		apiOpts []gateway.ServerOption
	)
	if cfg.RedisAddr != "" {
		rw, err := redisstore.New(redisstore.WriterConfig{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			StreamMaxLen: 1000,
			LatestTTL:    24 * time.Hour,
		})
		if err != nil {
			log.Error("redis connection failed", slog.String("addr", cfg.RedisAddr), slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rw.Close()
		rdb = rw.Client()
		health.EnableRedis()
		sinks = append(sinks, indengine.NewRedisSink(indengine.NewBufferedRedis(rw, prom), prom))
		// Shares rw's client; closed by rw.Close.
		apiOpts = append(apiOpts, gateway.WithPublished(redisstore.NewReaderFromClient(rdb)))
		log.Info("redis publishing enabled", slog.String("addr", cfg.RedisAddr))
	}

	health.StartLivenessChecker(ctx, rdb, writer.DB(), 10*time.Second)

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, prom, health)
	metricsSrv.Start()

	svc := indengine.New(engineCfg,
		indengine.WithSinks(sinks...),
		indengine.WithMetrics(prom, health),
		indengine.WithLogger(log),
	)
	api := gateway.NewServer(svc, reader, prom, apiOpts...)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("http listening", slog.String("addr", cfg.HTTPAddr), slog.String("plan", engineCfg.Plan))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	stopQueue()
	queue.Wait()
	log.Info("sqlite queue flushed")
}
