package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultStreamMaxLen = 500
	defaultLatestTTL    = 24 * time.Hour
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr         string // Redis address, e.g. "localhost:6379"
	Password     string
	DB           int
	StreamMaxLen int64         // approximate cap of each snapshot stream
	LatestTTL    time.Duration // expiry of the latest-signal hash
}

// Writer publishes evaluation snapshots to Redis.
type Writer struct {
	client    *goredis.Client
	maxLen    int64
	latestTTL time.Duration
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	w := &Writer{client: client, maxLen: cfg.StreamMaxLen, latestTTL: cfg.LatestTTL}
	if w.maxLen <= 0 {
		w.maxLen = defaultStreamMaxLen
	}
	if w.latestTTL <= 0 {
		w.latestTTL = defaultLatestTTL
	}
	log.Printf("[redis] connected to %s", cfg.Addr)
	return w, nil
}

// Publish writes one record: XADD to its stream, HSET into the symbol's
// latest hash and PUBLISH a notification, in one pipeline.
func (w *Writer) Publish(ctx context.Context, rec Record) error {
	return w.PublishBatch(ctx, []Record{rec})
}

// PublishBatch writes several records in a single pipeline roundtrip.
func (w *Writer) PublishBatch(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	now := time.Now().UTC()

	pipe := w.client.Pipeline()
	touched := make(map[string]bool)
	for _, rec := range recs {
		p, err := encode(rec, now)
		if err != nil {
			return err
		}
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: StreamKey(rec.Symbol, rec.Node),
			MaxLen: w.maxLen,
			Approx: true,
			Values: map[string]interface{}{"data": p.snapshot},
		})
		latestKey := LatestKey(rec.Symbol)
		pipe.HSet(ctx, latestKey, rec.Node, p.latest)
		touched[latestKey] = true
		pipe.Publish(ctx, ChannelKey(rec.Symbol), p.latest)
	}
	for key := range touched {
		pipe.Expire(ctx, key, w.latestTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish pipeline (%d records): %w", len(recs), err)
	}
	return nil
}

// Run reads records from recCh and publishes them.
// Blocks until ctx is cancelled or recCh is closed.
func (w *Writer) Run(ctx context.Context, recCh <-chan Record) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-recCh:
			if !ok {
				return
			}
			if err := w.Publish(ctx, rec); err != nil {
				log.Printf("[redis] %v", err)
			}
		}
	}
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
