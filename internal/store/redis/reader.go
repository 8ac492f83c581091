package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"taengine/internal/series"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr     string
	Password string
	DB       int
}

// Reader reads published snapshots and latest signals.
type Reader struct {
	client *goredis.Client
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	log.Printf("[redis-reader] connected to %s", cfg.Addr)
	return &Reader{client: client}, nil
}

// NewReaderFromClient reads through an existing client, typically the
// writer's. Close on the returned Reader closes client.
func NewReaderFromClient(client *goredis.Client) *Reader {
	return &Reader{client: client}
}

// Latest returns the latest-signal entry of every node of symbol.
func (r *Reader) Latest(ctx context.Context, symbol string) (map[string]LatestEntry, error) {
	raw, err := r.client.HGetAll(ctx, LatestKey(symbol)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL %s: %w", LatestKey(symbol), err)
	}
	return decodeLatestHash(symbol, raw), nil
}

func decodeLatestHash(symbol string, raw map[string]string) map[string]LatestEntry {
	out := make(map[string]LatestEntry, len(raw))
	for node, data := range raw {
		e, err := DecodeLatest(data)
		if err != nil {
			log.Printf("[redis-reader] skipping corrupt latest entry %s/%s: %v", symbol, node, err)
			continue
		}
		out[node] = e
	}
	return out
}

// Recent returns up to count snapshots of symbol/node, newest first.
func (r *Reader) Recent(ctx context.Context, symbol, node string, count int64) ([]*series.Snapshot, error) {
	key := StreamKey(symbol, node)
	msgs, err := r.client.XRevRangeN(ctx, key, "+", "-", count).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", key, err)
	}
	return decodeStream(key, msgs), nil
}

// decodeStream turns stream entries into snapshots, skipping corrupt ones.
func decodeStream(key string, msgs []goredis.XMessage) []*series.Snapshot {
	out := make([]*series.Snapshot, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		snap, _, err := series.UnmarshalSnapshot([]byte(data))
		if err != nil {
			log.Printf("[redis-reader] skipping corrupt snapshot %s %s: %v", key, msg.ID, err)
			continue
		}
		out = append(out, snap)
	}
	return out
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.client.Close()
}
