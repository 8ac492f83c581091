package indengine

import (
	"context"
	"fmt"
	"log"
	"time"

	"taengine/internal/metrics"
	redisstore "taengine/internal/store/redis"
	sqlitestore "taengine/internal/store/sqlite"
)

func sqliteRecords(ev *Evaluation) []sqlitestore.RunRecord {
	recs := make([]sqlitestore.RunRecord, 0, len(ev.Order))
	for _, name := range ev.Order {
		recs = append(recs, sqlitestore.RunRecord{
			RunID:  ev.RunID,
			Node:   name,
			Symbol: ev.Symbol,
			Times:  ev.Times,
			Result: ev.Results[name],
		})
	}
	return recs
}

// SQLiteSink stores every node result synchronously, in one transaction.
type SQLiteSink struct {
	w    *sqlitestore.Writer
	prom *metrics.Metrics
}

func NewSQLiteSink(w *sqlitestore.Writer, m *metrics.Metrics) *SQLiteSink {
	return &SQLiteSink{w: w, prom: m}
}

func (s *SQLiteSink) Name() string { return "sqlite" }

func (s *SQLiteSink) Save(ctx context.Context, ev *Evaluation) error {
	start := time.Now()
	err := s.w.SaveResults(ctx, sqliteRecords(ev))
	if s.prom != nil {
		s.prom.SQLiteCommitDur.Observe(time.Since(start).Seconds())
	}
	return err
}

// SQLiteQueue hands node results to a background batching writer. Save never
// blocks: when the queue is full the evaluation is dropped and reported.
type SQLiteQueue struct {
	ch   chan sqlitestore.RunRecord
	done chan struct{}
}

// NewSQLiteQueue starts w.Run on a queue of the given size. The writer stops
// when ctx is cancelled, after flushing what it holds; Wait blocks until
// then.
func NewSQLiteQueue(ctx context.Context, w *sqlitestore.Writer, size int, m *metrics.Metrics) *SQLiteQueue {
	q := &SQLiteQueue{ch: make(chan sqlitestore.RunRecord, size), done: make(chan struct{})}
	go func() {
		defer close(q.done)
		w.Run(ctx, q.ch, q.onCommit(m))
	}()
	return q
}

// Wait blocks until the background writer has committed its final batch.
// Call it after cancelling the context passed to NewSQLiteQueue and before
// closing the writer.
func (q *SQLiteQueue) Wait() { <-q.done }

func (q *SQLiteQueue) onCommit(m *metrics.Metrics) func(int, time.Duration, error) {
	return func(n int, d time.Duration, err error) {
		if m == nil {
			return
		}
		m.SQLiteCommitDur.Observe(d.Seconds())
		if err != nil {
			m.PublishErrors.WithLabelValues("sqlite").Inc()
		}
	}
}

func (q *SQLiteQueue) Name() string { return "sqlite" }

func (q *SQLiteQueue) Save(ctx context.Context, ev *Evaluation) error {
	for _, rec := range sqliteRecords(ev) {
		select {
		case q.ch <- rec:
		case <-ctx.Done():
			return ctx.Err()
		default:
			return fmt.Errorf("sqlite queue full, dropped run %s from node %s", ev.RunID, rec.Node)
		}
	}
	return nil
}

// RedisSink publishes the snapshot of every node.
type RedisSink struct {
	pub  redisstore.Publisher
	prom *metrics.Metrics
}

func NewRedisSink(pub redisstore.Publisher, m *metrics.Metrics) *RedisSink {
	return &RedisSink{pub: pub, prom: m}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Save(ctx context.Context, ev *Evaluation) error {
	start := time.Now()
	defer func() {
		if s.prom != nil {
			s.prom.RedisWriteDur.Observe(time.Since(start).Seconds())
		}
	}()
	for _, name := range ev.Order {
		err := s.pub.Publish(ctx, redisstore.Record{
			RunID:     ev.RunID,
			Node:      name,
			Symbol:    ev.Symbol,
			Indicator: ev.Indicators[name],
			Result:    ev.Results[name],
		})
		if err != nil {
			return fmt.Errorf("publish %s: %w", name, err)
		}
	}
	return nil
}

// NewBufferedRedis wraps a Redis writer with a circuit breaker whose state
// and buffering are reported on m.
func NewBufferedRedis(w *redisstore.Writer, m *metrics.Metrics) *redisstore.BufferedPublisher {
	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		log.Printf("[indengine] redis circuit breaker %s -> %s", from, to)
		if m == nil {
			return
		}
		m.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			m.RedisCircuitBreakerTrips.Inc()
		}
	}
	bp := redisstore.NewBufferedPublisher(w, cb, 0)
	if m != nil {
		bp.OnBuffer = m.RedisBufferedWrites.Inc
	}
	return bp
}
