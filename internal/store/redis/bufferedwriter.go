package redis

import (
	"context"
	"errors"
	"log"
	"sync"
)

// Publisher is anything that can publish a record. *Writer implements it.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
}

// BufferedPublisher wraps a Publisher with a circuit breaker. While the
// circuit is open, records are buffered locally and replayed once a publish
// succeeds again.
type BufferedPublisher struct {
	pub Publisher
	cb  *CircuitBreaker

	mu     sync.Mutex
	buffer []Record
	maxBuf int // oldest records are dropped beyond this

	OnBuffer func()          // called when a record is buffered (for metrics)
	OnFlush  func(count int) // called after replaying buffered records
}

// NewBufferedPublisher creates a BufferedPublisher wrapping pub.
func NewBufferedPublisher(pub Publisher, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	return &BufferedPublisher{
		pub:    pub,
		cb:     cb,
		buffer: make([]Record, 0, 64),
		maxBuf: maxBufferSize,
	}
}

// Publish sends rec through the breaker. A rejected or failed publish is
// buffered and is not reported as an error. After a successful publish any
// buffered records are replayed in order.
func (bp *BufferedPublisher) Publish(ctx context.Context, rec Record) error {
	err := bp.cb.Execute(func() error { return bp.pub.Publish(ctx, rec) })
	if err != nil {
		if !errors.Is(err, ErrCircuitOpen) {
			log.Printf("[buffered-publisher] publish %s/%s failed, buffering: %v", rec.Symbol, rec.Node, err)
		}
		bp.bufferRecord(rec)
		return nil
	}
	bp.flush(ctx)
	return nil
}

func (bp *BufferedPublisher) bufferRecord(rec Record) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, rec)

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered records. Records that fail again go back to the
// front of the buffer.
func (bp *BufferedPublisher) flush(ctx context.Context) {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.buffer
	bp.buffer = make([]Record, 0, 64)
	bp.mu.Unlock()

	flushed := 0
	for i, rec := range toFlush {
		err := bp.cb.Execute(func() error { return bp.pub.Publish(ctx, rec) })
		if err != nil {
			bp.mu.Lock()
			bp.buffer = append(append([]Record(nil), toFlush[i:]...), bp.buffer...)
			bp.mu.Unlock()
			break
		}
		flushed++
	}

	if flushed > 0 {
		log.Printf("[buffered-publisher] flushed %d buffered records", flushed)
		if bp.OnFlush != nil {
			bp.OnFlush(flushed)
		}
	}
}

// PendingCount returns the number of buffered records.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}
