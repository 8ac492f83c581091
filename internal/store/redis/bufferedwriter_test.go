package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	fail bool
	got  []string
}

func (f *fakePublisher) Publish(_ context.Context, rec Record) error {
	if f.fail {
		return errFail
	}
	f.got = append(f.got, rec.RunID)
	return nil
}

func TestBufferedPublisher_BuffersAndReplays(t *testing.T) {
	pub := &fakePublisher{fail: true}
	cb, clock := newTestBreaker(2, time.Second)
	bp := NewBufferedPublisher(pub, cb, 10)
	buffered, flushed := 0, 0
	bp.OnBuffer = func() { buffered++ }
	bp.OnFlush = func(n int) { flushed += n }
	ctx := context.Background()

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, bp.Publish(ctx, Record{RunID: id}))
	}
	assert.Equal(t, StateOpen, cb.CurrentState())
	assert.Equal(t, 3, bp.PendingCount())
	assert.Equal(t, 3, buffered)

	pub.fail = false
	clock.advance(2 * time.Second)
	require.NoError(t, bp.Publish(ctx, Record{RunID: "r4"}))

	assert.Equal(t, []string{"r4", "r1", "r2", "r3"}, pub.got)
	assert.Zero(t, bp.PendingCount())
	assert.Equal(t, 3, flushed)
}

func TestBufferedPublisher_DropsOldest(t *testing.T) {
	pub := &fakePublisher{fail: true}
	cb, _ := newTestBreaker(1, time.Hour)
	bp := NewBufferedPublisher(pub, cb, 2)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, bp.Publish(context.Background(), Record{RunID: id}))
	}
	assert.Equal(t, 2, bp.PendingCount())
	assert.Equal(t, "b", bp.buffer[0].RunID)
}
