package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taengine/internal/model"
	"taengine/internal/series"
	"taengine/internal/signal"
)

func openStore(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "bars.db")
	w, err := New(WriterConfig{DBPath: path, KeepRuns: 2})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	r, err := NewReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return w, r
}

func sampleBars(t *testing.T, start time.Time, n int) *model.BarSeries {
	t.Helper()
	bars := make([]model.Bar, n)
	times := make([]time.Time, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = model.Bar{Open: c - 1, High: c + 1, Low: c - 2, Close: c, Volume: float64(10 * i)}
		times[i] = start.Add(time.Duration(i) * 24 * time.Hour)
	}
	s, err := model.FromBars(bars)
	require.NoError(t, err)
	s, err = s.WithTimes(times)
	require.NoError(t, err)
	return s
}

func sampleResult(t *testing.T) *series.Result {
	t.Helper()
	res, err := series.NewAggregator(3).
		Add("ema", []float64{1, 1.5, 2.25}).
		Add("slope", []float64{0, 0.5, 0.75}).
		SetPrimary("ema").
		SetSignals([]signal.Signal{signal.Neutral, signal.Buy, signal.Buy}).
		Build()
	require.NoError(t, err)
	return res
}

func TestBars_RoundTrip(t *testing.T) {
	w, r := openStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := sampleBars(t, start, 5)

	n, err := w.WriteBars(ctx, "ACME", bars)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// upsert is idempotent
	_, err = w.WriteBars(ctx, "ACME", bars)
	require.NoError(t, err)

	got, err := r.ReadBars(ctx, "ACME", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, bars.Bars(), got.Bars())
	assert.Equal(t, bars.Times(), got.Times())

	ranged, err := r.ReadBars(ctx, "ACME", start.Add(24*time.Hour), start.Add(3*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, ranged.Len())
	assert.Equal(t, 101.0, ranged.Close()[0])

	last, ok, err := w.LastBarTime(ctx, "ACME")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, start.Add(4*24*time.Hour), last)

	_, ok, err = w.LastBarTime(ctx, "NONE")
	require.NoError(t, err)
	assert.False(t, ok)

	syms, err := r.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ACME"}, syms)

	empty, err := r.ReadBars(ctx, "NONE", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}

func TestWriteBars_NoTimes(t *testing.T) {
	w, _ := openStore(t)
	s, err := model.NewBarSeries([]float64{1}, []float64{1}, []float64{1}, []float64{1}, nil)
	require.NoError(t, err)
	_, err = w.WriteBars(context.Background(), "X", s)
	assert.ErrorIs(t, err, ErrNoTimes)
}

func TestRuns_RoundTrip(t *testing.T) {
	w, r := openStore(t)
	ctx := context.Background()
	res := sampleResult(t)
	runID := uuid.NewString()

	require.NoError(t, w.SaveResult(ctx, RunRecord{RunID: runID, Node: "fast", Symbol: "ACME", Result: res}))

	snap, got, err := r.ReadRun(ctx, runID, "fast")
	require.NoError(t, err)
	assert.Equal(t, runID, snap.RunID)
	assert.Equal(t, "ACME", snap.Symbol)
	assert.Equal(t, res.Outputs, got.Outputs)
	assert.Equal(t, res.Signals, got.Signals)

	vals, err := r.ReadValues(ctx, runID, "fast", "slope")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 0.75}, vals)

	_, _, err = r.ReadRun(ctx, "missing", "fast")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.ReadValues(ctx, runID, "fast", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRun_BatchAndPrune(t *testing.T) {
	w, r := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	res := sampleResult(t)

	ch := make(chan RunRecord, 8)
	var ids []string
	for i := 0; i < 4; i++ {
		id := uuid.NewString()
		ids = append(ids, id)
		ch <- RunRecord{RunID: id, Node: "fast", Symbol: "ACME", Result: res}
	}
	close(ch)

	commits := 0
	w.Run(ctx, ch, func(n int, _ time.Duration, err error) {
		require.NoError(t, err)
		commits += n
	})
	cancel()
	assert.Equal(t, 4, commits)

	_, latest, err := r.LatestRun(context.Background(), "ACME", "fast")
	require.NoError(t, err)
	assert.Equal(t, res.Outputs, latest.Outputs)

	// KeepRuns is 2: the two oldest runs are pruned with their values.
	_, _, err = r.ReadRun(context.Background(), ids[0], "fast")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.ReadValues(context.Background(), ids[0], "fast", "ema")
	assert.ErrorIs(t, err, ErrNotFound)
}
