package indicator

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taengine/internal/model"
	"taengine/internal/rolling"
	"taengine/internal/series"
	"taengine/internal/signal"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

// barsFromCloses builds bars with a one-unit high/low span around close.
func barsFromCloses(t *testing.T, closes []float64) *model.BarSeries {
	t.Helper()
	n := len(closes)
	high := make([]float64, n)
	low := make([]float64, n)
	for i, c := range closes {
		high[i], low[i] = c+0.5, c-0.5
	}
	bs, err := model.NewBarSeries(closes, high, low, closes, nil)
	require.NoError(t, err)
	return bs
}

func randomBars(t *testing.T, n int, seed int64) *model.BarSeries {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	vol := make([]float64, n)
	p := 100.0
	for i := 0; i < n; i++ {
		open[i] = p
		p = math.Max(1, p+r.NormFloat64())
		closes[i] = p
		high[i] = math.Max(open[i], closes[i]) + r.Float64()
		low[i] = math.Min(open[i], closes[i]) - r.Float64()
		vol[i] = 1000 + r.Float64()*100
	}
	bs, err := model.NewBarSeries(open, high, low, closes, vol)
	require.NoError(t, err)
	return bs
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func runClose(t *testing.T, ind Indicator, bars *model.BarSeries) *series.Result {
	t.Helper()
	res, err := Run(ind, bars, model.Close)
	require.NoError(t, err)
	return res
}

func output(t *testing.T, res *series.Result, name string) []float64 {
	t.Helper()
	v, ok := res.Output(name)
	require.True(t, ok, "missing output %q", name)
	return v
}

// ────────────────────────────────────────────────────────────
// Moving averages
// ────────────────────────────────────────────────────────────

func TestSMA_EndToEnd(t *testing.T) {
	sma, err := NewSMA(SMAConfig{Period: 2})
	require.NoError(t, err)
	res := runClose(t, sma, barsFromCloses(t, []float64{10, 11, 9, 12, 8}))

	assert.Equal(t, []float64{10, 10.5, 10, 10.5, 10}, res.PrimaryValues())
	assert.Equal(t, []signal.Signal{signal.Neutral, signal.Buy, signal.Sell, signal.Buy, signal.Sell}, res.Signals)
	assert.Equal(t, "sma", res.Primary)
	assert.Equal(t, "SMA_2", sma.Name())
}

func TestSMA_Correctness_Period3(t *testing.T) {
	// Partial windows: 100, (100+102)/2, then full (a+b+c)/3.
	sma, _ := NewSMA(SMAConfig{Period: 3})
	res := runClose(t, sma, barsFromCloses(t, []float64{100, 102, 104, 103, 105}))
	want := []float64{100, 101, 102, 103, 104}
	for i, w := range want {
		assertClose(t, fmt.Sprintf("SMA(3) bar %d", i), res.PrimaryValues()[i], w, 1e-9)
	}
}

func TestSMA_ZeroFillWarmup(t *testing.T) {
	sma, err := NewSMA(SMAConfig{Period: 4, Policy: rolling.ZeroFillBeforeWindow})
	require.NoError(t, err)
	res := runClose(t, sma, barsFromCloses(t, []float64{4, 8, 12, 16, 20}))
	want := []float64{1, 3, 6, 10, 14}
	for i, w := range want {
		assertClose(t, fmt.Sprintf("SMA zero-fill bar %d", i), res.PrimaryValues()[i], w, 1e-9)
	}
}

func TestEMA_Correctness_Period3(t *testing.T) {
	// period 3 → alpha 0.5, seeded with the first input.
	ema, err := NewEMA(PeriodConfig{Period: 3})
	require.NoError(t, err)
	res := runClose(t, ema, barsFromCloses(t, []float64{2, 4, 6}))
	assert.Equal(t, []float64{2, 3, 4.5}, res.PrimaryValues())
}

func TestSMMA_Correctness_Period4(t *testing.T) {
	smma, err := NewSMMA(PeriodConfig{Period: 4})
	require.NoError(t, err)
	res := runClose(t, smma, barsFromCloses(t, []float64{8, 12, 12}))
	assert.Equal(t, []float64{8, 9, 9.75}, res.PrimaryValues())
}

func TestIndicators_TrendingUp_Ordering(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	bars := barsFromCloses(t, closes)
	sma5, _ := NewSMA(SMAConfig{Period: 5})
	sma20, _ := NewSMA(SMAConfig{Period: 20})
	ema5, _ := NewEMA(PeriodConfig{Period: 5})
	dema5, _ := NewDEMA(PeriodConfig{Period: 5})

	last := len(closes) - 1
	s5 := runClose(t, sma5, bars).PrimaryValues()[last]
	s20 := runClose(t, sma20, bars).PrimaryValues()[last]
	e5 := runClose(t, ema5, bars).PrimaryValues()[last]
	d5 := runClose(t, dema5, bars).PrimaryValues()[last]

	assert.Greater(t, s5, s20, "SMA(5) should lead SMA(20) in an uptrend")
	assert.Greater(t, e5, s20, "EMA(5) should lead SMA(20) in an uptrend")
	assert.Greater(t, d5, e5, "DEMA(5) should lag less than EMA(5)")
}

func TestIndicators_TrendingDown_Ordering(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 200 - float64(i)
	}
	bars := barsFromCloses(t, closes)
	sma5, _ := NewSMA(SMAConfig{Period: 5})
	sma20, _ := NewSMA(SMAConfig{Period: 20})
	tema5, _ := NewTEMA(PeriodConfig{Period: 5})

	last := len(closes) - 1
	assert.Less(t, runClose(t, sma5, bars).PrimaryValues()[last], runClose(t, sma20, bars).PrimaryValues()[last])

	res := runClose(t, tema5, bars)
	assert.Equal(t, signal.Sell, res.LastSignal())
}

func TestEMA_MoreResponsiveThanSMA(t *testing.T) {
	closes := make([]float64, 21)
	for i := range closes {
		closes[i] = 100
	}
	closes[20] = 120
	bars := barsFromCloses(t, closes)
	sma, _ := NewSMA(SMAConfig{Period: 10})
	ema, _ := NewEMA(PeriodConfig{Period: 10})

	s := runClose(t, sma, bars).PrimaryValues()[20]
	e := runClose(t, ema, bars).PrimaryValues()[20]
	assertClose(t, "SMA jump", s, 102, 1e-9)
	assertClose(t, "EMA jump", e, 100+20*2.0/11, 1e-9)
	assert.Greater(t, e, s)
}

func TestKAMA_ConstantAndTrend(t *testing.T) {
	kama, err := NewKAMA(DefaultKAMAConfig())
	require.NoError(t, err)

	flat := runClose(t, kama, barsFromCloses(t, []float64{5, 5, 5, 5, 5}))
	assert.Equal(t, []float64{5, 5, 5, 5, 5}, flat.PrimaryValues())
	assert.Equal(t, []float64{0, 0, 0, 0, 0}, output(t, flat, "efficiency_ratio"))

	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = float64(i)
	}
	trend := runClose(t, kama, barsFromCloses(t, closes))
	er := output(t, trend, "efficiency_ratio")
	for i := 1; i < len(er); i++ {
		assertClose(t, fmt.Sprintf("ER bar %d", i), er[i], 1, 1e-12)
	}
	assert.Equal(t, signal.Buy, trend.LastSignal())
}

func TestEhlersFilters(t *testing.T) {
	ss, err := NewSuperSmoother(PeriodConfig{Period: 10})
	require.NoError(t, err)
	hp, err := NewHighPass(PeriodConfig{Period: 20})
	require.NoError(t, err)

	bars := barsFromCloses(t, []float64{50, 50, 50, 50})
	sres := runClose(t, ss, bars)
	assert.Equal(t, 50.0, sres.PrimaryValues()[0])
	hres := runClose(t, hp, bars)
	for i, v := range hres.PrimaryValues() {
		assertClose(t, fmt.Sprintf("HP bar %d", i), v, 0, 1e-12)
	}
	assert.Equal(t, signal.Neutral, hres.Signals[0])

	_, err = NewSuperSmoother(PeriodConfig{Period: 1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// ────────────────────────────────────────────────────────────
// Oscillators
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period2(t *testing.T) {
	// gains [0,2,0], losses [0,0,1], Wilder alpha 0.5:
	// avgGain [0,1,0.5], avgLoss [0,0,0.5] → RSI [50,100,50]
	rsi, err := NewRSI(RSIConfig{Period: 2, SignalPeriod: 3, Overbought: 70, Oversold: 30})
	require.NoError(t, err)
	res := runClose(t, rsi, barsFromCloses(t, []float64{10, 12, 11}))
	assert.Equal(t, []float64{50, 100, 50}, res.PrimaryValues())
	// signal line EMA(3): 50, 75, 62.5
	assert.Equal(t, []float64{50, 75, 62.5}, output(t, res, "signal"))
	// bar 2 drops back below 70 with both lines falling.
	assert.Equal(t, signal.Sell, res.Signals[2])
}

func TestRSI_AllUp_Is100(t *testing.T) {
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	rsi, _ := NewRSI(DefaultRSIConfig())
	res := runClose(t, rsi, barsFromCloses(t, closes))
	assertClose(t, "RSI all up", res.PrimaryValues()[9], 100, 1e-9)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = 200 - float64(i)
	}
	rsi, _ := NewRSI(DefaultRSIConfig())
	res := runClose(t, rsi, barsFromCloses(t, closes))
	assertClose(t, "RSI all down", res.PrimaryValues()[9], 0, 1e-9)
}

func TestRSI_Flat_Is50(t *testing.T) {
	rsi, _ := NewRSI(DefaultRSIConfig())
	res := runClose(t, rsi, barsFromCloses(t, []float64{100, 100, 100, 100}))
	for i, v := range res.PrimaryValues() {
		assertClose(t, fmt.Sprintf("RSI flat bar %d", i), v, 50, 0)
	}
}

func TestRSI_InvalidConfig(t *testing.T) {
	_, err := NewRSI(RSIConfig{Period: 14, SignalPeriod: 9, Overbought: 30, Oversold: 70})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewRSI(RSIConfig{Period: 0, SignalPeriod: 9, Overbought: 70, Oversold: 30})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStochastic(t *testing.T) {
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	st, err := NewStochastic(StochasticConfig{KPeriod: 3, DPeriod: 2, Overbought: 80, Oversold: 20})
	require.NoError(t, err)
	res := runClose(t, st, barsFromCloses(t, closes))
	k := res.PrimaryValues()
	assertClose(t, "%K bar 0", k[0], 50, 1e-9)
	for i := 2; i < len(k); i++ {
		assertClose(t, fmt.Sprintf("%%K bar %d", i), k[i], 250.0/3, 1e-9)
	}
	_, err = st.Evaluate(Input{Series: series.Computed{Name: "x", Values: closes}})
	assert.ErrorIs(t, err, ErrMissingBars)
}

func TestMACD(t *testing.T) {
	flat := make([]float64, 50)
	for i := range flat {
		flat[i] = 100
	}
	macd, err := NewMACD(DefaultMACDConfig())
	require.NoError(t, err)
	res := runClose(t, macd, barsFromCloses(t, flat))
	assert.Equal(t, []string{"macd", "signal", "histogram"}, res.Names())
	for i := range flat {
		assertClose(t, "flat macd", res.PrimaryValues()[i], 0, 1e-12)
	}
	assert.Equal(t, 50, res.SignalCounts()[signal.Neutral])

	bars := randomBars(t, 120, 5)
	res = runClose(t, macd, bars)
	fast, _ := NewEMA(PeriodConfig{Period: 12})
	slow, _ := NewEMA(PeriodConfig{Period: 26})
	fv := runClose(t, fast, bars).PrimaryValues()
	sv := runClose(t, slow, bars).PrimaryValues()
	hist := output(t, res, "histogram")
	line := output(t, res, "signal")
	for i := range fv {
		assertClose(t, "macd line", res.PrimaryValues()[i], fv[i]-sv[i], 1e-12)
		assertClose(t, "histogram", hist[i], res.PrimaryValues()[i]-line[i], 1e-12)
	}

	_, err = NewMACD(MACDConfig{FastPeriod: 26, SlowPeriod: 12, SignalPeriod: 9})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// ────────────────────────────────────────────────────────────
// Bands and channels
// ────────────────────────────────────────────────────────────

func TestBollingerBands(t *testing.T) {
	closes := []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 90}
	bb, err := NewBollingerBands(BollingerConfig{Period: 5, Width: 1, FastPeriod: 3, SlowPeriod: 8})
	require.NoError(t, err)
	res := runClose(t, bb, barsFromCloses(t, closes))

	upper, lower := output(t, res, "upper"), output(t, res, "lower")
	assertClose(t, "upper collapses", upper[5], 100, 1e-9)
	assertClose(t, "lower collapses", lower[5], 100, 1e-9)
	assert.Equal(t, signal.Neutral, res.Signals[5])

	// Window [100,100,100,100,90]: mean 98, population sd 4.
	assertClose(t, "middle", res.PrimaryValues()[10], 98, 1e-9)
	assertClose(t, "upper", upper[10], 102, 1e-9)
	assertClose(t, "lower", lower[10], 94, 1e-9)
	assert.Equal(t, signal.Buy, res.Signals[10])

	_, err = NewBollingerBands(BollingerConfig{Period: 5, Width: 0, FastPeriod: 3, SlowPeriod: 8})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDonchian_Breakout(t *testing.T) {
	closes := []float64{10, 11, 12, 13, 12, 8}
	d, err := NewDonchian(PeriodConfig{Period: 3})
	require.NoError(t, err)
	res := runClose(t, d, barsFromCloses(t, closes))

	upper, lower := output(t, res, "upper"), output(t, res, "lower")
	assert.Equal(t, 10.5, upper[0])
	assert.Equal(t, 9.5, lower[0])
	// bar 3 channel is built from bars 0..2 only.
	assert.Equal(t, 12.5, upper[3])
	assert.Equal(t, 9.5, lower[3])
	assert.Equal(t, []signal.Signal{signal.Neutral, signal.Buy, signal.Buy, signal.Buy, signal.Neutral, signal.Sell}, res.Signals)
}

// ────────────────────────────────────────────────────────────
// Volatility
// ────────────────────────────────────────────────────────────

func TestATR(t *testing.T) {
	n := 6
	closes := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	for i := range closes {
		closes[i], high[i], low[i] = 100, 101, 99
	}
	bars, err := model.NewBarSeries(closes, high, low, closes, nil)
	require.NoError(t, err)

	atr, err := NewATR(DefaultATRConfig())
	require.NoError(t, err)
	res := runClose(t, atr, bars)
	for i := 0; i < n; i++ {
		assertClose(t, "atr", res.PrimaryValues()[i], 2, 1e-12)
		assertClose(t, "natr", output(t, res, "natr")[i], 2, 1e-12)
	}

	rising := barsFromCloses(t, []float64{100, 101, 102, 103})
	loud, _ := NewATR(ATRConfig{Period: 3, Threshold: 0})
	assert.Equal(t, []signal.Signal{signal.Neutral, signal.Buy, signal.Buy, signal.Buy}, runClose(t, loud, rising).Signals)
	muted, _ := NewATR(ATRConfig{Period: 3, Threshold: 50})
	assert.Equal(t, 4, runClose(t, muted, rising).SignalCounts()[signal.Neutral])

	_, err = NewATR(ATRConfig{Period: 3, Threshold: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestHistoricalVolatility(t *testing.T) {
	hv, err := NewHistoricalVolatility(DefaultHistoricalVolatilityConfig())
	require.NoError(t, err)

	flat := runClose(t, hv, barsFromCloses(t, []float64{50, 50, 50, 50}))
	assert.Equal(t, []float64{0, 0, 0, 0}, flat.PrimaryValues())
	assert.Equal(t, 4, flat.SignalCounts()[signal.Neutral])

	// Alternating ±log(2) returns: population sd of {0, ln2, -ln2} etc.
	res := runClose(t, hv, barsFromCloses(t, []float64{1, 2, 1, 2, 1}))
	ret := output(t, res, "log_return")
	assertClose(t, "return 1", ret[1], math.Ln2, 1e-12)
	assertClose(t, "return 2", ret[2], -math.Ln2, 1e-12)
	assert.Greater(t, res.PrimaryValues()[4], 0.1)
	assert.Equal(t, signal.Sell, res.Signals[4])
}

func TestHistoricalVolatility_NonPositivePrice(t *testing.T) {
	hv, _ := NewHistoricalVolatility(DefaultHistoricalVolatilityConfig())
	in := Input{Series: series.Computed{Name: "x", Values: []float64{1, 0, -2, 3}}}
	res, err := hv.Evaluate(in)
	require.NoError(t, err)
	for _, v := range output(t, res, "log_return") {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
}

// ────────────────────────────────────────────────────────────
// Trend strength
// ────────────────────────────────────────────────────────────

func TestElderRay_RisingPowers(t *testing.T) {
	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = 100 + 2*float64(i)
	}
	er, err := NewElderRay(PeriodConfig{Period: 5})
	require.NoError(t, err)
	res := runClose(t, er, barsFromCloses(t, closes))
	assert.Equal(t, signal.Neutral, res.Signals[0])
	for i := 1; i < len(closes); i++ {
		assert.Equal(t, signal.Buy, res.Signals[i], "bar %d", i)
	}
	assert.Equal(t, []string{"bull", "bear", "ema"}, res.Names())
}

func TestRelativeStrength(t *testing.T) {
	bars := randomBars(t, 30, 9)
	rs, err := NewRelativeStrength(DefaultRelativeStrengthConfig())
	require.NoError(t, err)

	_, err = rs.Evaluate(PriceInput(bars, model.Close))
	assert.ErrorIs(t, err, ErrMissingBenchmark)

	short, _ := bars.Slice(0, 10)
	in := PriceInput(bars, model.Close)
	in.Benchmark = short
	_, err = rs.Evaluate(in)
	assert.ErrorIs(t, err, model.ErrLengthMismatch)

	in.Benchmark = bars
	res, err := rs.Evaluate(in)
	require.NoError(t, err)
	for i := range res.PrimaryValues() {
		assert.Equal(t, 1.0, res.PrimaryValues()[i])
		assert.Equal(t, signal.Buy, res.Signals[i], "flat ratio leans bullish")
	}
}

// ────────────────────────────────────────────────────────────
// Properties across the whole catalog
// ────────────────────────────────────────────────────────────

func catalogInput(bars, bench *model.BarSeries) Input {
	in := PriceInput(bars, model.Close)
	in.Benchmark = bench
	return in
}

func TestCatalog_LengthInvariant(t *testing.T) {
	bars := randomBars(t, 90, 1)
	bench := randomBars(t, 90, 2)
	empty, err := model.NewBarSeries(nil, nil, nil, nil, nil)
	require.NoError(t, err)

	for _, typ := range Types() {
		ind, err := New(typ, 0)
		require.NoError(t, err, typ)

		res, err := ind.Evaluate(catalogInput(bars, bench))
		require.NoError(t, err, typ)
		assert.Equal(t, 90, res.Len(), typ)
		for _, o := range res.Outputs {
			assert.Len(t, o.Values, 90, "%s/%s", typ, o.Name)
			for i, v := range o.Values {
				require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s/%s[%d]", typ, o.Name, i)
			}
		}

		res, err = ind.Evaluate(catalogInput(empty, empty))
		require.NoError(t, err, typ)
		assert.Equal(t, 0, res.Len(), typ)
	}
}

func TestCatalog_Causality(t *testing.T) {
	bars := randomBars(t, 120, 3)
	bench := randomBars(t, 120, 4)
	const k = 70
	barsPrefix, _ := bars.Slice(0, k)
	benchPrefix, _ := bench.Slice(0, k)

	for _, typ := range Types() {
		ind, _ := New(typ, 0)
		full, err := ind.Evaluate(catalogInput(bars, bench))
		require.NoError(t, err, typ)
		prefix, err := ind.Evaluate(catalogInput(barsPrefix, benchPrefix))
		require.NoError(t, err, typ)

		for _, o := range prefix.Outputs {
			fv, ok := full.Output(o.Name)
			require.True(t, ok)
			assert.Equal(t, o.Values, fv[:k], "%s/%s", typ, o.Name)
		}
		assert.Equal(t, prefix.Signals, full.Signals[:k], typ)
	}
}

func TestCatalog_Determinism(t *testing.T) {
	bars := randomBars(t, 60, 8)
	for _, typ := range Types() {
		ind, _ := New(typ, 0)
		a, err := ind.Evaluate(catalogInput(bars, bars))
		require.NoError(t, err)
		b, err := ind.Evaluate(catalogInput(bars, bars))
		require.NoError(t, err)
		assert.Equal(t, a.Outputs, b.Outputs, typ)
		assert.Equal(t, a.Signals, b.Signals, typ)
	}
}

func TestInput_LengthMismatch(t *testing.T) {
	bars := barsFromCloses(t, []float64{1, 2, 3})
	sma, _ := NewSMA(DefaultSMAConfig())
	_, err := sma.Evaluate(Input{Series: series.Computed{Name: "x", Values: []float64{1, 2}}, Bars: bars})
	assert.ErrorIs(t, err, model.ErrLengthMismatch)

	_, err = Run(sma, nil, model.Close)
	assert.ErrorIs(t, err, ErrMissingBars)
}
