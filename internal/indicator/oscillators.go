package indicator

import (
	"fmt"
	"strconv"

	"taengine/internal/filter"
	"taengine/internal/numeric"
	"taengine/internal/rolling"
	"taengine/internal/series"
	"taengine/internal/signal"
)

// ── RSI ─────────────────────────────────────────────────────────────

// RSIConfig configures the relative strength index and its signal line.
type RSIConfig struct {
	Period       int
	SignalPeriod int
	Overbought   float64
	Oversold     float64
}

func DefaultRSIConfig() RSIConfig {
	return RSIConfig{Period: 14, SignalPeriod: 9, Overbought: 70, Oversold: 30}
}

func (c RSIConfig) Validate() error {
	if err := validatePeriod("RSI", "period", c.Period); err != nil {
		return err
	}
	if err := validatePeriod("RSI", "signal period", c.SignalPeriod); err != nil {
		return err
	}
	return validateLevels("RSI", c.Overbought, c.Oversold)
}

func validateLevels(kind string, overbought, oversold float64) error {
	if !(oversold >= 0 && oversold < overbought && overbought <= 100) {
		return fmt.Errorf("%w: %s levels must satisfy 0 <= oversold < overbought <= 100, got %v/%v",
			ErrInvalidConfig, kind, oversold, overbought)
	}
	return nil
}

// RSI uses Wilder smoothing of gains and losses. A bar with no average loss
// reads 100 when there were gains and 50 when the input was flat.
type RSI struct{ cfg RSIConfig }

func NewRSI(cfg RSIConfig) (*RSI, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RSI{cfg: cfg}, nil
}

func (r *RSI) Name() string { return "RSI_" + strconv.Itoa(r.cfg.Period) }

func (r *RSI) Evaluate(in Input) (*series.Result, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	n := in.Len()
	deltas := signal.Deltas(in.Series.Values)
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i, d := range deltas {
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}

	wilder, err := filter.NewWilder(r.cfg.Period)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	avgGain := filter.Apply(wilder, gains)
	avgLoss := filter.Apply(wilder, losses)

	rsi := make([]float64, n)
	for i := range rsi {
		switch {
		case avgLoss[i] == 0 && avgGain[i] == 0:
			rsi[i] = 50
		case avgLoss[i] == 0:
			rsi[i] = 100
		default:
			rsi[i] = 100 - 100/(1+numeric.SafeDiv(avgGain[i], avgLoss[i]))
		}
	}

	ema, err := filter.NewEMA(r.cfg.SignalPeriod)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	line := filter.Apply(ema, rsi)

	return series.NewAggregator(n).
		Add("rsi", rsi).
		Add("signal", line).
		SetPrimary("rsi").
		SetSignals(oscillatorSignals(rsi, line, r.cfg.Overbought, r.cfg.Oversold)).
		Build()
}

// oscillatorSignals classifies a bounded oscillator and its smoothing line.
func oscillatorSignals(value, line []float64, overbought, oversold float64) []signal.Signal {
	dv := signal.Deltas(value)
	dl := signal.Deltas(line)
	out := make([]signal.Signal, len(value))
	for i := range value {
		out[i] = signal.RSI(dv[i], dl[i], value[i], prev(value, i), overbought, oversold)
	}
	return out
}

// ── Stochastic ──────────────────────────────────────────────────────

// StochasticConfig configures the %K/%D oscillator.
type StochasticConfig struct {
	KPeriod    int
	DPeriod    int
	Overbought float64
	Oversold   float64
}

func DefaultStochasticConfig() StochasticConfig {
	return StochasticConfig{KPeriod: 14, DPeriod: 3, Overbought: 80, Oversold: 20}
}

func (c StochasticConfig) Validate() error {
	if err := validatePeriod("Stochastic", "K period", c.KPeriod); err != nil {
		return err
	}
	if err := validatePeriod("Stochastic", "D period", c.DPeriod); err != nil {
		return err
	}
	return validateLevels("Stochastic", c.Overbought, c.Oversold)
}

// Stochastic locates the input inside the trailing high/low range of the
// bars. A flat range reads 0.
type Stochastic struct{ cfg StochasticConfig }

func NewStochastic(cfg StochasticConfig) (*Stochastic, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Stochastic{cfg: cfg}, nil
}

func (s *Stochastic) Name() string {
	return "STOCH_" + strconv.Itoa(s.cfg.KPeriod) + "_" + strconv.Itoa(s.cfg.DPeriod)
}

func (s *Stochastic) Evaluate(in Input) (*series.Result, error) {
	if err := in.requireBars(); err != nil {
		return nil, err
	}
	win := rolling.Partial(s.cfg.KPeriod)
	hh, err := rolling.Max(in.Bars.High(), win)
	if err != nil {
		return nil, err
	}
	ll, err := rolling.Min(in.Bars.Low(), win)
	if err != nil {
		return nil, err
	}
	x := in.Series.Values
	k := make([]float64, len(x))
	for i := range x {
		k[i] = 100 * numeric.SafeDiv(x[i]-ll[i], hh[i]-ll[i])
	}
	d, err := rolling.Average(k, rolling.Partial(s.cfg.DPeriod))
	if err != nil {
		return nil, err
	}

	return series.NewAggregator(len(x)).
		Add("k", k).
		Add("d", d).
		SetPrimary("k").
		SetSignals(oscillatorSignals(k, d, s.cfg.Overbought, s.cfg.Oversold)).
		Build()
}

// ── MACD ────────────────────────────────────────────────────────────

// MACDConfig configures the moving average convergence/divergence.
type MACDConfig struct {
	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int
}

func DefaultMACDConfig() MACDConfig { return MACDConfig{FastPeriod: 12, SlowPeriod: 26, SignalPeriod: 9} }

func (c MACDConfig) Validate() error {
	if err := validatePeriod("MACD", "fast period", c.FastPeriod); err != nil {
		return err
	}
	if err := validatePeriod("MACD", "slow period", c.SlowPeriod); err != nil {
		return err
	}
	if err := validatePeriod("MACD", "signal period", c.SignalPeriod); err != nil {
		return err
	}
	if c.FastPeriod >= c.SlowPeriod {
		return fmt.Errorf("%w: MACD fast period %d must be below slow period %d", ErrInvalidConfig, c.FastPeriod, c.SlowPeriod)
	}
	return nil
}

// MACD is composed from three EMA evaluations: fast and slow on the input,
// then the signal line on their difference. Each stage receives its input
// explicitly.
type MACD struct {
	cfg              MACDConfig
	fast, slow, line *EMA
}

func NewMACD(cfg MACDConfig) (*MACD, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &MACD{cfg: cfg}
	var err error
	if m.fast, err = NewEMA(PeriodConfig{Period: cfg.FastPeriod}); err != nil {
		return nil, err
	}
	if m.slow, err = NewEMA(PeriodConfig{Period: cfg.SlowPeriod}); err != nil {
		return nil, err
	}
	if m.line, err = NewEMA(PeriodConfig{Period: cfg.SignalPeriod}); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MACD) Name() string {
	return fmt.Sprintf("MACD_%d_%d_%d", m.cfg.FastPeriod, m.cfg.SlowPeriod, m.cfg.SignalPeriod)
}

func (m *MACD) Evaluate(in Input) (*series.Result, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	fast, err := m.fast.Evaluate(in)
	if err != nil {
		return nil, err
	}
	slow, err := m.slow.Evaluate(in)
	if err != nil {
		return nil, err
	}
	n := in.Len()
	macd := make([]float64, n)
	fv, sv := fast.PrimaryValues(), slow.PrimaryValues()
	for i := range macd {
		macd[i] = fv[i] - sv[i]
	}
	lineRes, err := m.line.Evaluate(Input{Series: series.Computed{Name: "macd", Values: macd}, Bars: in.Bars})
	if err != nil {
		return nil, err
	}
	line := lineRes.PrimaryValues()
	hist := make([]float64, n)
	for i := range hist {
		hist[i] = macd[i] - line[i]
	}

	dh := signal.Deltas(hist)
	sigs := make([]signal.Signal, n)
	for i := range sigs {
		sigs[i] = signal.Compare(dh[i], prev(dh, i), false)
	}

	return series.NewAggregator(n).
		Add("macd", macd).
		Add("signal", line).
		Add("histogram", hist).
		SetPrimary("macd").
		SetSignals(sigs).
		Build()
}
