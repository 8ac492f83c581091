package indicator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"taengine/internal/rolling"
)

// Options are catalog-wide knobs applied when building from text.
type Options struct {
	// Policy is the warm-up policy of window-based formulas (SMA, BB).
	Policy rolling.Policy
	// VolatilityThreshold overrides the ATR and HV threshold when > 0.
	VolatilityThreshold float64
}

type factory func(period int, opts Options) (Indicator, error)

// registry maps a TYPE name to its constructor. period 0 keeps the default.
var registry = map[string]factory{
	"SMA": func(p int, o Options) (Indicator, error) {
		cfg := DefaultSMAConfig()
		cfg.Policy = o.Policy
		setPeriod(&cfg.Period, p)
		return NewSMA(cfg)
	},
	"EMA":  periodFactory(9, func(c PeriodConfig) (Indicator, error) { return NewEMA(c) }),
	"SMMA": periodFactory(14, func(c PeriodConfig) (Indicator, error) { return NewSMMA(c) }),
	"DEMA": periodFactory(20, func(c PeriodConfig) (Indicator, error) { return NewDEMA(c) }),
	"TEMA": periodFactory(20, func(c PeriodConfig) (Indicator, error) { return NewTEMA(c) }),
	"KAMA": func(p int, _ Options) (Indicator, error) {
		cfg := DefaultKAMAConfig()
		setPeriod(&cfg.Period, p)
		return NewKAMA(cfg)
	},
	"SUPERSMOOTHER": periodFactory(10, func(c PeriodConfig) (Indicator, error) { return NewSuperSmoother(c) }),
	"HIGHPASS":      periodFactory(48, func(c PeriodConfig) (Indicator, error) { return NewHighPass(c) }),
	"RSI": func(p int, _ Options) (Indicator, error) {
		cfg := DefaultRSIConfig()
		setPeriod(&cfg.Period, p)
		return NewRSI(cfg)
	},
	"STOCH": func(p int, _ Options) (Indicator, error) {
		cfg := DefaultStochasticConfig()
		setPeriod(&cfg.KPeriod, p)
		return NewStochastic(cfg)
	},
	"MACD": func(p int, _ Options) (Indicator, error) {
		cfg := DefaultMACDConfig()
		setPeriod(&cfg.FastPeriod, p)
		return NewMACD(cfg)
	},
	"BB": func(p int, o Options) (Indicator, error) {
		cfg := DefaultBollingerConfig()
		cfg.Policy = o.Policy
		setPeriod(&cfg.Period, p)
		return NewBollingerBands(cfg)
	},
	"ATR": func(p int, o Options) (Indicator, error) {
		cfg := DefaultATRConfig()
		setPeriod(&cfg.Period, p)
		if o.VolatilityThreshold > 0 {
			cfg.Threshold = o.VolatilityThreshold
		}
		return NewATR(cfg)
	},
	"HV": func(p int, o Options) (Indicator, error) {
		cfg := DefaultHistoricalVolatilityConfig()
		setPeriod(&cfg.Period, p)
		if o.VolatilityThreshold > 0 {
			cfg.Threshold = o.VolatilityThreshold
		}
		return NewHistoricalVolatility(cfg)
	},
	"ELDERRAY": periodFactory(13, func(c PeriodConfig) (Indicator, error) { return NewElderRay(c) }),
	"DONCHIAN": periodFactory(20, func(c PeriodConfig) (Indicator, error) { return NewDonchian(c) }),
	"RS": func(p int, _ Options) (Indicator, error) {
		cfg := DefaultRelativeStrengthConfig()
		setPeriod(&cfg.Period, p)
		return NewRelativeStrength(cfg)
	},
}

var aliases = map[string]string{
	"RMA":        "SMMA",
	"SSF":        "SUPERSMOOTHER",
	"HP":         "HIGHPASS",
	"BOLLINGER":  "BB",
	"STOCHASTIC": "STOCH",
}

func periodFactory(def int, build func(PeriodConfig) (Indicator, error)) factory {
	return func(p int, _ Options) (Indicator, error) {
		cfg := PeriodConfig{Period: def}
		setPeriod(&cfg.Period, p)
		return build(cfg)
	}
}

func setPeriod(dst *int, p int) {
	if p != 0 {
		*dst = p
	}
}

// Types lists the registered type names.
func Types() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New builds a catalog indicator with default settings and the given
// period. A zero period keeps the type's default.
func New(typ string, period int) (Indicator, error) {
	return NewWithOptions(typ, period, Options{})
}

// NewWithOptions is New with catalog-wide options.
func NewWithOptions(typ string, period int, opts Options) (Indicator, error) {
	key := strings.ToUpper(strings.TrimSpace(typ))
	if a, ok := aliases[key]; ok {
		key = a
	}
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if period < 0 {
		return nil, fmt.Errorf("%w: %s period must be positive, got %d", ErrInvalidConfig, key, period)
	}
	return f(period, opts)
}

// Parse builds an indicator from "TYPE:PERIOD" or "TYPE".
// Example: "EMA:9", "RSI:14", "MACD".
func Parse(spec string) (Indicator, error) {
	return ParseWithOptions(spec, Options{})
}

// ParseWithOptions is Parse with catalog-wide options.
func ParseWithOptions(spec string, opts Options) (Indicator, error) {
	spec = strings.TrimSpace(spec)
	tokens := strings.SplitN(spec, ":", 2)
	period := 0
	if len(tokens) == 2 {
		p, err := strconv.Atoi(strings.TrimSpace(tokens[1]))
		if err != nil || p <= 0 {
			return nil, fmt.Errorf("%w: bad period in %q", ErrInvalidConfig, spec)
		}
		period = p
	}
	return NewWithOptions(tokens[0], period, opts)
}

// PlanEntry is one named node of an evaluation plan. Source is either
// empty (the default price view), an input selector name or another entry's
// name.
type PlanEntry struct {
	Name      string
	Spec      string
	Source    string
	Indicator Indicator
}

// ParsePlan parses "name=TYPE:PERIOD[<-source],...".
// Example: "fast=EMA:9,slow=SMA:5<-fast,rsi=RSI:14<-typical".
// The name may be omitted, in which case the lower-cased indicator name is
// used.
func ParsePlan(text string, opts Options) ([]PlanEntry, error) {
	var plan []PlanEntry
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		entry := PlanEntry{}
		rest := part
		if i := strings.Index(rest, "<-"); i >= 0 {
			entry.Source = strings.TrimSpace(rest[i+2:])
			rest = rest[:i]
			if entry.Source == "" {
				return nil, fmt.Errorf("%w: empty source in %q", ErrInvalidConfig, part)
			}
		}
		if i := strings.Index(rest, "="); i >= 0 {
			entry.Name = strings.TrimSpace(rest[:i])
			rest = rest[i+1:]
			if entry.Name == "" {
				return nil, fmt.Errorf("%w: empty name in %q", ErrInvalidConfig, part)
			}
		}
		entry.Spec = strings.TrimSpace(rest)
		ind, err := ParseWithOptions(entry.Spec, opts)
		if err != nil {
			return nil, fmt.Errorf("plan entry %q: %w", part, err)
		}
		entry.Indicator = ind
		if entry.Name == "" {
			entry.Name = strings.ToLower(ind.Name())
		}
		plan = append(plan, entry)
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: empty plan", ErrInvalidConfig)
	}
	return plan, nil
}
