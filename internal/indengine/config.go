package indengine

import (
	"fmt"

	"taengine/config"
	"taengine/internal/indicator"
	"taengine/internal/model"
)

// Config holds the evaluation defaults of the service. Request fields left
// empty fall back to these.
type Config struct {
	Plan        string
	Input       model.InputSelector
	Options     indicator.Options
	Parallelism int // per-level node concurrency, 0 = GOMAXPROCS
	MaxBars     int // 0 = unlimited

	GraphCacheSize int // 0 = DefaultGraphCacheSize
}

// ConfigFrom validates the environment configuration and converts it.
func ConfigFrom(cfg *config.Config) (Config, error) {
	sel, err := cfg.Selector()
	if err != nil {
		return Config{}, fmt.Errorf("INPUT_FIELD: %w", err)
	}
	opts, err := cfg.IndicatorOptions()
	if err != nil {
		return Config{}, err
	}
	// fail fast on a bad default plan
	if _, err := indicator.ParsePlan(cfg.IndicatorPlan, opts); err != nil {
		return Config{}, fmt.Errorf("INDICATOR_PLAN: %w", err)
	}
	return Config{Plan: cfg.IndicatorPlan, Input: sel, Options: opts}, nil
}
