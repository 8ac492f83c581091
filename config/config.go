package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"taengine/internal/indicator"
	"taengine/internal/model"
	"taengine/internal/rolling"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string // empty disables publishing
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	HTTPAddr      string
	LogLevel      string

	// Evaluation
	IndicatorPlan       string // "name=TYPE:PERIOD[<-source],..."
	InputField          string // default price view of plan nodes
	WindowPolicy        string // "partial" or "zero_fill"
	VolatilityThreshold float64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/bars.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		IndicatorPlan:       getEnv("INDICATOR_PLAN", "sma=SMA:20,ema=EMA:9,rsi=RSI:14,macd=MACD"),
		InputField:          getEnv("INPUT_FIELD", "close"),
		WindowPolicy:        getEnv("WINDOW_POLICY", "partial"),
		VolatilityThreshold: getEnvFloat("VOLATILITY_THRESHOLD", 0),
	}
}

// Selector parses InputField.
func (c *Config) Selector() (model.InputSelector, error) {
	return model.ParseInputSelector(c.InputField)
}

// IndicatorOptions turns the evaluation knobs into catalog options.
func (c *Config) IndicatorOptions() (indicator.Options, error) {
	policy, err := rolling.ParsePolicy(c.WindowPolicy)
	if err != nil {
		return indicator.Options{}, err
	}
	if c.VolatilityThreshold < 0 {
		return indicator.Options{}, fmt.Errorf("config: negative volatility threshold %v", c.VolatilityThreshold)
	}
	return indicator.Options{Policy: policy, VolatilityThreshold: c.VolatilityThreshold}, nil
}

// Plan parses IndicatorPlan with the configured options.
func (c *Config) Plan() ([]indicator.PlanEntry, error) {
	opts, err := c.IndicatorOptions()
	if err != nil {
		return nil, err
	}
	return indicator.ParsePlan(c.IndicatorPlan, opts)
}

// PlanSpecs splits IndicatorPlan into its trimmed, non-empty entries.
func (c *Config) PlanSpecs() []string {
	parts := strings.Split(c.IndicatorPlan, ",")
	specs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		specs = append(specs, p)
	}
	return specs
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}
