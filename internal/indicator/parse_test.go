package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taengine/internal/rolling"
)

func TestParse(t *testing.T) {
	tests := []struct {
		spec string
		name string
	}{
		{"EMA:9", "EMA_9"},
		{" sma : 20 ", "SMA_20"},
		{"rsi", "RSI_14"},
		{"RMA:5", "SMMA_5"},
		{"MACD", "MACD_12_26_9"},
		{"MACD:8", "MACD_8_26_9"},
		{"stochastic:5", "STOCH_5_3"},
		{"BOLLINGER:10", "BB_10"},
		{"HV:30", "HV_30"},
		{"ssf:12", "SUPERSMOOTHER_12"},
	}
	for _, tc := range tests {
		t.Run(tc.spec, func(t *testing.T) {
			ind, err := Parse(tc.spec)
			require.NoError(t, err)
			assert.Equal(t, tc.name, ind.Name())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("FOO:3")
	assert.ErrorIs(t, err, ErrUnknownType)
	_, err = Parse("EMA:x")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = Parse("EMA:0")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = Parse("MACD:30")
	assert.ErrorIs(t, err, ErrInvalidConfig, "fast period above the default slow period")
	_, err = New("EMA", -1)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParseWithOptions(t *testing.T) {
	ind, err := ParseWithOptions("SMA:3", Options{Policy: rolling.ZeroFillBeforeWindow})
	require.NoError(t, err)
	sma := ind.(*SMA)
	assert.Equal(t, rolling.ZeroFillBeforeWindow, sma.cfg.Policy)

	ind, err = ParseWithOptions("ATR:7", Options{VolatilityThreshold: 2.5})
	require.NoError(t, err)
	assert.Equal(t, 2.5, ind.(*ATR).cfg.Threshold)

	ind, err = Parse("HV")
	require.NoError(t, err)
	assert.Equal(t, DefaultHistoricalVolatilityConfig().Threshold, ind.(*HistoricalVolatility).cfg.Threshold)
}

func TestTypes(t *testing.T) {
	types := Types()
	assert.Contains(t, types, "KAMA")
	assert.Contains(t, types, "RS")
	assert.IsIncreasing(t, types)
}

func TestParsePlan(t *testing.T) {
	plan, err := ParsePlan("fast=EMA:9, slow=SMA:5<-fast ,RSI:14<-typical", Options{})
	require.NoError(t, err)
	require.Len(t, plan, 3)

	assert.Equal(t, "fast", plan[0].Name)
	assert.Equal(t, "EMA:9", plan[0].Spec)
	assert.Empty(t, plan[0].Source)

	assert.Equal(t, "slow", plan[1].Name)
	assert.Equal(t, "fast", plan[1].Source)
	assert.Equal(t, "SMA_5", plan[1].Indicator.Name())

	assert.Equal(t, "rsi_14", plan[2].Name)
	assert.Equal(t, "typical", plan[2].Source)
}

func TestParsePlan_Errors(t *testing.T) {
	for _, text := range []string{"", " , ", "a=", "=EMA:3", "a=EMA:3<-", "a=NOPE:3"} {
		_, err := ParsePlan(text, Options{})
		assert.Error(t, err, text)
	}
}
