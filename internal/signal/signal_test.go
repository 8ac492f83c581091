package signal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	assert.Equal(t, Buy, Compare(5, -3, false))
	assert.Equal(t, Sell, Compare(-1, 2, false))
	assert.Equal(t, Neutral, Compare(0, 0, false))
	assert.Equal(t, Buy, Compare(0, 0, true))
	assert.Equal(t, Sell, Compare(-1, 0, true), "bias only breaks ties")
}

func TestZeroValueIsNeutral(t *testing.T) {
	var s Signal
	assert.Equal(t, Neutral, s)
	assert.Equal(t, "NEUTRAL", s.String())
}

func TestRSI(t *testing.T) {
	tests := []struct {
		name                  string
		fast, slow, val, prev float64
		want                  Signal
	}{
		{"leaves overbought falling", -1, -1, 69, 72, Sell},
		{"leaves overbought, slow rising", -1, 1, 69, 72, Sell},
		{"leaves oversold rising", 1, 1, 31, 28, Buy},
		{"prev exactly at oversold", 1, 1, 31, 30, Buy},
		{"stays inside band", 2, -1, 50, 48, Buy},
		{"flat inside band", 0, 0, 50, 50, Neutral},
		{"still overbought", -1, -1, 75, 80, Sell},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RSI(tc.fast, tc.slow, tc.val, tc.prev, 70, 30))
		})
	}
}

func TestRSI_ExitRequiresBothDeltas(t *testing.T) {
	// Crossing back above oversold with a falling slow line is not the
	// reversal rule; Compare on the fast delta decides.
	assert.Equal(t, Buy, RSI(1, -1, 31, 28, 70, 30))
	assert.Equal(t, Sell, RSI(-1, 1, 31, 28, 70, 30))
}

func TestBullishBearish(t *testing.T) {
	assert.Equal(t, Buy, BullishBearish(2, 1, -1, -2))
	assert.Equal(t, Sell, BullishBearish(1, 2, -2, -1))
	assert.Equal(t, Neutral, BullishBearish(2, 1, -2, -1))
	assert.Equal(t, Neutral, BullishBearish(1, 1, 1, 1))
}

func TestVolatility(t *testing.T) {
	assert.Equal(t, Neutral, Volatility(5, 0, 0.5, 1))
	assert.Equal(t, Buy, Volatility(5, 0, 1, 1))
	assert.Equal(t, Sell, Volatility(-5, 0, 2, 1))
	assert.Equal(t, Neutral, Volatility(0, 0, 2, 1))
}

func TestCondition_BuyFirst(t *testing.T) {
	assert.Equal(t, Buy, Condition(true, true))
	assert.Equal(t, Buy, Condition(true, false))
	assert.Equal(t, Sell, Condition(false, true))
	assert.Equal(t, Neutral, Condition(false, false))
}

func TestBollingerBands(t *testing.T) {
	base := BandsInput{Upper: 110, Middle: 100, Lower: 90, Fast: 1, Slow: 1, PrevFast: 1, PrevSlow: 1}

	below := base
	below.Price = 85
	assert.Equal(t, Buy, BollingerBands(below))

	above := base
	above.Price = 115
	assert.Equal(t, Sell, BollingerBands(above))

	crossUp := base
	crossUp.Price = 95
	crossUp.PrevFast, crossUp.PrevSlow, crossUp.Fast, crossUp.Slow = 9, 10, 11, 10
	assert.Equal(t, Buy, BollingerBands(crossUp))

	crossUpAboveMiddle := crossUp
	crossUpAboveMiddle.Price = 105
	assert.Equal(t, Neutral, BollingerBands(crossUpAboveMiddle))

	crossDown := base
	crossDown.Price = 105
	crossDown.PrevFast, crossDown.PrevSlow, crossDown.Fast, crossDown.Slow = 11, 10, 9, 10
	assert.Equal(t, Sell, BollingerBands(crossDown))

	inside := base
	inside.Price = 100
	assert.Equal(t, Neutral, BollingerBands(inside))
}

func TestDeltas(t *testing.T) {
	assert.Equal(t, []float64{0, 1, -2, 3}, Deltas([]float64{5, 6, 4, 7}))
	assert.Empty(t, Deltas(nil))
}

func TestSeries_EndToEnd(t *testing.T) {
	sma := []float64{10, 10.5, 10, 10.5, 10}
	assert.Equal(t, []Signal{Neutral, Buy, Sell, Buy, Sell}, Series(sma, false))
	assert.Equal(t, Buy, Series(sma, true)[0])
}

func TestText(t *testing.T) {
	b, err := json.Marshal([]Signal{Neutral, Buy, Sell})
	require.NoError(t, err)
	assert.JSONEq(t, `["NEUTRAL","BUY","SELL"]`, string(b))

	var back []Signal
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, []Signal{Neutral, Buy, Sell}, back)

	_, err = Signal(9).MarshalText()
	assert.Error(t, err)
	_, err = Parse("hold")
	assert.Error(t, err)
}
