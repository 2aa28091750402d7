package signal

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ibkr-turtle-bot-go/internal/models"
)

func newEvaluator() Evaluator {
	return Evaluator{Cfg: models.WorkerConfig{
		Symbol:              "TQQQ",
		TradeQuantity:       100,
		ExitProfitThreshold: 0.3,
		TotalCapital:        100000,
		ATRMultiple:         2,
	}}
}

// readyBar builds an indicator bar with every field defined.
func readyBar() models.IndicatorBar {
	return models.IndicatorBar{
		Bar:         models.Bar{Close: 105},
		HighestHigh: 104,
		LowestLow:   95,
		ExitHigh:    103,
		ExitLow:     98,
		ATR:         4,
		EMA:         100,
	}
}

func TestShouldEnterLong(t *testing.T) {
	e := newEvaluator()

	// Breakout above the channel and above the trend line.
	ok, err := e.ShouldEnterLong(readyBar(), 0, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// Close at the channel is not a breakout.
	bar := readyBar()
	bar.Close = bar.HighestHigh
	ok, err = e.ShouldEnterLong(bar, 0, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	// Breakout below the trend line is rejected.
	bar = readyBar()
	bar.EMA = 200
	ok, err = e.ShouldEnterLong(bar, 0, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShouldEnterLong_CapitalGate(t *testing.T) {
	e := newEvaluator()
	bar := readyBar()

	// Without an existing position the gate is skipped.
	ok, err := e.ShouldEnterLong(bar, 0, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// Existing exposure plus the new lot fits inside total capital.
	ok, err = e.ShouldEnterLong(bar, 100, 100) // 10000 + 10500 < 100000
	require.NoError(t, err)
	assert.True(t, ok)

	// Adding would exceed total capital.
	ok, err = e.ShouldEnterLong(bar, 100, 950) // 95000 + 10500 > 100000
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShouldEnterLong_MissingIndicator(t *testing.T) {
	e := newEvaluator()
	bar := readyBar()
	bar.HighestHigh = math.NaN()
	_, err := e.ShouldEnterLong(bar, 0, 0)
	assert.ErrorIs(t, err, ErrMissingIndicator)

	bar = readyBar()
	bar.EMA = math.NaN()
	_, err = e.ShouldEnterLong(bar, 0, 0)
	assert.ErrorIs(t, err, ErrMissingIndicator)
}

func TestShouldExitLong(t *testing.T) {
	e := newEvaluator()

	// No exit condition met.
	bar := readyBar()
	ok, err := e.ShouldExitLong(bar, 104, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	// Below the exit channel.
	bar = readyBar()
	bar.Close = 97
	bar.EMA = 90
	ok, err = e.ShouldExitLong(bar, 104, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	// Below the trend line.
	bar = readyBar()
	bar.EMA = 200
	ok, err = e.ShouldExitLong(bar, 104, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	// Profit target alone triggers an exit even in a healthy trend.
	bar = readyBar()
	ok, err = e.ShouldExitLong(bar, 80, nil) // (105-80)/80 = 31.25% > 30%
	require.NoError(t, err)
	assert.True(t, ok)

	// No position means no exit.
	ok, err = e.ShouldExitLong(readyBar(), 0, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShouldExitLong_ATRDrawdown(t *testing.T) {
	e := newEvaluator()
	entry := 115.0

	// Drop from the recorded entry exceeds ATRMultiple * ATR: 115-105=10 > 2*4.
	ok, err := e.ShouldExitLong(readyBar(), 110, &entry)
	require.NoError(t, err)
	assert.True(t, ok)

	// Drop within the ATR band does not trigger.
	nearEntry := 110.0 // 110-105=5 < 8
	ok, err = e.ShouldExitLong(readyBar(), 110, &nearEntry)
	require.NoError(t, err)
	assert.False(t, ok)

	// Without a recorded entry the ATR clause is skipped entirely.
	ok, err = e.ShouldExitLong(readyBar(), 110, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	// ATR still warming up skips the clause rather than erroring.
	bar := readyBar()
	bar.ATR = math.NaN()
	ok, err = e.ShouldExitLong(bar, 110, &entry)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShouldEnterShort(t *testing.T) {
	e := newEvaluator()

	bar := readyBar()
	bar.Close = 94
	bar.EMA = 100
	ok, err := e.ShouldEnterShort(bar)
	require.NoError(t, err)
	assert.True(t, ok)

	// Breakdown above the trend line is rejected.
	bar.EMA = 90
	ok, err = e.ShouldEnterShort(bar)
	require.NoError(t, err)
	assert.False(t, ok)

	bar = readyBar()
	bar.LowestLow = math.NaN()
	_, err = e.ShouldEnterShort(bar)
	assert.ErrorIs(t, err, ErrMissingIndicator)
}

func TestShouldExitShort(t *testing.T) {
	e := newEvaluator()

	// Above the exit channel and trend line.
	ok, err := e.ShouldExitShort(readyBar(), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	// Neither condition met.
	bar := readyBar()
	bar.Close = 99
	bar.EMA = 100
	bar.ExitHigh = 103
	ok, err = e.ShouldExitShort(bar, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	// Rebound from the recorded entry exceeds the ATR band: 99-90=9 > 2*4.
	entry := 90.0
	ok, err = e.ShouldExitShort(bar, &entry)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEntrySignalsMutuallyExclusive(t *testing.T) {
	// A single bar can never satisfy both entries: long needs close above
	// the trend line, short needs close below it.
	e := newEvaluator()
	for _, close := range []float64{90, 100, 105, 120} {
		bar := readyBar()
		bar.Close = close
		long, err := e.ShouldEnterLong(bar, 0, 0)
		require.NoError(t, err)
		short, err := e.ShouldEnterShort(bar)
		require.NoError(t, err)
		assert.False(t, long && short, "close=%v", close)
	}
}

func TestInCooldown(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	// Strictly inside the window.
	assert.True(t, InCooldown(now.Add(-24*time.Hour*3+time.Second), now, 3))

	// Exactly at the boundary the cooldown has elapsed.
	assert.False(t, InCooldown(now.Add(-24*time.Hour*3), now, 3))

	// Well past the window.
	assert.False(t, InCooldown(now.Add(-24*time.Hour*10), now, 3))
}
