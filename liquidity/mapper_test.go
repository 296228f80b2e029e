package liquidity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zone_recovery_go/broker"
	"zone_recovery_go/config"
)

func testMapper() *Mapper {
	return NewMapper(&config.LiquidityConfig{
		PivotLookback:       2,
		ClusterThresholdPct: 0.0005,
		ProximityPct:        0.0003,
		MinWallStrength:     2,
	})
}

func flatCandles(n int, price float64) []broker.Candle {
	out := make([]broker.Candle, n)
	for i := range out {
		out[i] = broker.Candle{Open: price, High: price, Low: price, Close: price}
	}
	return out
}

func TestFindPivotsShortSeries(t *testing.T) {
	m := testMapper()
	// Lookback 2 needs at least 5 candles.
	highs, lows := m.FindPivots(flatCandles(4, 100))
	assert.Empty(t, highs)
	assert.Empty(t, lows)
}

func TestFindPivotsDetectsSwing(t *testing.T) {
	m := testMapper()
	candles := flatCandles(7, 100)
	candles[3].High = 105 // local maximum of every window containing it
	candles[3].Low = 95

	highs, lows := m.FindPivots(candles)
	require.Len(t, highs, 1)
	require.Len(t, lows, 1)
	assert.Equal(t, 105.0, highs[0])
	assert.Equal(t, 95.0, lows[0])
}

func TestClusterMergesNearbyLevels(t *testing.T) {
	m := testMapper()
	// 2000.0 and 2000.9 are within 0.05% of each other: one wall.
	walls := m.clusterLevels([]float64{2000.0, 2000.9}, Resistance)
	require.Len(t, walls, 1)
	assert.Equal(t, 2, walls[0].Strength)
	assert.InDelta(t, 2000.45, walls[0].Price, 1e-9)
	assert.Equal(t, Resistance, walls[0].Type)
}

func TestClusterKeepsDistantLevelsApart(t *testing.T) {
	m := testMapper()
	// 0.06% apart near 2000: two separate walls.
	walls := m.clusterLevels([]float64{2000.0, 2001.2}, Support)
	require.Len(t, walls, 2)
	assert.Equal(t, 1, walls[0].Strength)
	assert.Equal(t, 1, walls[1].Strength)
}

func TestShouldAvoidEntryBuyIntoResistance(t *testing.T) {
	m := testMapper()
	lm := Map{Resistances: []Wall{{Price: 2000.4, Strength: 3, Type: Resistance}}}

	// Wall 0.4 above at 2000: within the 0.6 proximity band, strength >= 2.
	blocked, reason := m.ShouldAvoidEntry(2000.0, broker.Buy, lm)
	assert.True(t, blocked)
	assert.Contains(t, reason, "Resistance Wall")
}

func TestShouldAvoidEntryWeakWallIgnored(t *testing.T) {
	m := testMapper()
	lm := Map{Resistances: []Wall{{Price: 2000.4, Strength: 1, Type: Resistance}}}

	blocked, reason := m.ShouldAvoidEntry(2000.0, broker.Buy, lm)
	assert.False(t, blocked)
	assert.Equal(t, "Clear", reason)
}

func TestShouldAvoidEntrySellIntoSupport(t *testing.T) {
	m := testMapper()
	lm := Map{Supports: []Wall{{Price: 1999.7, Strength: 2, Type: Support}}}

	blocked, _ := m.ShouldAvoidEntry(2000.0, broker.Sell, lm)
	assert.True(t, blocked)

	// A support above the price never blocks a sell.
	lm = Map{Supports: []Wall{{Price: 2000.3, Strength: 5, Type: Support}}}
	blocked, _ = m.ShouldAvoidEntry(2000.0, broker.Sell, lm)
	assert.False(t, blocked)
}

func TestShouldAvoidEntryFarWallIgnored(t *testing.T) {
	m := testMapper()
	// Wall 5.0 above at price 2000: proximity band is 0.6, clear to buy.
	lm := Map{Resistances: []Wall{{Price: 2005.0, Strength: 4, Type: Resistance}}}
	blocked, _ := m.ShouldAvoidEntry(2000.0, broker.Buy, lm)
	assert.False(t, blocked)
}

func TestMapLiquidityEndToEnd(t *testing.T) {
	m := testMapper()
	candles := flatCandles(20, 100)
	// Two swing highs at nearly the same level: they must merge into a
	// single resistance wall of strength 2.
	candles[5].High = 105.00
	candles[12].High = 105.02

	lm := m.MapLiquidity(candles)
	require.NotEmpty(t, lm.Resistances)
	var swing *Wall
	for i := range lm.Resistances {
		if lm.Resistances[i].Price > 104 {
			swing = &lm.Resistances[i]
		}
	}
	require.NotNil(t, swing, "expected a wall at the swing-high level")
	assert.Equal(t, 2, swing.Strength)
	assert.InDelta(t, 105.01, swing.Price, 1e-9)
}
