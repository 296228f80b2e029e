package liquidity

import (
	"fmt"
	"sort"

	"zone_recovery_go/broker"
	"zone_recovery_go/config"
)

// Wall types.
const (
	Support    = "SUPPORT"
	Resistance = "RESISTANCE"
)

// Wall is a clustered price level with historical pivot touches.
type Wall struct {
	Price    float64
	Strength int // pivot-touch count
	Type     string
}

// Map holds the support/resistance walls derived from one candle series.
// Recomputed per request, never persisted.
type Map struct {
	Supports    []Wall
	Resistances []Wall
}

// Mapper detects pivot highs/lows in recent candles and clusters them into
// liquidity walls, then vetoes entries that trade directly into a strong
// nearby wall.
type Mapper struct {
	pivotLookback   int
	clusterPct      float64
	proximityPct    float64
	minWallStrength int
}

// NewMapper builds a mapper from the liquidity tunables.
func NewMapper(cfg *config.LiquidityConfig) *Mapper {
	return &Mapper{
		pivotLookback:   cfg.PivotLookback,
		clusterPct:      cfg.ClusterThresholdPct,
		proximityPct:    cfg.ProximityPct,
		minWallStrength: cfg.MinWallStrength,
	}
}

// FindPivots identifies local highs and lows. Index i is a high pivot when
// high[i] is the maximum of the symmetric window [i-lookback, i+lookback],
// and symmetrically for lows. Series shorter than 2*lookback+1 yield none.
func (m *Mapper) FindPivots(candles []broker.Candle) (highs, lows []float64) {
	if len(candles) < m.pivotLookback*2+1 {
		return nil, nil
	}

	for i := m.pivotLookback; i < len(candles)-m.pivotLookback; i++ {
		isHigh, isLow := true, true
		for j := i - m.pivotLookback; j <= i+m.pivotLookback; j++ {
			if candles[j].High > candles[i].High {
				isHigh = false
			}
			if candles[j].Low < candles[i].Low {
				isLow = false
			}
		}
		if isHigh {
			highs = append(highs, candles[i].High)
		}
		if isLow {
			lows = append(lows, candles[i].Low)
		}
	}
	return highs, lows
}

// MapLiquidity builds the wall map for the given candle series.
func (m *Mapper) MapLiquidity(candles []broker.Candle) Map {
	if len(candles) == 0 {
		return Map{}
	}
	highs, lows := m.FindPivots(candles)
	return Map{
		Resistances: m.clusterLevels(highs, Resistance),
		Supports:    m.clusterLevels(lows, Support),
	}
}

// clusterLevels greedily merges sorted pivot values: a value joins the current
// cluster when it sits within clusterPct of the cluster's anchor price
// relative to the previous value, otherwise the cluster closes as a wall.
func (m *Mapper) clusterLevels(levels []float64, wallType string) []Wall {
	if len(levels) == 0 {
		return nil
	}

	sorted := make([]float64, len(levels))
	copy(sorted, levels)
	sort.Float64s(sorted)

	var walls []Wall
	current := []float64{sorted[0]}
	threshold := sorted[0] * m.clusterPct

	for i := 1; i < len(sorted); i++ {
		if sorted[i]-sorted[i-1] <= threshold {
			current = append(current, sorted[i])
		} else {
			walls = append(walls, makeWall(current, wallType))
			current = []float64{sorted[i]}
			threshold = sorted[i] * m.clusterPct
		}
	}
	walls = append(walls, makeWall(current, wallType))
	return walls
}

func makeWall(levels []float64, wallType string) Wall {
	var sum float64
	for _, l := range levels {
		sum += l
	}
	return Wall{
		Price:    sum / float64(len(levels)),
		Strength: len(levels),
		Type:     wallType,
	}
}

// ShouldAvoidEntry blocks a BUY placed just under a strong resistance wall or
// a SELL placed just over a strong support wall (breakout-trap risk).
func (m *Mapper) ShouldAvoidEntry(currentPrice float64, action broker.Side, liquidityMap Map) (bool, string) {
	proximity := currentPrice * m.proximityPct

	switch action {
	case broker.Buy:
		for _, wall := range liquidityMap.Resistances {
			dist := wall.Price - currentPrice
			if dist > 0 && dist < proximity && wall.Strength >= m.minWallStrength {
				return true, fmt.Sprintf("Blocked: Buying into Resistance Wall @ %.2f (Str: %d)", wall.Price, wall.Strength)
			}
		}
	case broker.Sell:
		for _, wall := range liquidityMap.Supports {
			dist := currentPrice - wall.Price
			if dist > 0 && dist < proximity && wall.Strength >= m.minWallStrength {
				return true, fmt.Sprintf("Blocked: Selling into Support Wall @ %.2f (Str: %d)", wall.Price, wall.Strength)
			}
		}
	}
	return false, "Clear"
}
