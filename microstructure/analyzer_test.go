package microstructure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zone_recovery_go/broker"
)

var t0 = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func feedPrices(a *Analyzer, prices []float64, step time.Duration) {
	for i, p := range prices {
		a.AddTickAt(p, t0.Add(time.Duration(i)*step))
	}
}

func TestPressureInsufficientData(t *testing.T) {
	a := NewAnalyzer(5, 100)
	feedPrices(a, []float64{100, 100.1, 100.2, 100.3}, 100*time.Millisecond)

	m := a.PressureMetrics(0.01)
	assert.Equal(t, StateInsufficientData, m.State)
	assert.Zero(t, m.Score)
	assert.Zero(t, m.Velocity)
}

func TestPressureInstitutionalBuy(t *testing.T) {
	a := NewAnalyzer(5, 100)
	// 10 ticks over 0.9s, +0.10 move at 0.01 point: 10 points * ~11 t/s > 50
	prices := make([]float64, 10)
	for i := range prices {
		prices[i] = 100 + 0.01*float64(i)
	}
	feedPrices(a, prices, 100*time.Millisecond)

	m := a.PressureMetrics(0.01)
	assert.Equal(t, StateInstitutionalBuy, m.State)
	assert.Equal(t, "HIGH", m.Intensity)
	assert.Equal(t, "BUY", m.Dominance)
	assert.Greater(t, m.Score, 50.0)
}

func TestPressureAbsorptionFight(t *testing.T) {
	a := NewAnalyzer(5, 100)
	// 20 ticks in under a second, no net displacement: trap signature.
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = 100.0
		if i%2 == 1 {
			prices[i] = 100.005
		}
	}
	prices[len(prices)-1] = 100.0
	feedPrices(a, prices, 40*time.Millisecond)

	m := a.PressureMetrics(0.01)
	assert.Equal(t, StateAbsorptionFight, m.State)
	assert.Equal(t, "HIGH", m.Intensity)
}

func TestPressureLowLiquidity(t *testing.T) {
	a := NewAnalyzer(30, 100)
	feedPrices(a, []float64{100, 100, 100, 100, 100}, 2*time.Second)

	m := a.PressureMetrics(0.01)
	assert.Equal(t, StateLowLiquidity, m.State)
	assert.Equal(t, "LOW", m.Intensity)
}

func TestWindowPruning(t *testing.T) {
	a := NewAnalyzer(5, 100)
	for i := 0; i < 10; i++ {
		a.AddTickAt(100, t0.Add(time.Duration(i)*time.Second))
	}
	// Only samples within the last 5 seconds of the newest insert survive.
	a.mu.Lock()
	n := len(a.ticks)
	a.mu.Unlock()
	assert.Equal(t, 6, n)
}

func flowTick(bid, ask, last, volume float64) *broker.Tick {
	return &broker.Tick{Bid: bid, Ask: ask, Last: last, Volume: volume, Time: t0}
}

func TestOrderFlowTradeClassification(t *testing.T) {
	a := NewAnalyzer(5, 100)

	// Trade at the ask: buyer-initiated.
	f := a.AnalyzeOrderFlow(flowTick(100.00, 100.02, 100.02, 3))
	assert.Equal(t, 3.0, f.BuyVolume)
	assert.Zero(t, f.SellVolume)

	// Trade at the bid: seller-initiated.
	f = a.AnalyzeOrderFlow(flowTick(100.00, 100.02, 100.00, 2))
	assert.Equal(t, 3.0, f.BuyVolume)
	assert.Equal(t, 2.0, f.SellVolume)

	// Inside the spread: split evenly.
	f = a.AnalyzeOrderFlow(flowTick(100.00, 100.02, 100.01, 4))
	assert.Equal(t, 5.0, f.BuyVolume)
	assert.Equal(t, 4.0, f.SellVolume)
	assert.InDelta(t, (5.0-4.0)/9.0, f.Imbalance, 1e-12)
}

func TestOrderFlowQuoteClassification(t *testing.T) {
	a := NewAnalyzer(5, 100)

	// First quote seeds the mid: no drift, split.
	f := a.AnalyzeOrderFlow(flowTick(100.00, 100.02, 0, 2))
	assert.Equal(t, 1.0, f.BuyVolume)
	assert.Equal(t, 1.0, f.SellVolume)

	// Mid up: buy.
	f = a.AnalyzeOrderFlow(flowTick(100.02, 100.04, 0, 2))
	assert.Equal(t, 3.0, f.BuyVolume)

	// Mid down: sell.
	f = a.AnalyzeOrderFlow(flowTick(99.98, 100.00, 0, 2))
	assert.Equal(t, 3.0, f.SellVolume)
}

func TestOrderFlowEmptyDefaults(t *testing.T) {
	a := NewAnalyzer(5, 100)
	f := a.AnalyzeOrderFlow(nil)
	assert.Zero(t, f.Imbalance)
	assert.Equal(t, 0.5, f.BuyPressure)
	assert.Equal(t, 0.5, f.SellPressure)
}

func TestVPINSuppressedBelowSampleFloor(t *testing.T) {
	a := NewAnalyzer(5, 100)
	// 14 one-sided samples: massive imbalance, still below the floor.
	for i := 0; i < 14; i++ {
		a.AnalyzeOrderFlow(flowTick(100.00, 100.02, 100.02, 5))
	}
	assert.Zero(t, a.VPIN())

	// The 15th sample crosses the floor; fully one-sided flow reads 1.0.
	a.AnalyzeOrderFlow(flowTick(100.00, 100.02, 100.02, 5))
	assert.InDelta(t, 1.0, a.VPIN(), 1e-12)
}

func TestVolumeRingEviction(t *testing.T) {
	a := NewAnalyzer(5, 3)
	for i := 0; i < 5; i++ {
		a.AnalyzeOrderFlow(flowTick(100.00, 100.02, 100.02, float64(i+1)))
	}
	f := a.AnalyzeOrderFlow(nil)
	// Only the last three volumes (3, 4, 5) remain.
	assert.Equal(t, 12.0, f.BuyVolume)
}

func TestReynoldsRequiresSamplesAndSpread(t *testing.T) {
	a := NewAnalyzer(5, 100)
	assert.Zero(t, a.ReynoldsNumber(2, 1))

	feedPrices(a, []float64{100, 101}, 100*time.Millisecond)
	// Two samples: no std estimate, zero volatility.
	assert.Zero(t, a.ReynoldsNumber(2, 1))

	a2 := NewAnalyzer(5, 100)
	feedPrices(a2, []float64{100, 101, 100}, 100*time.Millisecond)
	assert.Zero(t, a2.ReynoldsNumber(0, 1))
}

func TestRegimeBoundaryIsLaminar(t *testing.T) {
	a := NewAnalyzer(5, 100)
	// velocity 5 t/s, population std exactly 2 points, spread 2 points:
	// Re = 5 * 2 * 100 / 2 = 500, which must still read LAMINAR.
	feedPrices(a, []float64{96, 101, 101, 101, 101}, 250*time.Millisecond)

	re := a.ReynoldsNumber(2, 1)
	require.Equal(t, 500.0, re)

	snap := a.Combined(&broker.Tick{Bid: 100, Ask: 102, Time: t0}, 1)
	assert.Equal(t, RegimeLaminar, snap.Regime)
}

func TestRegimeTurbulent(t *testing.T) {
	a := NewAnalyzer(5, 100)
	// Same shape at double the tick rate pushes Re to 1000.
	feedPrices(a, []float64{96, 101, 101, 101, 101}, 125*time.Millisecond)

	snap := a.Combined(&broker.Tick{Bid: 100, Ask: 102, Time: t0}, 1)
	assert.Equal(t, RegimeTurbulent, snap.Regime)
	assert.Greater(t, snap.Reynolds, reynoldsTurbulent)
}

func TestCombinedToxicFlag(t *testing.T) {
	a := NewAnalyzer(5, 100)
	for i := 0; i < 20; i++ {
		a.AnalyzeOrderFlow(flowTick(100.00, 100.02, 100.02, 5))
	}
	snap := a.Combined(flowTick(100.00, 100.02, 0, 1), 0.01)
	assert.True(t, snap.Toxic)
	assert.Greater(t, snap.VPIN, vpinToxicThreshold)
}

func TestNetForce(t *testing.T) {
	assert.Equal(t, 6.0, NetForce(0.5, 12))
	assert.Equal(t, -6.0, NetForce(-0.5, 12))
}
